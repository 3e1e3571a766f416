// Package mpegts provides MPEG transport stream packet parsing primitives.
package mpegts

import "fmt"

const (
	// PacketSize is the fixed MPEG-TS packet length in bytes.
	PacketSize = 188

	// SyncByte opens every valid TS packet.
	SyncByte = 0x47

	// pesHeaderMinLen is start code prefix(3) + stream_id(1) +
	// PES_packet_length(2) + flags(2) + PES_header_data_length(1).
	pesHeaderMinLen = 9
)

// Adaptation field control values, byte 3 bits 4-5.
const (
	afcPayloadOnly    = 1
	afcAdaptationOnly = 2
	afcBoth           = 3
)

// Packet is the decoded 4-byte header plus payload of one TS packet.
type Packet struct {
	PID  uint16 // 13-bit packet identifier
	PUSI bool   // payload_unit_start_indicator
	AFC  uint8  // adaptation_field_control

	// Payload is the packet payload after any adaptation field. Nil for
	// adaptation-field-only packets. It aliases the input slice.
	Payload []byte
}

// ParsePacket decodes one 188-byte TS packet. It returns an error for a
// wrong length, a missing sync byte, or an adaptation field whose declared
// length overruns the packet; callers skip such packets and keep going.
func ParsePacket(data []byte) (Packet, error) {
	if len(data) != PacketSize {
		return Packet{}, fmt.Errorf("invalid packet size: %d", len(data))
	}
	if data[0] != SyncByte {
		return Packet{}, fmt.Errorf("invalid sync byte: 0x%02x", data[0])
	}

	pkt := Packet{
		PUSI: data[1]&0x40 != 0,
		PID:  uint16(data[1]&0x1F)<<8 | uint16(data[2]),
		AFC:  (data[3] >> 4) & 0x03,
	}

	if pkt.AFC == afcAdaptationOnly {
		return pkt, nil
	}

	payloadOffset := 4
	if pkt.AFC == afcBoth {
		payloadOffset = 5 + int(data[4])
		if payloadOffset > PacketSize {
			return Packet{}, fmt.Errorf("adaptation field overruns packet: %d", data[4])
		}
	}
	if payloadOffset < PacketSize {
		pkt.Payload = data[payloadOffset:]
	}
	return pkt, nil
}

// IsVideoPESStart reports whether payload begins a PES packet whose stream_id
// is in the video class (0xE0-0xEF).
func IsVideoPESStart(payload []byte) bool {
	return len(payload) >= 6 &&
		payload[0] == 0x00 && payload[1] == 0x00 && payload[2] == 0x01 &&
		payload[3]&0xF0 == 0xE0
}

// StripPESHeader removes the PES header from a payload carrying a PES start:
// the fixed 9 bytes plus PES_header_data_length additional header bytes.
// Returns false when the payload is too short to hold the declared header.
func StripPESHeader(payload []byte) ([]byte, bool) {
	if len(payload) < pesHeaderMinLen {
		return nil, false
	}
	headerLen := pesHeaderMinLen + int(payload[8])
	if len(payload) <= headerLen {
		return nil, false
	}
	return payload[headerLen:], true
}
