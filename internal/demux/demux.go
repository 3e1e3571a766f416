// Package demux implements the minimal MPEG-TS demultiplexer used to recover
// a single H.264 elementary stream from HLS media segments.
//
// This is intentionally not a general TS demuxer: there is no PAT/PMT
// handling, no audio, no PCR clock recovery. The first PID observed carrying
// a video PES start is locked in as the video PID for the segment and
// everything else is ignored.
package demux

import (
	"github.com/1jammer1/anhelo/internal/mpegts"
)

// EmitFunc receives one reassembled PES payload body (PES header already
// stripped). The slice is only valid for the duration of the call. A non-nil
// error stops the demux and is returned to the caller unchanged.
type EmitFunc func(es []byte) error

// IsTransportStream reports whether data looks like an MPEG-TS segment.
// Segments that are not TS-framed are assumed to already be an Annex-B
// elementary stream and bypass the demuxer entirely.
func IsTransportStream(data []byte) bool {
	if len(data) < mpegts.PacketSize {
		return false
	}
	if data[0] == mpegts.SyncByte {
		return true
	}
	_, ok := syncOffset(data)
	return ok
}

// syncOffset scans offsets 0..187 for the first position where the 0x47 sync
// byte recurs at a 188-byte stride across three consecutive packets. This
// tolerates segments with leading garbage before the first TS packet.
func syncOffset(data []byte) (int, bool) {
	for off := 0; off < mpegts.PacketSize; off++ {
		if off+mpegts.PacketSize*3 > len(data) {
			break
		}
		if data[off] == mpegts.SyncByte &&
			data[off+mpegts.PacketSize] == mpegts.SyncByte &&
			data[off+mpegts.PacketSize*2] == mpegts.SyncByte {
			return off, true
		}
	}
	return 0, false
}

// state is the per-segment demux state. It is created fresh for every
// segment and discarded at segment end.
type state struct {
	// videoPID is the locked-in video PID, or -1 until the first PES
	// start with a video stream_id is observed.
	videoPID int

	// pes accumulates exactly one PES payload body at a time.
	pes []byte
}

// Demux walks every 188-byte packet of one segment, reassembles the video
// PID's PES payloads and hands each completed payload body to emit in PID
// arrival order. Corrupt packets are skipped, never fatal; a single bad
// packet must not lose the rest of the segment.
func Demux(data []byte, emit EmitFunc) error {
	off, ok := syncOffset(data)
	if !ok {
		off = 0
	}

	st := &state{videoPID: -1}

	for pos := off; pos+mpegts.PacketSize <= len(data); pos += mpegts.PacketSize {
		pkt, perr := mpegts.ParsePacket(data[pos : pos+mpegts.PacketSize])
		if perr != nil {
			// Shifted or corrupt packet, skip it.
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		// Lock onto the first PID whose payload opens a video PES.
		if st.videoPID == -1 && pkt.PUSI && mpegts.IsVideoPESStart(pkt.Payload) {
			st.videoPID = int(pkt.PID)
		}
		if st.videoPID == -1 || int(pkt.PID) != st.videoPID {
			continue
		}

		// A new payload unit flushes the previous PES buffer first.
		if pkt.PUSI && len(st.pes) > 0 {
			if err := emit(st.pes); err != nil {
				return err
			}
			st.pes = st.pes[:0]
		}

		payload := pkt.Payload
		if pkt.PUSI {
			body, bok := mpegts.StripPESHeader(payload)
			if !bok {
				// Header truncated or longer than the packet;
				// nothing usable in this packet.
				continue
			}
			payload = body
		}
		st.pes = append(st.pes, payload...)
	}

	// Force-flush whatever is left of the final unterminated PES packet.
	if len(st.pes) > 0 {
		if err := emit(st.pes); err != nil {
			return err
		}
	}
	return nil
}
