// Package nal extracts H.264 NAL units from elementary stream buffers in
// both Annex-B (start code) and 4-byte length-prefixed encodings.
package nal

// Type is the 5-bit NAL unit type code.
type Type uint8

// NAL unit types the pipeline cares about. Everything else is delivered
// unchanged and classified by its raw code.
const (
	TypeSlice Type = 1
	TypeIDR   Type = 5
	TypeSEI   Type = 6
	TypeSPS   Type = 7
	TypePPS   Type = 8
	TypeAUD   Type = 9
)

// String returns a short name for logging.
func (t Type) String() string {
	switch t {
	case TypeSlice:
		return "slice"
	case TypeIDR:
		return "idr"
	case TypeSEI:
		return "sei"
	case TypeSPS:
		return "sps"
	case TypePPS:
		return "pps"
	case TypeAUD:
		return "aud"
	default:
		return "other"
	}
}

// IsParameterSet reports whether the unit carries decoder parameters that
// must be observed before any slice depending on them.
func (t Type) IsParameterSet() bool {
	return t == TypeSPS || t == TypePPS
}

// Unit is one extracted NAL unit. Payload starts at the NAL header byte and
// borrows from the source buffer: it is valid only until the buffer is
// reused, which in this pipeline means for the duration of one sink call.
type Unit struct {
	Type    Type
	Payload []byte
}

// EmitFunc receives extracted units. A non-nil error stops extraction and is
// returned to the caller unchanged; the streaming loop uses this as its
// cancellation signal.
type EmitFunc func(u Unit) error

// Extract scans one elementary stream buffer for NAL units and delivers them
// to emit in two passes: first every parameter set (SPS, PPS) in encounter
// order, then every remaining unit in encounter order. A decoder must see
// parameter sets before the slices that reference them, and a single PES
// payload may interleave them unfavorably.
func Extract(buf []byte, emit EmitFunc) error {
	var units []Unit
	if hasStartCode(buf) {
		units = scanAnnexB(buf)
	} else {
		units = scanLengthPrefixed(buf)
	}

	for _, u := range units {
		if u.Type.IsParameterSet() {
			if err := emit(u); err != nil {
				return err
			}
		}
	}
	for _, u := range units {
		if !u.Type.IsParameterSet() {
			if err := emit(u); err != nil {
				return err
			}
		}
	}
	return nil
}

// hasStartCode reports whether buf contains any 00 00 01 sequence.
func hasStartCode(buf []byte) bool {
	for i := 0; i+3 <= len(buf); i++ {
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 {
			return true
		}
	}
	return false
}

// findStartCode locates the next 3- or 4-byte start code at or after from.
func findStartCode(buf []byte, from int) (pos, scLen int, ok bool) {
	for i := from; i+3 <= len(buf); i++ {
		if buf[i] != 0 || buf[i+1] != 0 {
			continue
		}
		if buf[i+2] == 1 {
			return i, 3, true
		}
		if i+4 <= len(buf) && buf[i+2] == 0 && buf[i+3] == 1 {
			return i, 4, true
		}
	}
	return 0, 0, false
}

// scanAnnexB splits a start-code-delimited buffer into units. Each unit spans
// from just after its start code to just before the next one (or buffer end).
// Zero-length spans are dropped.
func scanAnnexB(buf []byte) []Unit {
	var units []Unit

	pos, scLen, ok := findStartCode(buf, 0)
	for ok {
		start := pos + scLen
		next, nextLen, nextOK := findStartCode(buf, start)

		end := len(buf)
		if nextOK {
			end = next
		}
		if end > start {
			payload := buf[start:end]
			units = append(units, Unit{
				Type:    Type(payload[0] & 0x1F),
				Payload: payload,
			})
		}
		pos, scLen, ok = next, nextLen, nextOK
	}
	return units
}

// scanLengthPrefixed splits a 4-byte big-endian length-prefixed buffer into
// units. A zero length or a length overrunning the buffer is treated as end
// of stream, not an error.
func scanLengthPrefixed(buf []byte) []Unit {
	var units []Unit

	for i := 0; i+4 <= len(buf); {
		n := int(buf[i])<<24 | int(buf[i+1])<<16 | int(buf[i+2])<<8 | int(buf[i+3])
		if n <= 0 || i+4+n > len(buf) {
			break
		}
		payload := buf[i+4 : i+4+n]
		units = append(units, Unit{
			Type:    Type(payload[0] & 0x1F),
			Payload: payload,
		})
		i += 4 + n
	}
	return units
}
