package nal

// bitReader reads MSB-first bits from a byte slice. It never reads out of
// bounds: once the cursor runs past the available bits every read yields
// zero. Exp-Golomb decoding relies on this graceful underflow.
type bitReader struct {
	data []byte
	pos  int // bit cursor
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) exhausted() bool {
	return r.pos >= len(r.data)*8
}

// readBit returns the next bit, or 0 past the end of the buffer.
func (r *bitReader) readBit() uint32 {
	if r.exhausted() {
		return 0
	}
	b := r.data[r.pos/8]
	bit := (b >> (7 - uint(r.pos%8))) & 1
	r.pos++
	return uint32(bit)
}

// alignByte advances the cursor to the next byte boundary.
func (r *bitReader) alignByte() {
	if rem := r.pos % 8; rem != 0 {
		r.pos += 8 - rem
	}
}

// readUE decodes one unsigned Exp-Golomb value: count leading zero bits (k),
// consume the stop bit, then read k suffix bits; the value is 2^k - 1 +
// suffix. Underflow decodes to 0.
func (r *bitReader) readUE() uint32 {
	var k uint
	for {
		if r.exhausted() {
			return 0
		}
		if r.readBit() == 1 {
			break
		}
		k++
	}

	var suffix uint32
	for i := uint(0); i < k; i++ {
		suffix = suffix<<1 | r.readBit()
	}
	return 1<<k - 1 + suffix
}
