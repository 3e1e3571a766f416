package nal

const profileBaseline = 66

// Dimensions is the picture geometry recovered from an SPS.
type Dimensions struct {
	Width  int
	Height int
}

// ParseSPS recovers picture dimensions from an SPS payload (NAL header byte
// included). Only the baseline profile is decoded; for any other profile the
// fields needed for dimensions sit behind chroma/scaling syntax this decoder
// does not parse, so it reports ok=false ("dimensions unknown") instead of
// fabricating a value.
func ParseSPS(payload []byte) (Dimensions, bool) {
	if len(payload) < 4 {
		return Dimensions{}, false
	}

	profileIDC := payload[1]
	_ = payload[3] // level_idc, decoded but unused

	if profileIDC != profileBaseline {
		return Dimensions{}, false
	}

	// Bitstream starts after nal header, profile_idc, constraint flags
	// and level_idc.
	r := newBitReader(payload[4:])

	r.readUE() // seq_parameter_set_id
	r.readUE() // log2_max_frame_num_minus4

	pocType := r.readUE()
	if pocType == 0 {
		r.readUE() // log2_max_pic_order_cnt_lsb_minus4
	}

	r.readUE() // max_num_ref_frames
	r.alignByte()

	widthMBs := r.readUE() + 1
	heightMapUnits := r.readUE() + 1

	return Dimensions{
		Width:  int(widthMBs) * 16,
		Height: int(heightMapUnits) * 16,
	}, true
}
