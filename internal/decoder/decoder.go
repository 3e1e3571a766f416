// Package decoder provides a placeholder decoder sink. It tracks parameter
// sets, recovers picture dimensions from baseline SPS units and counts
// slices as synthetic frames; it performs no macroblock decoding and
// reconstructs no pixels.
package decoder

import (
	"log/slog"
	"sync"

	"github.com/1jammer1/anhelo/internal/nal"
)

// Decoder consumes the ordered NAL unit stream. It is safe for the status
// server to read its counters while the streaming loop feeds it.
type Decoder struct {
	logger *slog.Logger

	// maxFrames stops the stream after that many frames; 0 means never.
	maxFrames int

	mu       sync.Mutex
	haveSPS  bool
	havePPS  bool
	dims     nal.Dimensions
	haveDims bool
	frames   int
	units    int
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxFrames stops the stream after n frames. Zero disables the limit.
func WithMaxFrames(n int) Option {
	return func(d *Decoder) { d.maxFrames = n }
}

// New creates a decoder sink.
func New(logger *slog.Logger, opts ...Option) *Decoder {
	d := &Decoder{logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnNAL implements the stream sink. It reports whether streaming should
// continue; it returns false once the configured frame limit is reached.
func (d *Decoder) OnNAL(u nal.Unit) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.units++

	switch u.Type {
	case nal.TypeSPS:
		d.haveSPS = true
		if dims, ok := nal.ParseSPS(u.Payload); ok {
			if !d.haveDims || dims != d.dims {
				d.logger.Info("picture dimensions", "width", dims.Width, "height", dims.Height)
			}
			d.dims = dims
			d.haveDims = true
		} else {
			// Non-baseline profile: dimensions stay unknown rather
			// than guessed.
			d.logger.Debug("sps without decodable dimensions")
		}

	case nal.TypePPS:
		d.havePPS = true

	case nal.TypeSlice, nal.TypeIDR:
		if !d.haveSPS || !d.havePPS {
			d.logger.Debug("slice before parameter sets, dropping", "type", u.Type.String())
			return true
		}
		d.frames++
		if u.Type == nal.TypeIDR {
			d.logger.Debug("synthetic frame", "frame", d.frames, "idr", true)
		}
		if d.maxFrames > 0 && d.frames >= d.maxFrames {
			d.logger.Info("frame limit reached", "frames", d.frames)
			return false
		}
	}
	return true
}

// Frames returns the number of slices counted as frames so far.
func (d *Decoder) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Dimensions returns the last SPS-derived picture dimensions, if any
// baseline SPS has been observed.
func (d *Decoder) Dimensions() (nal.Dimensions, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dims, d.haveDims
}

// Units returns the total number of NAL units observed.
func (d *Decoder) Units() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.units
}
