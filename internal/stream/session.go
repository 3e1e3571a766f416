// Package stream implements the streaming loop: refresh the media playlist,
// determine the not-yet-consumed segments, fetch each one, demux it and
// deliver the extracted NAL units to the decoder sink.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1jammer1/anhelo/internal/demux"
	"github.com/1jammer1/anhelo/internal/fetch"
	"github.com/1jammer1/anhelo/internal/nal"
	"github.com/1jammer1/anhelo/internal/playlist"
)

const defaultPollInterval = 500 * time.Millisecond

// ErrStopped is returned by Run when the sink requested cancellation. It is
// a clean shutdown, distinguished from fatal playlist errors.
var ErrStopped = errors.New("stream: stopped by sink")

// errSinkStop propagates a sink stop through the demux/extract callbacks.
var errSinkStop = errors.New("sink requested stop")

// Sink consumes ordered NAL units, one call per unit, parameter sets first
// within each elementary stream buffer. OnNAL reports whether streaming
// should continue; returning false cancels the session before the next
// network call.
type Sink interface {
	OnNAL(u nal.Unit) bool
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(u nal.Unit) bool

// OnNAL calls f.
func (f SinkFunc) OnNAL(u nal.Unit) bool { return f(u) }

// Stats is a point-in-time snapshot of session progress.
type Stats struct {
	SessionID         string `json:"session_id"`
	PlaylistRefreshes int    `json:"playlist_refreshes"`
	SegmentsOK        int    `json:"segments_ok"`
	SegmentsFailed    int    `json:"segments_failed"`
	NALUnits          int    `json:"nal_units"`
	LastSegmentURI    string `json:"last_segment_uri"`
}

// Session owns the whole pipeline state for one playback: the continuity
// cursor, the fetch client and the sink. Nothing here is global; a process
// may run several sessions, each with its own state.
type Session struct {
	id           string
	client       *fetch.Client
	sink         Sink
	logger       *slog.Logger
	pollInterval time.Duration

	// lastCount is only touched by the loop goroutine.
	lastCount int // segment count of the previous refresh

	// mu guards the fields below; the status server reads them from
	// another goroutine.
	mu        sync.Mutex
	cursor    string // URI of the last attempted segment, "" before the first
	refreshes int
	segOK     int
	segFail   int
	nalCount  int
}

// Option configures a Session.
type Option func(*Session)

// WithPollInterval overrides the default 500ms playlist refresh cadence.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		s.pollInterval = d
	}
}

// New creates a streaming session delivering to sink.
func New(client *fetch.Client, sink Sink, logger *slog.Logger, opts ...Option) *Session {
	s := &Session{
		id:           uuid.NewString(),
		client:       client,
		sink:         sink,
		logger:       logger,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", s.id)
	return s
}

// ID returns the session identifier used on its log lines.
func (s *Session) ID() string { return s.id }

// Run drives the streaming loop until ctx is cancelled, the sink requests a
// stop (ErrStopped) or a playlist fetch/parse failure ends the session.
// Individual segment failures are logged and skipped, never fatal.
func (s *Session) Run(ctx context.Context, playlistURL string) error {
	s.logger.Info("streaming started", "playlist", playlistURL, "pollInterval", s.pollInterval)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pl, err := s.refresh(ctx, playlistURL)
		if err != nil {
			return err
		}

		start := s.startIndex(pl)
		s.logger.Debug("playlist refreshed",
			"segments", len(pl.Segments),
			"startIndex", start,
		)

		for i := start; i < len(pl.Segments); i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.processSegment(ctx, pl, pl.Segments[i]); err != nil {
				if errors.Is(err, errSinkStop) {
					s.logger.Info("sink requested stop")
					return ErrStopped
				}
				return err
			}
		}
		s.lastCount = len(pl.Segments)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// refresh fetches and parses the media playlist. Any failure here is fatal
// to the session; retrying a dead playlist is not this layer's job.
func (s *Session) refresh(ctx context.Context, playlistURL string) (*playlist.Playlist, error) {
	data, err := s.client.Fetch(ctx, playlistURL)
	if err != nil {
		return nil, fmt.Errorf("refresh playlist: %w", err)
	}

	pl, err := playlist.Parse(data, playlistURL)
	if err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}
	if pl.IsMaster() {
		return nil, fmt.Errorf("parse playlist: expected media playlist, got master (resolve a variant first)")
	}

	s.mu.Lock()
	s.refreshes++
	s.mu.Unlock()
	return pl, nil
}

// processSegment fetches one segment and runs it through the demux/extract
// pipeline. The continuity cursor advances whether or not the fetch
// succeeds, so a persistently broken segment is not retried forever.
func (s *Session) processSegment(ctx context.Context, pl *playlist.Playlist, seg playlist.Segment) error {
	url := playlist.ResolveURI(pl.BaseURL, seg.URI)

	data, err := s.client.FetchWithRetry(ctx, url)
	if err != nil {
		s.advanceCursor(seg.URI)
		s.mu.Lock()
		s.segFail++
		s.mu.Unlock()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.logger.Warn("segment fetch failed, skipping", "url", url, "error", err)
		return nil
	}

	if err := s.deliverSegment(data); err != nil {
		s.advanceCursor(seg.URI)
		return err
	}

	s.advanceCursor(seg.URI)
	s.mu.Lock()
	s.segOK++
	s.mu.Unlock()
	s.logger.Debug("segment delivered", "uri", seg.URI, "bytes", len(data), "duration", seg.Duration)
	return nil
}

// advanceCursor records the URI of the segment just attempted.
func (s *Session) advanceCursor(uri string) {
	s.mu.Lock()
	s.cursor = uri
	s.mu.Unlock()
}

// deliverSegment demuxes TS-framed segments into elementary stream buffers
// and extracts NAL units from each; segments without TS framing are assumed
// to already be an Annex-B elementary stream.
func (s *Session) deliverSegment(data []byte) error {
	if demux.IsTransportStream(data) {
		return demux.Demux(data, func(es []byte) error {
			return nal.Extract(es, s.deliver)
		})
	}
	return nal.Extract(data, s.deliver)
}

// deliver hands one NAL unit to the sink and translates a stop request into
// the cancellation error understood by the loop.
func (s *Session) deliver(u nal.Unit) error {
	s.mu.Lock()
	s.nalCount++
	s.mu.Unlock()

	if !s.sink.OnNAL(u) {
		return errSinkStop
	}
	return nil
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		SessionID:         s.id,
		PlaylistRefreshes: s.refreshes,
		SegmentsOK:        s.segOK,
		SegmentsFailed:    s.segFail,
		NALUnits:          s.nalCount,
		LastSegmentURI:    s.cursor,
	}
}
