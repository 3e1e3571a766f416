package stream

import (
	"log/slog"
	"os"
	"testing"

	"github.com/1jammer1/anhelo/internal/fetch"
	"github.com/1jammer1/anhelo/internal/nal"
	"github.com/1jammer1/anhelo/internal/playlist"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	}))
}

func newTestSession(opts ...Option) *Session {
	sink := SinkFunc(func(u nal.Unit) bool { return true })
	return New(fetch.NewClient(), sink, createTestLogger(), opts...)
}

func mediaPlaylist(uris ...string) *playlist.Playlist {
	pl := &playlist.Playlist{Kind: playlist.KindMedia, BaseURL: "http://h/a/"}
	for _, u := range uris {
		pl.Segments = append(pl.Segments, playlist.Segment{URI: u, Duration: 2.0})
	}
	return pl
}

func TestStartIndex_FirstRefreshProcessesAll(t *testing.T) {
	s := newTestSession()
	if got := s.startIndex(mediaPlaylist("a.ts", "b.ts", "c.ts")); got != 0 {
		t.Errorf("Expected start index 0 on first refresh, got %d", got)
	}
}

func TestStartIndex_ResumesAfterCursor(t *testing.T) {
	// Processed [a,b,c] to cursor c; the refreshed window [b,c,d] must
	// yield exactly [d].
	s := newTestSession()
	s.advanceCursor("c.ts")
	s.lastCount = 3

	pl := mediaPlaylist("b.ts", "c.ts", "d.ts")
	got := s.startIndex(pl)
	if got != 2 {
		t.Fatalf("Expected start index 2, got %d", got)
	}
	if pl.Segments[got].URI != "d.ts" {
		t.Errorf("Expected to resume at d.ts, got %s", pl.Segments[got].URI)
	}
}

func TestStartIndex_StaleCursorFallsBackToLastCount(t *testing.T) {
	// Cursor c scrolled out of the window entirely. With a last-known
	// count of 3 and only 2 segments now visible, the fallback clamps to
	// the current count rather than crashing or going negative.
	s := newTestSession()
	s.advanceCursor("c.ts")
	s.lastCount = 3

	if got := s.startIndex(mediaPlaylist("d.ts", "e.ts")); got != 2 {
		t.Errorf("Expected clamped fallback index 2, got %d", got)
	}
}

func TestStartIndex_StaleCursorWithGrowingWindow(t *testing.T) {
	// A stale cursor with a last count inside the new window resumes at
	// the last count: segments beyond it are the newly observed ones.
	s := newTestSession()
	s.advanceCursor("z.ts")
	s.lastCount = 1

	pl := mediaPlaylist("d.ts", "e.ts", "f.ts")
	if got := s.startIndex(pl); got != 1 {
		t.Errorf("Expected fallback index 1, got %d", got)
	}
}

func TestStartIndex_EmptyPlaylist(t *testing.T) {
	s := newTestSession()
	s.advanceCursor("a.ts")
	s.lastCount = 5

	if got := s.startIndex(mediaPlaylist()); got != 0 {
		t.Errorf("Expected start index 0 for empty playlist, got %d", got)
	}
}
