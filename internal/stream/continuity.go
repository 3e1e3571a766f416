package stream

import "github.com/1jammer1/anhelo/internal/playlist"

// startIndex computes where in a freshly refreshed playlist processing should
// resume. If the continuity cursor matches a segment URI exactly, processing
// resumes right after it. If the cursor is empty or has scrolled out of the
// playlist window, it falls back to the previous refresh's segment count,
// clamped to the current count.
//
// The fallback is an at-least-once heuristic: if the sliding window moves by
// more than its own length between two refreshes, segments can be missed or
// re-delivered. Sequence-number tracking would close that gap but needs
// state the cursor model does not carry.
func (s *Session) startIndex(pl *playlist.Playlist) int {
	s.mu.Lock()
	cursor := s.cursor
	s.mu.Unlock()

	if cursor != "" {
		for i, seg := range pl.Segments {
			if seg.URI == cursor {
				return i + 1
			}
		}
	}

	if s.lastCount > len(pl.Segments) {
		return len(pl.Segments)
	}
	return s.lastCount
}
