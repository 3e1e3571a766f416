package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/1jammer1/anhelo/internal/fetch"
	"github.com/1jammer1/anhelo/internal/nal"
)

// annexBSegment is a small elementary-stream segment: SPS, PPS and one IDR
// slice. Segments shorter than 188 bytes bypass the TS demuxer.
var annexBSegment = []byte{
	0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1E,
	0x00, 0x00, 0x01, 0x68, 0xCE,
	0x00, 0x00, 0x01, 0x65, 0x88, 0x84,
}

const nalsPerSegment = 3

// origin is a scripted HLS origin: it serves playlist pages in order, then
// fails playlist fetches so the streaming loop terminates, and records which
// segments were requested.
type origin struct {
	mu       sync.Mutex
	pages    []string
	page     int
	segments []string
}

func (o *origin) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		defer o.mu.Unlock()

		if strings.HasSuffix(r.URL.Path, ".m3u8") {
			if o.page >= len(o.pages) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(o.pages[o.page]))
			o.page++
			return
		}

		o.segments = append(o.segments, strings.TrimPrefix(r.URL.Path, "/"))
		w.Write(annexBSegment)
	})
}

func (o *origin) requestedSegments() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.segments...)
}

func page(uris ...string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:2\n")
	for _, u := range uris {
		b.WriteString("#EXTINF:2.0,\n")
		b.WriteString(u)
		b.WriteString("\n")
	}
	return b.String()
}

func TestRun_ContinuityAcrossSlidingWindow(t *testing.T) {
	o := &origin{pages: []string{
		page("a.ts", "b.ts", "c.ts"),
		page("b.ts", "c.ts", "d.ts"),
	}}
	server := httptest.NewServer(o.handler())
	defer server.Close()

	var delivered int
	sink := SinkFunc(func(u nal.Unit) bool {
		delivered++
		return true
	})

	s := New(fetch.NewClient(), sink, createTestLogger(), WithPollInterval(10*time.Millisecond))
	err := s.Run(context.Background(), server.URL+"/live.m3u8")
	if err == nil {
		t.Fatal("Expected fatal error once playlist pages run out, got nil")
	}
	if errors.Is(err, ErrStopped) {
		t.Fatalf("Expected fatal playlist error, got sink stop: %v", err)
	}

	// First page delivers a,b,c; second page resumes after cursor c and
	// delivers exactly d. No segment is fetched twice.
	want := []string{"a.ts", "b.ts", "c.ts", "d.ts"}
	got := o.requestedSegments()
	if len(got) != len(want) {
		t.Fatalf("Expected segments %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Segment %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if delivered != len(want)*nalsPerSegment {
		t.Errorf("Expected %d NAL units, got %d", len(want)*nalsPerSegment, delivered)
	}

	stats := s.Stats()
	if stats.SegmentsOK != 4 || stats.LastSegmentURI != "d.ts" {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestRun_SinkStopCancelsBeforeNextSegment(t *testing.T) {
	o := &origin{pages: []string{
		page("a.ts", "b.ts", "c.ts"),
	}}
	server := httptest.NewServer(o.handler())
	defer server.Close()

	// Stop on the first NAL of the second segment: exactly one segment's
	// worth of units is delivered and no third segment is fetched.
	var delivered int
	sink := SinkFunc(func(u nal.Unit) bool {
		delivered++
		return delivered <= nalsPerSegment
	})

	s := New(fetch.NewClient(), sink, createTestLogger(), WithPollInterval(10*time.Millisecond))
	err := s.Run(context.Background(), server.URL+"/live.m3u8")
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Expected ErrStopped, got %v", err)
	}

	if delivered != nalsPerSegment+1 {
		t.Errorf("Expected %d sink calls, got %d", nalsPerSegment+1, delivered)
	}
	segs := o.requestedSegments()
	if len(segs) != 2 {
		t.Errorf("Expected loop to halt before fetching a third segment, fetched %v", segs)
	}
}

func TestRun_PlaylistFetchFailureIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := newTestSession()
	if err := s.Run(context.Background(), server.URL+"/live.m3u8"); err == nil {
		t.Fatal("Expected fatal error for playlist fetch failure, got nil")
	}
}

func TestRun_MasterPlaylistIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\nlow.m3u8\n"))
	}))
	defer server.Close()

	s := newTestSession()
	if err := s.Run(context.Background(), server.URL+"/master.m3u8"); err == nil {
		t.Fatal("Expected fatal error for master playlist, got nil")
	}
}

func TestRun_SegmentFailureSkipsAndAdvances(t *testing.T) {
	var mu sync.Mutex
	var playlistServed bool
	var fetched []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		if strings.HasSuffix(r.URL.Path, ".m3u8") {
			if playlistServed {
				w.WriteHeader(http.StatusNotFound) // end the loop
				return
			}
			playlistServed = true
			w.Write([]byte(page("broken.ts", "good.ts")))
			return
		}
		if strings.Contains(r.URL.Path, "broken") {
			fetched = append(fetched, "broken.ts")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fetched = append(fetched, "good.ts")
		w.Write(annexBSegment)
	}))
	defer server.Close()

	var delivered int
	sink := SinkFunc(func(u nal.Unit) bool {
		delivered++
		return true
	})

	s := New(fetch.NewClient(), sink, createTestLogger(), WithPollInterval(10*time.Millisecond))
	if err := s.Run(context.Background(), server.URL+"/live.m3u8"); err == nil {
		t.Fatal("Expected loop to end with fatal playlist error")
	}

	if delivered != nalsPerSegment {
		t.Errorf("Expected only good.ts delivered (%d units), got %d", nalsPerSegment, delivered)
	}

	stats := s.Stats()
	if stats.SegmentsFailed != 1 || stats.SegmentsOK != 1 {
		t.Errorf("Unexpected stats after skip: %+v", stats)
	}
	if stats.LastSegmentURI != "good.ts" {
		t.Errorf("Expected cursor to advance to good.ts, got %s", stats.LastSegmentURI)
	}

	mu.Lock()
	defer mu.Unlock()
	var broken, good int
	for _, f := range fetched {
		switch f {
		case "broken.ts":
			broken++
		case "good.ts":
			good++
		}
	}
	if broken < 2 {
		t.Errorf("Expected broken.ts to be retried, fetched %d times", broken)
	}
	if good != 1 {
		t.Errorf("Expected good.ts fetched once, got %d", good)
	}
}

func TestRun_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".m3u8") {
			w.Write([]byte(page("a.ts")))
			return
		}
		w.Write(annexBSegment)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s := newTestSession(WithPollInterval(10 * time.Millisecond))
	err := s.Run(ctx, server.URL+"/live.m3u8")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected context deadline error, got %v", err)
	}
}

func TestParameterSetOrderingSurvivesPipeline(t *testing.T) {
	// A segment with a slice before its parameter sets must still deliver
	// SPS and PPS first.
	seg := []byte{
		0x00, 0x00, 0x01, 0x61, 0x01,
		0x00, 0x00, 0x01, 0x67, 0x42,
		0x00, 0x00, 0x01, 0x68, 0xCE,
	}

	var types []nal.Type
	s := newTestSession()
	s.sink = SinkFunc(func(u nal.Unit) bool {
		types = append(types, u.Type)
		return true
	})

	if err := s.deliverSegment(seg); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	want := []nal.Type{nal.TypeSPS, nal.TypePPS, nal.TypeSlice}
	if len(types) != len(want) {
		t.Fatalf("Expected %d units, got %d", len(want), len(types))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Delivery %d: expected %v, got %v", i, want[i], types[i])
		}
	}
}
