// Package integration provides end-to-end testing utilities: a scripted HLS
// origin serving master/media playlists and synthetic MPEG-TS segments.
package integration

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/1jammer1/anhelo/internal/mpegts"
)

// annexBPayload is the elementary stream carried by every test segment:
// a baseline SPS (1280x720), a PPS and one IDR slice.
var annexBPayload = []byte{
	0x00, 0x00, 0x01, 0x67, 66, 0x00, 0x1E, 0xF8, 0x02, 0x80, 0x2D,
	0x00, 0x00, 0x01, 0x68, 0xCE, 0x3C, 0x80,
	0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x21, 0xA0,
}

// Origin is a scripted HLS origin server. It serves one master playlist,
// a sequence of media playlist pages (then 404s to end the stream) and
// TS-framed segments, while recording which segments were requested.
type Origin struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	pages     [][]string
	page      int
	requested []string
}

// NewOrigin creates an origin serving the given media playlist pages in
// order. Each page is a list of segment names.
func NewOrigin(t *testing.T, pages [][]string) *Origin {
	t.Helper()

	o := &Origin{t: t, pages: pages}
	o.server = httptest.NewServer(http.HandlerFunc(o.handle))
	t.Cleanup(o.server.Close)
	return o
}

// MasterURL returns the master playlist URL.
func (o *Origin) MasterURL() string {
	return o.server.URL + "/master.m3u8"
}

// MediaURL returns the media playlist URL directly.
func (o *Origin) MediaURL() string {
	return o.server.URL + "/live.m3u8"
}

// RequestedSegments returns the segment names fetched so far, in order.
func (o *Origin) RequestedSegments() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.requested...)
}

func (o *Origin) handle(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case r.URL.Path == "/master.m3u8":
		fmt.Fprintf(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720\nlive.m3u8\n")

	case r.URL.Path == "/live.m3u8":
		if o.page >= len(o.pages) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var b strings.Builder
		b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:2\n")
		for _, seg := range o.pages[o.page] {
			b.WriteString("#EXTINF:2.0,\n")
			b.WriteString(seg)
			b.WriteString("\n")
		}
		o.page++
		w.Write([]byte(b.String()))

	case strings.HasSuffix(r.URL.Path, ".ts"):
		o.requested = append(o.requested, strings.TrimPrefix(r.URL.Path, "/"))
		w.Write(tsSegment(annexBPayload))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// tsSegment wraps es in a single video PES packet and packs it into
// 188-byte TS packets on PID 0x100.
func tsSegment(es []byte) []byte {
	pes := []byte{
		0x00, 0x00, 0x01, 0xE0, // start code prefix + video stream_id
		0x00, 0x00, // PES_packet_length, 0 for video
		0x80, 0x00, 0x00, // flags, PES_header_data_length=0
	}
	pes = append(pes, es...)

	var out []byte
	const pid = 0x100
	first := true
	for len(pes) > 0 {
		pkt := make([]byte, mpegts.PacketSize)
		pkt[0] = mpegts.SyncByte
		pkt[1] = byte(pid >> 8 & 0x1F)
		if first {
			pkt[1] |= 0x40 // PUSI
		}
		pkt[2] = byte(pid & 0xFF)

		n := len(pes)
		if n > mpegts.PacketSize-4 {
			pkt[3] = 0x10
			copy(pkt[4:], pes[:mpegts.PacketSize-4])
			pes = pes[mpegts.PacketSize-4:]
		} else {
			// Pad the final packet with an adaptation field.
			afLen := mpegts.PacketSize - 4 - 1 - n
			pkt[3] = 0x30
			pkt[4] = byte(afLen)
			for i := 0; i < afLen; i++ {
				pkt[5+i] = 0xFF
			}
			copy(pkt[5+afLen:], pes)
			pes = nil
		}
		out = append(out, pkt...)
		first = false
	}
	return out
}

// newTestLogger creates a quiet logger for integration tests.
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}
