package playlist

import (
	"fmt"
	"strconv"
	"strings"
)

// M3U8 tags the parser recognizes. Everything else starting with '#' is
// ignored rather than rejected; real-world playlist producers emit plenty of
// tags this pipeline has no use for.
const (
	tagHeader        = "#EXTM3U"
	tagStreamInf     = "#EXT-X-STREAM-INF:"
	tagExtInf        = "#EXTINF:"
	tagTargetDur     = "#EXT-X-TARGETDURATION:"
	tagMediaSequence = "#EXT-X-MEDIA-SEQUENCE:"
)

// Parse turns one raw M3U8 document into a Playlist. rawURL is the URL the
// document was fetched from; its directory part becomes the BaseURL for
// resolving relative URIs.
//
// The parser is deliberately lenient: malformed individual lines are skipped,
// never abort the parse, and a bad #EXTINF duration yields 0.0 rather than an
// error. A single corrupt line must not lose the remaining valid segments.
func Parse(data []byte, rawURL string) (*Playlist, error) {
	if data == nil {
		return nil, fmt.Errorf("parse playlist: nil input")
	}

	pl := &Playlist{
		Kind:    KindUnknown,
		BaseURL: BaseURL(rawURL),
	}

	// Carried forward across lines until the next URI line consumes it.
	// Repeated URI lines without a fresh #EXTINF reuse the last duration.
	var currentDuration float64

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == tagHeader:
			// Format marker, no state change.

		case strings.HasPrefix(line, tagStreamInf):
			pl.setKind(KindMaster)

		case strings.HasPrefix(line, tagExtInf):
			pl.setKind(KindMedia)
			currentDuration = parseExtInfDuration(line[len(tagExtInf):])

		case strings.HasPrefix(line, tagTargetDur), strings.HasPrefix(line, tagMediaSequence):
			// Kind hints only; the values are not needed downstream.
			pl.setKind(KindMedia)

		case strings.HasPrefix(line, "#"):
			// Unrecognized tag or comment, skip.

		default:
			// Bare URI line: a variant in a master playlist, a segment
			// in a media playlist.
			if pl.Kind == KindMaster {
				pl.Variants = append(pl.Variants, Variant{URI: line})
			} else {
				pl.setKind(KindMedia)
				pl.Segments = append(pl.Segments, Segment{
					URI:      line,
					Duration: currentDuration,
				})
			}
		}
	}

	return pl, nil
}

// setKind locks the playlist kind on the first kind-implying tag. Later
// conflicting tags lose; a playlist is exactly one kind.
func (p *Playlist) setKind(k Kind) {
	if p.Kind == KindUnknown {
		p.Kind = k
	}
}

// parseExtInfDuration extracts the leading float from an #EXTINF argument
// ("9.009,title..."). Garbage parses to 0.0, not an error.
func parseExtInfDuration(arg string) float64 {
	if i := strings.IndexByte(arg, ','); i >= 0 {
		arg = arg[:i]
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
	if err != nil {
		return 0
	}
	return d
}

// BaseURL returns rawURL truncated just after its last '/'. If the URL has no
// slash at all it is returned unchanged.
func BaseURL(rawURL string) string {
	if i := strings.LastIndexByte(rawURL, '/'); i >= 0 {
		return rawURL[:i+1]
	}
	return rawURL
}

// ResolveURI joins a possibly relative URI against a base URL produced by
// BaseURL. Absolute http(s) URIs pass through unchanged.
func ResolveURI(baseURL, uri string) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	return baseURL + uri
}
