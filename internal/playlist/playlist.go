// Package playlist defines the HLS playlist model and the lenient M3U8 parser
// used by the streaming loop.
package playlist

// Kind identifies which flavor of M3U8 document a playlist was parsed from.
// A playlist starts out Unknown and is locked to Master or Media by the first
// tag that implies one; it never changes afterward.
type Kind int

const (
	// KindUnknown means no kind-implying tag has been seen yet.
	KindUnknown Kind = iota

	// KindMaster is a master playlist listing alternate-bitrate variants.
	KindMaster

	// KindMedia is a media playlist listing actual media segments.
	KindMedia
)

// String returns a human-readable kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindMaster:
		return "master"
	case KindMedia:
		return "media"
	default:
		return "unknown"
	}
}

// Segment represents a single media segment entry in a media playlist.
// Order is significant: playlist order is processing order.
type Segment struct {
	// URI is the segment URI exactly as it appeared in the playlist,
	// possibly relative to the playlist's BaseURL.
	URI string

	// Duration is the segment duration in seconds, taken from the nearest
	// preceding #EXTINF tag. Zero if the tag was absent or unparseable.
	Duration float64

	// Encryption metadata. Not populated by the parser yet, but part of
	// the segment shape consumed by the fetch layer.
	IsKeySegment bool
	KeyURL       string
	KeyIV        string
}

// Variant represents a single variant entry in a master playlist.
// Bandwidth/resolution attributes are intentionally not retained here; the
// authoritative variant selector lives in the resolver package.
type Variant struct {
	// URI is the variant playlist URI as it appeared in the document.
	URI string
}

// Playlist is the parsed form of one M3U8 document. It is rebuilt from
// scratch on every playlist refresh and discarded afterward; nothing in it
// survives across refreshes.
type Playlist struct {
	Kind Kind

	// BaseURL is the playlist URL truncated after its last '/', used to
	// resolve relative segment and variant URIs.
	BaseURL string

	// Segments is populated only for media playlists.
	Segments []Segment

	// Variants is populated only for master playlists.
	Variants []Variant
}

// IsMaster reports whether the playlist is a master playlist.
func (p *Playlist) IsMaster() bool {
	return p.Kind == KindMaster
}
