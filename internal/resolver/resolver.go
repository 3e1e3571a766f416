// Package resolver turns user input (a playlist URL or a Twitch channel
// name) into the media playlist URL the streaming loop consumes. It owns the
// bandwidth/resolution-aware variant selection for master playlists.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/grafov/m3u8"

	"github.com/1jammer1/anhelo/internal/fetch"
)

// Resolver resolves inputs to media playlist URLs.
type Resolver struct {
	client   *fetch.Client
	logger   *slog.Logger
	strategy Strategy

	// Twitch token exchange configuration.
	httpClient *http.Client
	clientID   string
	gqlURL     string
	usherBase  string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStrategy overrides the default lowest-quality variant selection.
func WithStrategy(s Strategy) Option {
	return func(r *Resolver) { r.strategy = s }
}

// WithClientID overrides the Twitch GraphQL client id.
func WithClientID(id string) Option {
	return func(r *Resolver) { r.clientID = id }
}

// WithGQLEndpoint overrides the Twitch GraphQL endpoint, for tests.
func WithGQLEndpoint(u string) Option {
	return func(r *Resolver) { r.gqlURL = u }
}

// WithUsherBase overrides the Twitch usher base URL, for tests.
func WithUsherBase(u string) Option {
	return func(r *Resolver) { r.usherBase = u }
}

// New creates a resolver that fetches playlists through client.
func New(client *fetch.Client, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		client:   client,
		logger:   logger,
		strategy: Lowest,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		clientID:  defaultClientID,
		gqlURL:    defaultGQLURL,
		usherBase: defaultUsherBase,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve maps input to a media playlist URL. A direct playlist URL is
// fetched and, when it turns out to be a master playlist, narrowed to one
// variant by the configured strategy. Anything that is not an http(s) URL or
// that points at twitch.tv is treated as a Twitch channel and goes through
// the access token exchange first.
func (r *Resolver) Resolve(ctx context.Context, input string) (string, error) {
	playlistURL := input
	if !isHTTP(input) || strings.Contains(input, "twitch.tv/") {
		u, err := r.resolveTwitchChannel(ctx, input)
		if err != nil {
			return "", err
		}
		playlistURL = u
	}
	return r.resolvePlaylist(ctx, playlistURL)
}

// resolvePlaylist fetches playlistURL and, if it is a master playlist, picks
// one variant. Media playlist URLs pass through unchanged.
func (r *Resolver) resolvePlaylist(ctx context.Context, playlistURL string) (string, error) {
	data, err := r.client.Fetch(ctx, playlistURL)
	if err != nil {
		return "", fmt.Errorf("fetch playlist: %w", err)
	}

	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		return "", fmt.Errorf("decode playlist: %w", err)
	}
	if listType != m3u8.MASTER {
		return playlistURL, nil
	}

	master, ok := pl.(*m3u8.MasterPlaylist)
	if !ok || len(master.Variants) == 0 {
		return "", fmt.Errorf("master playlist contains no variants")
	}

	v := r.strategy(master.Variants)
	if v == nil {
		return "", fmt.Errorf("no variant selected")
	}

	variantURL, err := resolveURL(playlistURL, v.URI)
	if err != nil {
		return "", fmt.Errorf("resolve variant URL: %w", err)
	}

	r.logger.Info("selected variant",
		"bandwidth", v.Bandwidth,
		"resolution", v.Resolution,
		"url", variantURL,
	)
	return variantURL, nil
}

// Strategy picks one variant from a master playlist. Variants carry their
// RESOLUTION and BANDWIDTH attributes as parsed by grafov/m3u8.
type Strategy func(variants []*m3u8.Variant) *m3u8.Variant

// Lowest picks the variant with the smallest resolution height, breaking
// ties by bandwidth.
func Lowest(variants []*m3u8.Variant) *m3u8.Variant {
	return pick(variants, func(a, b *m3u8.Variant) bool {
		return rankLess(a, b)
	})
}

// Highest picks the variant with the largest resolution height, breaking
// ties by bandwidth.
func Highest(variants []*m3u8.Variant) *m3u8.Variant {
	return pick(variants, func(a, b *m3u8.Variant) bool {
		return rankLess(b, a)
	})
}

// MaxBandwidth returns a strategy picking the highest-quality variant whose
// BANDWIDTH does not exceed limit, falling back to the lowest variant when
// none fits.
func MaxBandwidth(limit uint32) Strategy {
	return func(variants []*m3u8.Variant) *m3u8.Variant {
		var fitting []*m3u8.Variant
		for _, v := range variants {
			if v != nil && v.Bandwidth <= limit {
				fitting = append(fitting, v)
			}
		}
		if len(fitting) == 0 {
			return Lowest(variants)
		}
		return Highest(fitting)
	}
}

// ParseStrategy maps a CLI quality value to a Strategy: "lowest", "highest"
// or a numeric bandwidth cap in bits per second.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "lowest":
		return Lowest, nil
	case "highest":
		return Highest, nil
	}
	limit, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid quality %q: want lowest, highest or a bandwidth cap", s)
	}
	return MaxBandwidth(uint32(limit)), nil
}

func pick(variants []*m3u8.Variant, less func(a, b *m3u8.Variant) bool) *m3u8.Variant {
	var best *m3u8.Variant
	for _, v := range variants {
		if v == nil {
			continue
		}
		if best == nil || less(v, best) {
			best = v
		}
	}
	return best
}

// rankLess orders variants by resolution height, then bandwidth. Variants
// without a RESOLUTION attribute sort by bandwidth alone.
func rankLess(a, b *m3u8.Variant) bool {
	ha, hb := resolutionHeight(a.Resolution), resolutionHeight(b.Resolution)
	if ha != hb {
		return ha < hb
	}
	return a.Bandwidth < b.Bandwidth
}

// resolutionHeight parses the height out of a "WxH" attribute value.
// Missing or malformed values rank as 0.
func resolutionHeight(res string) int {
	_, h, ok := strings.Cut(res, "x")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(h)
	if err != nil {
		return 0
	}
	return n
}

func isHTTP(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// resolveURL resolves a possibly relative URL against a base URL.
func resolveURL(baseURL, relativeURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	rel, err := url.Parse(relativeURL)
	if err != nil {
		return "", fmt.Errorf("invalid relative URL: %w", err)
	}
	return base.ResolveReference(rel).String(), nil
}
