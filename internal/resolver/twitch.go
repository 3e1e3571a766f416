package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultGQLURL    = "https://gql.twitch.tv/gql"
	defaultUsherBase = "https://usher.ttvnw.net"

	// Public web player client id, overridable via -client-id.
	defaultClientID = "kimne78kx3ncx6brgo4mv6wki5h1ko"

	// Persisted query hash of the PlaybackAccessToken operation.
	playbackTokenQueryHash = "0828119ded1c13477966434e15800ff57ddacf13ba1911c129dc2200705b0712"
)

// playbackToken is the signature/value pair authorizing usher playlist
// access for one channel.
type playbackToken struct {
	Value     string `json:"value"`
	Signature string `json:"signature"`
}

// resolveTwitchChannel exchanges a channel name for its master playlist URL:
// a PlaybackAccessToken GraphQL call followed by usher URL construction.
func (r *Resolver) resolveTwitchChannel(ctx context.Context, input string) (string, error) {
	channel := channelName(input)
	if channel == "" {
		return "", fmt.Errorf("no channel name in %q", input)
	}

	token, err := r.fetchPlaybackToken(ctx, channel)
	if err != nil {
		return "", fmt.Errorf("playback token for %s: %w", channel, err)
	}

	master := fmt.Sprintf(
		"%s/api/channel/hls/%s.m3u8?player=twitchweb&token=%s&sig=%s&allow_source=true&allow_audio_only=true&type=any&p=0",
		r.usherBase, channel, url.QueryEscape(token.Value), url.QueryEscape(token.Signature),
	)

	r.logger.Debug("resolved channel to master playlist", "channel", channel)
	return master, nil
}

// fetchPlaybackToken runs the persisted PlaybackAccessToken query.
func (r *Resolver) fetchPlaybackToken(ctx context.Context, channel string) (*playbackToken, error) {
	payload := map[string]any{
		"operationName": "PlaybackAccessToken",
		"variables": map[string]any{
			"isLive":     true,
			"login":      channel,
			"isVod":      false,
			"vodID":      "",
			"playerType": "embed",
		},
		"extensions": map[string]any{
			"persistedQuery": map[string]any{
				"version":    1,
				"sha256Hash": playbackTokenQueryHash,
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.gqlURL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Client-ID", r.clientID)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gql request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gql request: HTTP %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var decoded struct {
		Data struct {
			StreamPlaybackAccessToken *playbackToken `json:"streamPlaybackAccessToken"`
			VideoPlaybackAccessToken  *playbackToken `json:"videoPlaybackAccessToken"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	token := decoded.Data.StreamPlaybackAccessToken
	if token == nil {
		token = decoded.Data.VideoPlaybackAccessToken
	}
	if token == nil || token.Value == "" || token.Signature == "" {
		return nil, fmt.Errorf("no playback token in response")
	}
	return token, nil
}

// channelName extracts the channel from a bare name or a twitch.tv URL,
// keeping the leading run of [A-Za-z0-9_-] characters.
func channelName(input string) string {
	name := input
	if i := strings.Index(input, "twitch.tv/"); i >= 0 {
		name = input[i+len("twitch.tv/"):]
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		valid := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
			c >= '0' && c <= '9' || c == '_' || c == '-'
		if !valid {
			return name[:i]
		}
	}
	return name
}
