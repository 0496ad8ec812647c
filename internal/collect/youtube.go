package collect

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/combat-training-ingest/internal/httpx"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

const youtubeThrottleKey = "youtube"

// YouTube searches the YouTube Data API for videos matching a source query.
type YouTube struct {
	fetch       Fetcher
	apiKey      string
	baseURL     string
	minInterval time.Duration
	policy      Policy
}

// NewYouTube builds the video search strategy.
func NewYouTube(fetch Fetcher, opts Options, blocklist *Blocklist) *YouTube {
	return &YouTube{
		fetch:       fetch,
		apiKey:      opts.YouTubeAPIKey,
		baseURL:     strings.TrimRight(opts.YouTubeBaseURL, "/"),
		minInterval: opts.MinInterval,
		policy:      Policy{Blocklist: blocklist, RequireKeywords: true},
	}
}

// Name implements Strategy.
func (y *YouTube) Name() string { return "youtube" }

// Preflight implements Strategy.
func (y *YouTube) Preflight() error {
	if y.apiKey == "" {
		return fmt.Errorf("youtube api key: %w", ingest.ErrMissingCredential)
	}
	return nil
}

type youtubeSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title                string `json:"title"`
			Description          string `json:"description"`
			ChannelTitle         string `json:"channelTitle"`
			PublishedAt          string `json:"publishedAt"`
			DefaultAudioLanguage string `json:"defaultAudioLanguage"`
		} `json:"snippet"`
	} `json:"items"`
}

// youtubeVideo is the normalized provider record kept as the document's raw payload.
type youtubeVideo struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Channel     string `json:"channel"`
	PublishedAt string `json:"publishedAt"`
}

// Collect implements Strategy.
func (y *YouTube) Collect(ctx context.Context, src ingest.ContentSource, limit int) (Result, error) {
	if err := y.Preflight(); err != nil {
		return Result{}, err
	}
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("type", "video")
	q.Set("q", src.Query)
	q.Set("maxResults", strconv.Itoa(min(max(limit*2, 5), 50)))
	q.Set("key", y.apiKey)
	if lang := src.MetaString("language"); lang != "" {
		q.Set("relevanceLanguage", lang)
	}

	var resp youtubeSearchResponse
	err := y.fetch.GetJSON(ctx, httpx.Request{
		URL:         y.baseURL + "/search?" + q.Encode(),
		ThrottleKey: youtubeThrottleKey,
		MinInterval: y.minInterval,
	}, &resp)
	if err != nil {
		return Result{}, fmt.Errorf("youtube search: %w", err)
	}

	candidates := make([]candidate, 0, len(resp.Items))
	for _, item := range resp.Items {
		video := youtubeVideo{
			ID:          strings.TrimSpace(item.ID.VideoID),
			Title:       item.Snippet.Title,
			Description: item.Snippet.Description,
			Channel:     item.Snippet.ChannelTitle,
			PublishedAt: item.Snippet.PublishedAt,
		}
		c := candidate{
			ExternalID:  video.ID,
			Title:       video.Title,
			Description: video.Description,
			Author:      video.Channel,
			Language:    item.Snippet.DefaultAudioLanguage,
			PublishedAt: parseTime([]string{time.RFC3339}, video.PublishedAt),
			Raw:         video,
		}
		if video.ID != "" {
			c.URL = WatchURL(video.ID)
		}
		candidates = append(candidates, c)
	}
	return finalize(src, y.policy, candidates, limit), nil
}

// WatchURL is the canonical watch link for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(videoID)
}

// VideoID extracts the video id from a recognized watch, short, or embed link, or "".
func VideoID(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "youtube.com", "music.youtube.com":
		if u.Path == "/watch" {
			return u.Query().Get("v")
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/"} {
			if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
				return strings.Trim(rest, "/")
			}
		}
	case "youtu.be":
		return strings.Trim(u.Path, "/")
	}
	return ""
}
