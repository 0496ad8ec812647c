// Package transcribe calls an OpenAI-compatible speech-to-text endpoint with segment timing.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/combat-training-ingest/internal/httpx"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

// Doer is the subset of httpx.Client the transcriber needs.
type Doer interface {
	Do(ctx context.Context, req httpx.Request) (*httpx.Response, error)
}

// Config configures the transcriber.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MinInterval time.Duration
}

// Client uploads audio files for transcription.
type Client struct {
	do  Doer
	cfg Config
}

// NewClient builds a Client.
func NewClient(do Doer, cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	return &Client{do: do, cfg: cfg}
}

// Preflight reports a missing API key.
func (c *Client) Preflight() error {
	if c.cfg.APIKey == "" {
		return fmt.Errorf("transcription api key: %w", ingest.ErrMissingCredential)
	}
	return nil
}

// Segment is one timed transcript span.
type Segment struct {
	StartSeconds float64 `json:"start"`
	EndSeconds   float64 `json:"end"`
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
}

// Transcript is the decoded provider response.
type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments"`
}

type verboseResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start      float64  `json:"start"`
		End        float64  `json:"end"`
		Text       string   `json:"text"`
		AvgLogprob *float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe uploads the audio file and returns segment-level text.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (Transcript, error) {
	if err := c.Preflight(); err != nil {
		return Transcript{}, err
	}
	body, contentType, err := c.form(audioPath)
	if err != nil {
		return Transcript{}, err
	}
	resp, err := c.do.Do(ctx, httpx.Request{
		Method: http.MethodPost,
		URL:    c.cfg.BaseURL + "/audio/transcriptions",
		Header: http.Header{
			"Authorization": {"Bearer " + c.cfg.APIKey},
			"Content-Type":  {contentType},
		},
		Body:        body,
		ThrottleKey: "openai_audio",
		MinInterval: c.cfg.MinInterval,
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("transcribe audio: %w", err)
	}
	var parsed verboseResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return Transcript{}, fmt.Errorf("decode transcription: %w: %w", ingest.ErrMalformed, err)
	}
	return normalize(parsed), nil
}

func (c *Client) form(audioPath string) ([]byte, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, field := range [][2]string{
		{"model", c.cfg.Model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
	} {
		if err := w.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("write form field: %w", err)
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func normalize(resp verboseResponse) Transcript {
	out := Transcript{Text: strings.TrimSpace(resp.Text), Language: strings.TrimSpace(resp.Language)}
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		out.Segments = append(out.Segments, Segment{
			StartSeconds: s.Start,
			EndSeconds:   max(s.End, s.Start),
			Text:         text,
			Confidence:   SegmentConfidence(s.AvgLogprob),
		})
	}
	if out.Text == "" && len(out.Segments) > 0 {
		texts := make([]string, 0, len(out.Segments))
		for _, s := range out.Segments {
			texts = append(texts, s.Text)
		}
		out.Text = strings.Join(texts, " ")
	}
	return out
}

// SegmentConfidence maps an average log-probability to a clamped confidence. A missing value is 0.
func SegmentConfidence(avgLogprob *float64) float64 {
	if avgLogprob == nil {
		return 0
	}
	return ingest.ClampConfidence(math.Exp(*avgLogprob))
}
