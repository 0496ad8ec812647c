// Package llm calls an OpenAI-compatible chat completions endpoint for JSON-mode text and
// multimodal extraction.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/combat-training-ingest/internal/httpx"
	"github.com/JakeFAU/combat-training-ingest/internal/ingest"
)

const (
	jsonResponseType = "json_object"
	throttleKey      = "openai"
)

// Poster is the subset of httpx.Client the model clients need.
type Poster interface {
	PostJSON(ctx context.Context, req httpx.Request, in, out any) error
}

// Config captures the runtime settings required to talk to the model endpoint.
type Config struct {
	APIKey      string
	BaseURL     string
	MinInterval time.Duration
}

// Client wraps the chat completions API.
type Client struct {
	post        Poster
	apiKey      string
	baseURL     string
	minInterval time.Duration
}

// NewClient constructs a Client.
func NewClient(post Poster, cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return &Client{
		post:        post,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		baseURL:     base,
		minInterval: cfg.MinInterval,
	}
}

// Preflight reports a missing API key.
func (c *Client) Preflight() error {
	if c.apiKey == "" {
		return fmt.Errorf("model api key: %w", ingest.ErrMissingCredential)
	}
	return nil
}

// Part is one piece of user content: text or an inline JPEG.
type Part struct {
	Text string
	JPEG []byte
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

// chatMessage content is a plain string or a list of typed parts.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// CompleteJSON issues a JSON-only chat completion and returns the raw content.
func (c *Client) CompleteJSON(ctx context.Context, model, systemPrompt string, parts []Part) (string, error) {
	if err := c.Preflight(); err != nil {
		return "", err
	}
	if strings.TrimSpace(model) == "" {
		return "", errors.New("llm complete: model required")
	}
	payload := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent(parts)},
		},
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
	var resp chatResponse
	err := c.post.PostJSON(ctx, httpx.Request{
		URL:         c.baseURL + "/chat/completions",
		Header:      http.Header{"Authorization": {"Bearer " + c.apiKey}},
		ThrottleKey: throttleKey,
		MinInterval: c.minInterval,
	}, payload, &resp)
	if err != nil {
		return "", fmt.Errorf("llm complete: %w", err)
	}
	for _, choice := range resp.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm complete: empty choices: %w", ingest.ErrMalformed)
	}
	first := resp.Choices[0]
	return "", fmt.Errorf("llm complete: empty content (finish_reason=%q, refusal=%q): %w",
		first.FinishReason, first.Message.Refusal, ingest.ErrMalformed)
}

// userContent collapses text-only input to a string and otherwise builds typed parts.
func userContent(parts []Part) any {
	hasImage := false
	for _, p := range parts {
		if len(p.JPEG) > 0 {
			hasImage = true
			break
		}
	}
	if !hasImage {
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n\n")
	}
	out := make([]contentPart, 0, len(parts))
	for _, p := range parts {
		if len(p.JPEG) > 0 {
			out = append(out, contentPart{Type: "image_url", ImageURL: &imageURL{
				URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(p.JPEG),
				Detail: "low",
			}})
			continue
		}
		if p.Text != "" {
			out = append(out, contentPart{Type: "text", Text: p.Text})
		}
	}
	return out
}
