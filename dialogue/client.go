package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/krau/sketchline/apperr"
	"github.com/krau/sketchline/pixel"
)

const (
	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 50
)

type Options struct {
	APIKey string
	// BaseURL overrides the API endpoint, including the version path.
	BaseURL   string
	Model     string
	MaxTokens int
	// Timeout bounds one request. Zero means no limit.
	Timeout time.Duration
}

type Client struct {
	api       *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

func NewClient(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	c := &Client{
		api:       openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		timeout:   opts.Timeout,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	return c
}

// imageURL rebuilds the data URI sent upstream, keeping the caller's media
// type when one was given.
func imageURL(image string) string {
	mediaType := pixel.DataURIMediaType(image)
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	return "data:" + mediaType + ";base64," + pixel.StripDataURI(image)
}

// Generate sends one chat completion and returns the first choice. It does
// not retry.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	const op = "dialogue.Generate"
	if strings.TrimSpace(pixel.StripDataURI(req.Image)) == "" {
		return "", apperr.Errorf(apperr.Invalid, op, "no image data received")
	}
	if !req.Position.InFrame() {
		slog.Warn("Dialogue position outside the frame",
			slog.Float64("x", req.Position.X), slog.Float64("y", req.Position.Y))
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prompt := BuildPrompt(req.PreviousDialogue)
	slog.Debug("Requesting dialogue",
		slog.String("model", c.model),
		slog.Float64("x", req.Position.X), slog.Float64("y", req.Position.Y),
		slog.Bool("reply", req.PreviousDialogue != ""))

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL(req.Image)}},
			},
		}},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", apperr.Errorf(apperr.DialogueRequest, op, "%s", apiErr.Message)
		}
		return "", apperr.E(apperr.DialogueRequest, op, err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Errorf(apperr.DialogueRequest, op, "completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
