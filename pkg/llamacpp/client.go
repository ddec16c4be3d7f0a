package llamacpp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/menta2k/vision-qa/pkg/client"
	"github.com/menta2k/vision-qa/pkg/types"
)

// DefaultURL is the OpenAI-compatible root of a stock llama.cpp server
const DefaultURL = "http://localhost:8080/v1"

// DefaultTimeout bounds a single request
const DefaultTimeout = 5 * time.Minute

// Client talks to any OpenAI-compatible chat completions server
// (llama.cpp server, vLLM, LocalAI).
type Client struct {
	client  *openai.Client
	baseURL string
	timeout time.Duration
}

// Option configures a Client
type Option func(*clientOptions)

type clientOptions struct {
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// WithAPIKey sets the bearer token; local servers usually ignore it
func WithAPIKey(key string) Option {
	return func(o *clientOptions) {
		o.apiKey = key
	}
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = hc
	}
}

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewClient creates a client for serverURL. A URL without a path gets /v1 appended.
func NewClient(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultURL
	}
	base, err := normalizeBaseURL(serverURL)
	if err != nil {
		return nil, err
	}

	o := clientOptions{apiKey: "sk-no-key-required", timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: o.timeout}
	}

	cfg := openai.DefaultConfig(o.apiKey)
	cfg.BaseURL = base
	cfg.HTTPClient = o.httpClient

	return &Client{
		client:  openai.NewClientWithConfig(cfg),
		baseURL: base,
		timeout: o.timeout,
	}, nil
}

func normalizeBaseURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid URL %q: scheme and host are required", serverURL)
	}
	path := strings.TrimSuffix(u.Path, "/")
	path = strings.TrimSuffix(path, "/chat/completions")
	if path == "" {
		path = "/v1"
	}
	u.Path = path
	return u.String(), nil
}

// Name identifies the backend
func (c *Client) Name() string {
	return "llamacpp"
}

// BaseURL returns the OpenAI-compatible root requests are sent to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ask sends one user message with its images and returns the reply text
func (c *Client) Ask(ctx context.Context, req *types.Request) (*types.Reply, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	chatReq := buildRequest(req)
	start := time.Now()

	if req.OnToken != nil {
		return c.askStream(ctx, req, chatReq, start)
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, convertError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	text := resp.Choices[0].Message.Content
	if text == "" {
		for _, part := range resp.Choices[0].Message.MultiContent {
			if part.Type == openai.ChatMessagePartTypeText && part.Text != "" {
				text = part.Text
				break
			}
		}
	}
	if strings.TrimSpace(text) == "" {
		return nil, client.ErrEmptyResponse
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &types.Reply{
		Model:            model,
		Content:          text,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Duration:         time.Since(start),
	}, nil
}

func (c *Client) askStream(ctx context.Context, req *types.Request, chatReq openai.ChatCompletionRequest, start time.Time) (*types.Reply, error) {
	chatReq.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, convertError(err)
	}
	defer func() { _ = stream.Close() }()

	var content strings.Builder
	model := req.Model
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, convertError(err)
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			content.WriteString(delta)
			req.OnToken(delta)
		}
	}

	if strings.TrimSpace(content.String()) == "" {
		return nil, client.ErrEmptyResponse
	}
	return &types.Reply{
		Model:    model,
		Content:  content.String(),
		Duration: time.Since(start),
	}, nil
}

// Ping checks the server answers on its models endpoint
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("server not reachable at %s: %w", c.baseURL, convertError(err))
	}
	return nil
}

// ListModels returns the IDs the server advertises
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, convertError(err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// buildRequest puts the prompt first and images after it as data URLs
func buildRequest(req *types.Request) openai.ChatCompletionRequest {
	parts := []openai.ChatMessagePart{
		{
			Type: openai.ChatMessagePartTypeText,
			Text: req.Prompt,
		},
	}
	for _, img := range req.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(img),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	return openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
		Temperature: float32(req.Options.Temperature),
		TopP:        float32(req.Options.TopP),
		MaxTokens:   req.Options.MaxTokens,
	}
}

func dataURL(img types.Image) string {
	mime := img.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func convertError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("server returned status %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("server returned status %d: %w", reqErr.HTTPStatusCode, err)
	}
	return fmt.Errorf("request failed: %w", err)
}
