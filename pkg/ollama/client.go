package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/menta2k/vision-qa/pkg/client"
	"github.com/menta2k/vision-qa/pkg/types"
)

// DefaultURL is where a stock Ollama install listens
const DefaultURL = "http://localhost:11434"

// DefaultTimeout applies when the caller's context carries no deadline.
// Vision models on CPU can take minutes per answer.
const DefaultTimeout = 300 * time.Second

// Client wraps the Ollama API client
type Client struct {
	client  *api.Client
	baseURL *url.URL
	timeout time.Duration
	logger  zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = api.NewClient(c.baseURL, hc)
	}
}

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger attaches a logger used for pull progress
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a new Ollama client. The URL may carry a path such as
// /api/chat; only scheme and host are kept.
func NewClient(ollamaURL string, opts ...Option) (*Client, error) {
	if ollamaURL == "" {
		ollamaURL = DefaultURL
	}
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: scheme and host are required", ollamaURL)
	}

	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	c := &Client{
		baseURL: baseURL,
		client:  api.NewClient(baseURL, http.DefaultClient),
		timeout: DefaultTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name identifies the backend
func (c *Client) Name() string {
	return "ollama"
}

// BaseURL returns the server address requests are sent to
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Ask sends one user message with its images and returns the reply text
func (c *Client) Ask(ctx context.Context, req *types.Request) (*types.Reply, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	images := make([]api.ImageData, 0, len(req.Images))
	for _, img := range req.Images {
		images = append(images, api.ImageData(img.Data))
	}

	stream := req.OnToken != nil
	chatReq := &api.ChatRequest{
		Model: req.Model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: req.Prompt,
				Images:  images,
			},
		},
		Stream:  &stream,
		Options: chatOptions(req.Options),
	}

	start := time.Now()
	var content strings.Builder
	var final api.ChatResponse
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			content.WriteString(resp.Message.Content)
			if stream {
				req.OnToken(resp.Message.Content)
			}
		}
		if resp.Done {
			final = resp
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}

	if strings.TrimSpace(content.String()) == "" {
		return nil, client.ErrEmptyResponse
	}

	model := final.Model
	if model == "" {
		model = req.Model
	}
	return &types.Reply{
		Model:            model,
		Content:          content.String(),
		PromptTokens:     final.PromptEvalCount,
		CompletionTokens: final.EvalCount,
		Duration:         time.Since(start),
	}, nil
}

// Ping checks the server is up
func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama not reachable at %s: %w", c.baseURL, err)
	}
	return nil
}

// ListModels returns the names of locally available models
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ollama list error: %w", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// HasModel reports whether the model is present on the server
func (c *Client) HasModel(ctx context.Context, model string) (bool, error) {
	_, err := c.client.Show(ctx, &api.ShowRequest{Model: model})
	if err == nil {
		return true, nil
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("ollama show error: %w", err)
}

// Pull downloads a model, logging progress as it goes
func (c *Client) Pull(ctx context.Context, model string) error {
	lastStatus := ""
	err := c.client.Pull(ctx, &api.PullRequest{Model: model}, func(p api.ProgressResponse) error {
		ev := c.logger.Debug()
		if p.Status != lastStatus {
			ev = c.logger.Info()
			lastStatus = p.Status
		}
		ev = ev.Str("model", model).Str("status", p.Status)
		if p.Total > 0 {
			ev = ev.Int64("completed", p.Completed).Int64("total", p.Total)
		}
		ev.Msg("pulling model")
		return nil
	})
	if err != nil {
		return fmt.Errorf("ollama pull %s: %w", model, err)
	}
	return nil
}

// EnsureModel pulls the model unless it is already present
func (c *Client) EnsureModel(ctx context.Context, model string) error {
	ok, err := c.HasModel(ctx, model)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	c.logger.Info().Str("model", model).Msg("model not found locally, pulling")
	return c.Pull(ctx, model)
}

// chatOptions maps generation options onto Ollama's option names
func chatOptions(o types.Options) map[string]any {
	options := map[string]any{}
	if o.Temperature > 0 {
		options["temperature"] = o.Temperature
	}
	if o.TopP > 0 {
		options["top_p"] = o.TopP
	}
	if o.NumCtx > 0 {
		options["num_ctx"] = o.NumCtx
	}
	if o.MaxTokens > 0 {
		options["num_predict"] = o.MaxTokens
	}
	if len(options) == 0 {
		return nil
	}
	return options
}
