package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/menta2k/vision-qa/pkg/client"
	"github.com/menta2k/vision-qa/pkg/llamacpp"
	"github.com/menta2k/vision-qa/pkg/ollama"
)

const (
	Ollama   = "ollama"
	LlamaCpp = "llamacpp"
)

// ErrUnknownBackend is returned for a backend name New does not know
var ErrUnknownBackend = errors.New("unknown backend")

// Options selects and configures a backend
type Options struct {
	Name    string
	URL     string
	APIKey  string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Names lists the supported backends
func Names() []string {
	return []string{Ollama, LlamaCpp}
}

// DefaultURL returns where the named backend listens out of the box
func DefaultURL(name string) string {
	switch name {
	case Ollama:
		return ollama.DefaultURL
	case LlamaCpp:
		return llamacpp.DefaultURL
	}
	return ""
}

// New creates the client for opts.Name
func New(opts Options) (client.VisionClient, error) {
	url := opts.URL
	if url == "" {
		url = DefaultURL(opts.Name)
	}

	switch opts.Name {
	case Ollama:
		c, err := ollama.NewClient(url, ollama.WithTimeout(opts.Timeout), ollama.WithLogger(opts.Logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case LlamaCpp:
		llopts := []llamacpp.Option{llamacpp.WithTimeout(opts.Timeout)}
		if opts.APIKey != "" {
			llopts = append(llopts, llamacpp.WithAPIKey(opts.APIKey))
		}
		c, err := llamacpp.NewClient(url, llopts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q (use %q or %q)", ErrUnknownBackend, opts.Name, Ollama, LlamaCpp)
	}
}

// WaitReady pings the server a few times before giving up, so a model
// server that is still starting does not fail the whole run.
func WaitReady(ctx context.Context, c client.VisionClient, attempts uint, logger zerolog.Logger) error {
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(
		func() error {
			return c.Ping(ctx)
		},
		retry.Attempts(attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(5*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Uint("attempt", n+1).Uint("max_attempts", attempts).Str("backend", c.Name()).Msg("server not ready, retrying")
		}),
	)
}
