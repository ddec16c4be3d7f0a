package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/vision-qa/pkg/llamacpp"
	"github.com/menta2k/vision-qa/pkg/ollama"
	"github.com/menta2k/vision-qa/pkg/types"
)

func TestNew(t *testing.T) {
	c, err := New(Options{Name: Ollama, Logger: zerolog.Nop()})
	require.NoError(t, err)
	oc, ok := c.(*ollama.Client)
	require.True(t, ok)
	assert.Equal(t, ollama.DefaultURL, oc.BaseURL())

	c, err = New(Options{Name: LlamaCpp, URL: "http://gpu-box:8080"})
	require.NoError(t, err)
	lc, ok := c.(*llamacpp.Client)
	require.True(t, ok)
	assert.Equal(t, "http://gpu-box:8080/v1", lc.BaseURL())

	_, err = New(Options{Name: "tgi"})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = New(Options{Name: Ollama, URL: "::bad"})
	assert.Error(t, err)
}

func TestDefaultURL(t *testing.T) {
	assert.Equal(t, "http://localhost:11434", DefaultURL(Ollama))
	assert.Equal(t, "http://localhost:8080/v1", DefaultURL(LlamaCpp))
	assert.Empty(t, DefaultURL("other"))
	assert.Equal(t, []string{Ollama, LlamaCpp}, Names())
}

type flakyClient struct {
	failures int
	pings    int
}

func (f *flakyClient) Name() string { return "flaky" }

func (f *flakyClient) Ask(context.Context, *types.Request) (*types.Reply, error) {
	return nil, errors.New("not implemented")
}

func (f *flakyClient) Ping(context.Context) error {
	f.pings++
	if f.pings <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

func (f *flakyClient) ListModels(context.Context) ([]string, error) { return nil, nil }

func TestWaitReady(t *testing.T) {
	c := &flakyClient{failures: 1}
	require.NoError(t, WaitReady(context.Background(), c, 3, zerolog.Nop()))
	assert.Equal(t, 2, c.pings)

	c = &flakyClient{failures: 5}
	err := WaitReady(context.Background(), c, 1, zerolog.Nop())
	assert.EqualError(t, err, "connection refused")
	assert.Equal(t, 1, c.pings)
}
