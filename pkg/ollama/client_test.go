package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/vision-qa/pkg/client"
	"github.com/menta2k/vision-qa/pkg/types"
)

var _ client.VisionClient = (*Client)(nil)

type fakeServer struct {
	lastChat api.ChatRequest
	models   []string
	pulled   []string
	reply    []string
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastChat))
		enc := json.NewEncoder(w)
		for i, part := range f.reply {
			resp := api.ChatResponse{
				Model:   f.lastChat.Model,
				Message: api.Message{Role: "assistant", Content: part},
				Done:    i == len(f.reply)-1,
			}
			if resp.Done {
				resp.PromptEvalCount = 12
				resp.EvalCount = 7
			}
			_ = enc.Encode(resp)
		}
		if len(f.reply) == 0 {
			_ = enc.Encode(api.ChatResponse{Model: f.lastChat.Model, Done: true})
		}
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		resp := api.ListResponse{}
		for _, m := range f.models {
			resp.Models = append(resp.Models, api.ListModelResponse{Name: m, Model: m})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/show", func(w http.ResponseWriter, r *http.Request) {
		var req api.ShowRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		for _, m := range f.models {
			if m == req.Model {
				_ = json.NewEncoder(w).Encode(api.ShowResponse{})
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		var req api.PullRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.pulled = append(f.pulled, req.Model)
		enc := json.NewEncoder(w)
		_ = enc.Encode(api.ProgressResponse{Status: "pulling manifest"})
		_ = enc.Encode(api.ProgressResponse{Status: "downloading", Total: 100, Completed: 50})
		_ = enc.Encode(api.ProgressResponse{Status: "success"})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeServer) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL + "/api/chat")
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("http://localhost:11435/api/chat")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11435", c.BaseURL())
	assert.Equal(t, "ollama", c.Name())
	assert.Equal(t, DefaultTimeout, c.timeout)

	c, err = NewClient("")
	require.NoError(t, err)
	assert.Equal(t, DefaultURL, c.BaseURL())

	_, err = NewClient("localhost")
	assert.Error(t, err)
}

func TestAskSendsImageAndPrompt(t *testing.T) {
	f := &fakeServer{reply: []string{"The highest scoring model on ChartQA is Molmo-E with a score of 0.87."}}
	c := newTestClient(t, f)

	reply, err := c.Ask(context.Background(), &types.Request{
		Model:   "granite3.2-vision",
		Prompt:  "What is the highest scoring model on ChartQA and what is its score?",
		Images:  []types.Image{{Data: []byte("png-bytes"), MIME: "image/png"}},
		Options: types.Options{Temperature: 0.2, MaxTokens: 100},
	})
	require.NoError(t, err)

	assert.Equal(t, "granite3.2-vision", reply.Model)
	assert.Contains(t, reply.Content, "Molmo-E")
	assert.Equal(t, 12, reply.PromptTokens)
	assert.Equal(t, 7, reply.CompletionTokens)

	require.Len(t, f.lastChat.Messages, 1)
	msg := f.lastChat.Messages[0]
	assert.Equal(t, "user", msg.Role)
	assert.Equal(t, "What is the highest scoring model on ChartQA and what is its score?", msg.Content)
	require.Len(t, msg.Images, 1)
	assert.Equal(t, []byte("png-bytes"), []byte(msg.Images[0]))

	require.NotNil(t, f.lastChat.Stream)
	assert.False(t, *f.lastChat.Stream)
	assert.InDelta(t, 0.2, f.lastChat.Options["temperature"], 1e-9)
	assert.EqualValues(t, 100, f.lastChat.Options["num_predict"])
}

func TestAskStreaming(t *testing.T) {
	f := &fakeServer{reply: []string{"80", ".5", " kg"}}
	c := newTestClient(t, f)

	var tokens []string
	reply, err := c.Ask(context.Background(), &types.Request{
		Model:   "granite3.2-vision",
		Prompt:  "What is the weight on May 13, 2024?",
		OnToken: func(s string) { tokens = append(tokens, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, "80.5 kg", reply.Content)
	assert.Equal(t, []string{"80", ".5", " kg"}, tokens)
	require.NotNil(t, f.lastChat.Stream)
	assert.True(t, *f.lastChat.Stream)
}

func TestAskEmptyResponse(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)

	_, err := c.Ask(context.Background(), &types.Request{Model: "m", Prompt: "p"})
	assert.ErrorIs(t, err, client.ErrEmptyResponse)
}

func TestPingAndListModels(t *testing.T) {
	f := &fakeServer{models: []string{"granite3.2-vision:latest", "llava:13b"}}
	c := newTestClient(t, f)

	require.NoError(t, c.Ping(context.Background()))

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"granite3.2-vision:latest", "llava:13b"}, models)
}

func TestEnsureModel(t *testing.T) {
	f := &fakeServer{models: []string{"llava:13b"}}
	c := newTestClient(t, f)

	require.NoError(t, c.EnsureModel(context.Background(), "llava:13b"))
	assert.Empty(t, f.pulled)

	require.NoError(t, c.EnsureModel(context.Background(), "granite3.2-vision"))
	assert.Equal(t, []string{"granite3.2-vision"}, f.pulled)
}

func TestChatOptions(t *testing.T) {
	assert.Nil(t, chatOptions(types.Options{}))

	opts := chatOptions(types.Options{Temperature: 0.7, TopP: 0.8, NumCtx: 4096})
	assert.Equal(t, 0.7, opts["temperature"])
	assert.Equal(t, 0.8, opts["top_p"])
	assert.Equal(t, 4096, opts["num_ctx"])
	_, hasPredict := opts["num_predict"]
	assert.False(t, hasPredict)
}

func TestAskServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"granite3.2-vision\" not found, try pulling it first"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.Ask(context.Background(), &types.Request{Model: "granite3.2-vision", Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not found"), err.Error())
}
