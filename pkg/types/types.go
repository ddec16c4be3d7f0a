package types

import "time"

// Options holds generation parameters passed through to the model runtime.
// Zero values mean "use the server default".
type Options struct {
	Temperature float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	TopP        float64 `json:"top_p,omitempty" mapstructure:"top_p"`
	NumCtx      int     `json:"num_ctx,omitempty" mapstructure:"num_ctx"`
	MaxTokens   int     `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
}

// Image is an encoded image ready to be sent to a model
type Image struct {
	Data []byte
	MIME string
}

// Request is a single user turn: a prompt plus zero or more images
type Request struct {
	Model   string
	Prompt  string
	Images  []Image
	Options Options

	// OnToken, when set, switches the backend to streaming and receives
	// each content delta as it arrives.
	OnToken func(string)
}

// Reply is the assistant's answer to a Request
type Reply struct {
	Model            string        `json:"model"`
	Content          string        `json:"content"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// Question pairs an image reference with the prompts to ask about it.
// Image may be a file path, an http(s) URL or an hf://org/repo/file reference.
type Question struct {
	Image   string   `json:"image" yaml:"image"`
	Prompts []string `json:"prompts" yaml:"prompts"`
}

// Suite is an ordered list of questions run against one model
type Suite struct {
	Name      string     `json:"name" yaml:"name"`
	Model     string     `json:"model,omitempty" yaml:"model,omitempty"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Answer records the outcome of one prompt
type Answer struct {
	RunID    string        `json:"run_id"`
	Suite    string        `json:"suite,omitempty"`
	Model    string        `json:"model"`
	Image    string        `json:"image"`
	Prompt   string        `json:"prompt"`
	Content  string        `json:"content,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the prompt produced an error instead of content
func (a Answer) Failed() bool {
	return a.Error != ""
}
