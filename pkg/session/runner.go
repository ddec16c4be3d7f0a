package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/menta2k/vision-qa/internal/utils"
	"github.com/menta2k/vision-qa/pkg/client"
	"github.com/menta2k/vision-qa/pkg/hfhub"
	"github.com/menta2k/vision-qa/pkg/processing"
	"github.com/menta2k/vision-qa/pkg/types"
)

// ErrImageNotFound is returned when a local image file does not exist
var ErrImageNotFound = errors.New("image file not found")

// ImageSettings controls how images are shrunk before upload
type ImageSettings struct {
	Format  string
	MaxDim  int
	Quality int
}

// Config holds per-run settings
type Config struct {
	Model    string
	Options  types.Options
	Image    ImageSettings
	Stream   bool
	FailFast bool
}

// Runner asks questions about images one at a time and prints the answers
type Runner struct {
	client    client.VisionClient
	processor *processing.Processor
	hub       *hfhub.Client
	out       io.Writer
	logger    zerolog.Logger
	cfg       Config
	runID     string
}

// NewRunner creates a Runner. hub may be nil, in which case hf:// images fail.
func NewRunner(c client.VisionClient, hub *hfhub.Client, out io.Writer, cfg Config, logger zerolog.Logger) *Runner {
	runID := uuid.NewString()
	return &Runner{
		client:    c,
		processor: processing.NewProcessor(),
		hub:       hub,
		out:       out,
		logger:    logger.With().Str("run_id", runID).Str("backend", c.Name()).Logger(),
		cfg:       cfg,
		runID:     runID,
	}
}

// RunID identifies this run in logs and results
func (r *Runner) RunID() string {
	return r.runID
}

// SetMinImageSize rejects images whose shorter side is below n pixels
func (r *Runner) SetMinImageSize(n int) {
	if n > 0 {
		r.processor.SetMinImageSize(n)
	}
}

// Model is the model questions go to unless a suite overrides it
func (r *Runner) Model() string {
	return r.cfg.Model
}

func isLocalPath(source string) bool {
	return !processing.IsURL(source) && !hfhub.IsRef(source)
}

// ResolveImage turns an image reference into a local path or URL,
// downloading hub references into the cache.
func (r *Runner) ResolveImage(ctx context.Context, source string) (string, error) {
	switch {
	case hfhub.IsRef(source):
		if r.hub == nil {
			return "", fmt.Errorf("hub downloads are not configured for %s", source)
		}
		ref, err := hfhub.ParseRef(source)
		if err != nil {
			return "", err
		}
		return r.hub.Fetch(ctx, ref)
	case processing.IsURL(source):
		return source, nil
	default:
		if !utils.FileExists(source) {
			return "", fmt.Errorf("%w: %s", ErrImageNotFound, source)
		}
		return source, nil
	}
}

// LoadImage resolves, reads and prepares an image for the model
func (r *Runner) LoadImage(ctx context.Context, source string) (types.Image, error) {
	location, err := r.ResolveImage(ctx, source)
	if err != nil {
		return types.Image{}, err
	}
	data, err := r.processor.LoadBytes(ctx, location)
	if err != nil {
		return types.Image{}, err
	}
	if err := r.processor.ValidateImage(data); err != nil {
		return types.Image{}, fmt.Errorf("%s: %w", source, err)
	}
	img, err := r.processor.PrepareImageForModel(data, r.cfg.Image.Format, r.cfg.Image.MaxDim, r.cfg.Image.Quality)
	if err != nil {
		return types.Image{}, fmt.Errorf("failed to prepare %s: %w", source, err)
	}
	r.logger.Debug().
		Str("image", source).
		Str("mime", img.MIME).
		Str("size", utils.FormatFileSize(int64(len(img.Data)))).
		Msg("image prepared")
	return img, nil
}

// Ask loads the image and asks a single question about it
func (r *Runner) Ask(ctx context.Context, image, prompt string) (types.Answer, error) {
	img, err := r.LoadImage(ctx, image)
	if err != nil {
		return r.failed(r.cfg.Model, "", image, prompt, err), err
	}
	return r.ask(ctx, r.cfg.Model, "", image, img, prompt)
}

// AskAndPrint is Ask followed by printing the answer the way RunSuite does
func (r *Runner) AskAndPrint(ctx context.Context, image, prompt string) (types.Answer, error) {
	img, err := r.LoadImage(ctx, image)
	if err != nil {
		r.printError(r.cfg.Model, err)
		return r.failed(r.cfg.Model, "", image, prompt, err), err
	}
	return r.askAndPrint(ctx, r.cfg.Model, "", image, img, prompt, "")
}

func (r *Runner) ask(ctx context.Context, model, suite, image string, img types.Image, prompt string) (types.Answer, error) {
	req := &types.Request{
		Model:   model,
		Prompt:  prompt,
		Images:  []types.Image{img},
		Options: r.cfg.Options,
	}
	if r.cfg.Stream {
		req.OnToken = func(s string) {
			_, _ = io.WriteString(r.out, s)
		}
	}

	start := time.Now()
	reply, err := r.client.Ask(ctx, req)
	if err != nil {
		r.logger.Error().Err(err).Str("model", model).Str("image", image).Msg("question failed")
		return r.failed(model, suite, image, prompt, err), err
	}

	r.logger.Info().
		Str("model", reply.Model).
		Str("image", image).
		Dur("duration", reply.Duration).
		Int("prompt_tokens", reply.PromptTokens).
		Int("completion_tokens", reply.CompletionTokens).
		Msg("answer received")

	return types.Answer{
		RunID:    r.runID,
		Suite:    suite,
		Model:    model,
		Image:    image,
		Prompt:   prompt,
		Content:  reply.Content,
		Duration: time.Since(start),
	}, nil
}

func (r *Runner) failed(model, suite, image, prompt string, err error) types.Answer {
	return types.Answer{
		RunID:  r.runID,
		Suite:  suite,
		Model:  model,
		Image:  image,
		Prompt: prompt,
		Error:  err.Error(),
	}
}

// askAndPrint prints a header then the answer. With streaming enabled the
// header goes out first so tokens can follow it directly.
func (r *Runner) askAndPrint(ctx context.Context, model, suite, image string, img types.Image, prompt, label string) (types.Answer, error) {
	if r.cfg.Stream {
		r.printHeader(label)
	}
	ans, err := r.ask(ctx, model, suite, image, img, prompt)
	if err != nil {
		if r.cfg.Stream {
			fmt.Fprintln(r.out)
		}
		r.printError(model, err)
		return ans, err
	}
	if r.cfg.Stream {
		fmt.Fprintln(r.out)
		return ans, nil
	}
	r.printHeader(label)
	fmt.Fprintln(r.out, ans.Content)
	return ans, nil
}

func (r *Runner) printHeader(label string) {
	if label == "" {
		fmt.Fprintln(r.out, "Model response:")
		return
	}
	fmt.Fprintf(r.out, "Model response %s:\n", label)
}

func (r *Runner) printError(model string, err error) {
	if errors.Is(err, ErrImageNotFound) {
		fmt.Fprintf(r.out, "%v\n", err)
		return
	}
	fmt.Fprintf(r.out, "error calling %s server: %v\n", r.client.Name(), err)
	fmt.Fprintf(r.out, "make sure the %s server is running and the %s model is available.\n", r.client.Name(), model)
}

// RunSuite asks every prompt of every question in order, printing each answer.
// Failures are printed and recorded; the run only stops early on context
// cancellation or when FailFast is set.
func (r *Runner) RunSuite(ctx context.Context, suite types.Suite) ([]types.Answer, error) {
	if err := ValidateSuite(suite); err != nil {
		return nil, err
	}
	model := r.cfg.Model
	if suite.Model != "" {
		model = suite.Model
	}

	log := r.logger.With().Str("suite", suite.Name).Str("model", model).Logger()
	log.Info().Int("questions", len(suite.Questions)).Msg("running suite")

	var answers []types.Answer
	for _, q := range suite.Questions {
		if err := ctx.Err(); err != nil {
			return answers, err
		}

		img, err := r.LoadImage(ctx, q.Image)
		if err != nil {
			r.printError(model, err)
			for _, p := range q.Prompts {
				answers = append(answers, r.failed(model, suite.Name, q.Image, p, err))
			}
			if r.cfg.FailFast {
				return answers, err
			}
			continue
		}

		// a question asked in several phrasings labels each answer
		labelled := len(q.Prompts) > 1
		for _, p := range q.Prompts {
			if err := ctx.Err(); err != nil {
				return answers, err
			}
			label := ""
			if labelled {
				label = oneLine(p)
			}
			ans, err := r.askAndPrint(ctx, model, suite.Name, q.Image, img, p, label)
			answers = append(answers, ans)
			if err != nil && (r.cfg.FailFast || ctx.Err() != nil) {
				return answers, err
			}
		}
	}

	failed := 0
	for _, a := range answers {
		if a.Failed() {
			failed++
		}
	}
	log.Info().Int("answers", len(answers)).Int("failed", failed).Msg("suite finished")
	return answers, nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
