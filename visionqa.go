// Package visionqa asks vision-language models questions about images.
//
// Inference happens in a model server running next to the program: Ollama,
// or any OpenAI-compatible server such as llama.cpp's. This package sends the
// image and question and returns the model's text answer.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		visionqa "github.com/menta2k/vision-qa"
//	)
//
//	func main() {
//		qa, err := visionqa.New(visionqa.Options{Model: "granite3.2-vision"})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		answer, err := qa.Ask(context.Background(), "example.png",
//			"What is the highest scoring model on ChartQA and what is its score?")
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Println(answer)
//	}
//
// The package consists of these components:
//
//  1. Backends (pkg/ollama, pkg/llamacpp): talk to the model server
//  2. Processing (pkg/processing): loads images and shrinks them for upload
//  3. Hub (pkg/hfhub): fetches hf://org/repo/file images into a local cache
//  4. Session (pkg/session): asks questions one by one and prints answers
//
// The vision-qa command in cmd/vision-qa wraps all of this in a CLI.
package visionqa

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/menta2k/vision-qa/pkg/backend"
	"github.com/menta2k/vision-qa/pkg/client"
	"github.com/menta2k/vision-qa/pkg/hfhub"
	"github.com/menta2k/vision-qa/pkg/session"
	"github.com/menta2k/vision-qa/pkg/types"
)

// Version of the vision-qa library
const Version = "1.0.0"

// Options configures a QA
type Options struct {
	Backend string // "ollama" (default) or "llamacpp"
	URL     string
	Model   string
	Options types.Options
	Logger  *zerolog.Logger
}

// QA provides a high-level interface for asking questions about images
type QA struct {
	client client.VisionClient
	hub    *hfhub.Client
	cfg    session.Config
	logger zerolog.Logger
}

// New creates a QA for the configured backend
func New(opts Options) (*QA, error) {
	if opts.Backend == "" {
		opts.Backend = backend.Ollama
	}
	if opts.Model == "" {
		opts.Model = "granite3.2-vision"
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	c, err := backend.New(backend.Options{Name: opts.Backend, URL: opts.URL, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &QA{
		client: c,
		hub:    hfhub.New(hfhub.Config{}, logger),
		cfg: session.Config{
			Model:   opts.Model,
			Options: opts.Options,
			Image:   session.ImageSettings{Format: "jpg", MaxDim: 1536, Quality: 85},
		},
		logger: logger,
	}, nil
}

// Ask sends the image and question and returns the model's answer.
// image may be a file path, an http(s) URL or an hf:// reference.
func (q *QA) Ask(ctx context.Context, image, question string) (string, error) {
	ans, err := session.NewRunner(q.client, q.hub, io.Discard, q.cfg, q.logger).Ask(ctx, image, question)
	if err != nil {
		return "", err
	}
	return ans.Content, nil
}

// RunSuite asks every question of a suite, printing answers to w
func (q *QA) RunSuite(ctx context.Context, suite types.Suite, w io.Writer) ([]types.Answer, error) {
	return session.NewRunner(q.client, q.hub, w, q.cfg, q.logger).RunSuite(ctx, suite)
}

// Client exposes the underlying backend
func (q *QA) Client() client.VisionClient {
	return q.client
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
