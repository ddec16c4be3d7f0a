package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/menta2k/vision-qa/internal/config"
	"github.com/menta2k/vision-qa/internal/logging"
	"github.com/menta2k/vision-qa/pkg/backend"
	"github.com/menta2k/vision-qa/pkg/client"
	"github.com/menta2k/vision-qa/pkg/hfhub"
	"github.com/menta2k/vision-qa/pkg/session"
	"github.com/menta2k/vision-qa/pkg/types"
)

var (
	configFile string

	cfg    *config.Config
	logger = zerolog.Nop()
)

// flagKeys maps config keys to the persistent flags overriding them
var flagKeys = map[string]string{
	"server.backend": "backend",
	"server.url":     "url",
	"server.model":   "model",
	"log.level":      "log-level",
	"log.format":     "log-format",
}

var RootCmd = &cobra.Command{
	Use:           "vision-qa",
	Short:         "Ask vision-language models questions about images",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := config.New()
		for key, flag := range flagKeys {
			if err := v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flag)); err != nil {
				return err
			}
		}
		var err error
		cfg, err = config.Load(v, configFile)
		if err != nil {
			return err
		}
		var logErr error
		logger, logErr = logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
		if logErr != nil {
			logger.Warn().Err(logErr).Msg("logger setup")
		}
		return nil
	},
}

func init() {
	flags := RootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", fmt.Sprintf("config file (default %s)", config.GetConfigPath()))
	flags.String("backend", "", "model server backend: ollama or llamacpp")
	flags.String("url", "", "model server URL (defaults: ollama=http://localhost:11434, llamacpp=http://localhost:8080/v1)")
	flags.StringP("model", "m", "", "model name (default granite3.2-vision)")
	flags.StringP("log-level", "l", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: console or json")
	RootCmd.DisableAutoGenTag = true

	RootCmd.AddCommand(
		askCmd(),
		batchCmd(),
		chatCmd(),
		modelsCmd(),
		fetchCmd(),
	)
}

// newClient builds the configured backend
func newClient() (client.VisionClient, error) {
	return backend.New(backend.Options{
		Name:    cfg.Server.Backend,
		URL:     cfg.Server.URL,
		APIKey:  cfg.Server.APIKey,
		Timeout: cfg.Server.Timeout,
		Logger:  logger,
	})
}

func newHub() *hfhub.Client {
	return hfhub.New(hfhub.Config{
		Endpoint: cfg.Hub.Endpoint,
		CacheDir: cfg.Hub.CacheDir,
		Token:    cfg.Hub.Token,
		Revision: cfg.Hub.Revision,
	}, logger)
}

// runOptions are the per-command knobs shared by ask, batch and chat
type runOptions struct {
	stream    bool
	failFast  bool
	maxTokens int

	// fallbackMaxTokens applies when neither the flag nor generation.max_tokens is set
	fallbackMaxTokens int
	flags             *pflag.FlagSet
}

func (o *runOptions) register(cmd *cobra.Command, fallbackMaxTokens int) {
	o.fallbackMaxTokens = fallbackMaxTokens
	o.flags = cmd.Flags()
	usage := "maximum tokens to generate (overrides generation.max_tokens)"
	if fallbackMaxTokens > 0 {
		usage = fmt.Sprintf("maximum tokens to generate (overrides generation.max_tokens, which defaults to %d here)", fallbackMaxTokens)
	}
	cmd.Flags().BoolVar(&o.stream, "stream", false, "print tokens as they arrive")
	cmd.Flags().IntVar(&o.maxTokens, "max-tokens", 0, usage)
}

// generation resolves the max-tokens precedence: flag, config, command fallback
func (o runOptions) generation(gen types.Options) types.Options {
	switch {
	case o.flags != nil && o.flags.Changed("max-tokens"):
		gen.MaxTokens = o.maxTokens
	case gen.MaxTokens == 0:
		gen.MaxTokens = o.fallbackMaxTokens
	}
	return gen
}

// newRunner connects to the server and returns a ready Runner
func newRunner(ctx context.Context, out io.Writer, o runOptions) (*session.Runner, error) {
	c, err := newClient()
	if err != nil {
		return nil, err
	}
	if err := backend.WaitReady(ctx, c, cfg.Server.PingAttempts, logger); err != nil {
		return nil, err
	}

	runCfg := session.Config{
		Model:   cfg.Server.Model,
		Options: o.generation(cfg.Generation),
		Image: session.ImageSettings{
			Format:  cfg.Image.SendFormat,
			MaxDim:  cfg.Image.SendSize,
			Quality: cfg.Image.SendQuality,
		},
		Stream:   o.stream,
		FailFast: o.failFast,
	}
	r := session.NewRunner(c, newHub(), out, runCfg, logger)
	r.SetMinImageSize(cfg.Image.MinImageSize)
	return r, nil
}

func writeResults(path string, answers []types.Answer) error {
	if path == "" {
		return nil
	}
	if err := session.WriteResults(path, answers); err != nil {
		return err
	}
	logger.Info().Str("path", path).Msg("results written")
	return nil
}
