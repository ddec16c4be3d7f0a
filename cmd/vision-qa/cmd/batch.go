package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/menta2k/vision-qa/pkg/ollama"
	"github.com/menta2k/vision-qa/pkg/session"
	"github.com/menta2k/vision-qa/pkg/types"
)

func batchCmd() *cobra.Command {
	var (
		suiteFile string
		only      []string
		dir       string
		prompts   []string
		out       string
		pull      bool
		list      bool
		opts      runOptions
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run a list of image questions against the model server",
		Long: `Run a list of image questions against the model server, one at a time,
printing each answer. Without --suite or --dir the built-in examples are used:
chartqa, load-balancing and health-table.

A failing question is reported and the run moves on unless --fail-fast is set.`,
		Example: `  vision-qa batch
  vision-qa batch --only health-table --out results.json
  vision-qa batch --suite questions.yaml --pull
  vision-qa batch --dir ./screenshots --question "Describe this image"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			suites, err := selectSuites(suiteFile, dir, prompts, only)
			if err != nil {
				return err
			}
			if list {
				for _, s := range suites {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d questions\n", s.Name, len(s.Questions))
				}
				return nil
			}

			ctx := cmd.Context()
			r, err := newRunner(ctx, cmd.OutOrStdout(), opts)
			if err != nil {
				return err
			}

			if pull {
				if err := pullModels(cmd, r.Model(), suites); err != nil {
					return err
				}
			}

			var answers []types.Answer
			var runErr error
			for _, s := range suites {
				got, err := r.RunSuite(ctx, s)
				answers = append(answers, got...)
				if err != nil {
					runErr = err
					break
				}
			}

			if err := writeResults(out, answers); err != nil {
				return errors.Join(runErr, err)
			}

			sum := session.Summarize(answers)
			logger.Info().Str("run_id", r.RunID()).Int("answers", sum.Total).Int("failed", sum.Failed).Msg("batch finished")
			return runErr
		},
	}

	cmd.Flags().StringVarP(&suiteFile, "suite", "s", "", "YAML file with question suites")
	cmd.Flags().StringSliceVar(&only, "only", nil, "run only the named suites")
	cmd.Flags().StringVar(&dir, "dir", "", "ask --question about every image in this directory")
	cmd.Flags().StringArrayVarP(&prompts, "question", "q", nil, "question for --dir (repeatable)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write answers as JSON to this file")
	cmd.Flags().BoolVar(&pull, "pull", false, "pull missing models first (ollama only)")
	cmd.Flags().BoolVar(&list, "list", false, "list the selected suites and exit")
	cmd.Flags().BoolVar(&opts.failFast, "fail-fast", false, "stop at the first failed question")
	opts.register(cmd, 0)
	cmd.MarkFlagsMutuallyExclusive("suite", "dir")
	return cmd
}

func selectSuites(suiteFile, dir string, prompts, only []string) ([]types.Suite, error) {
	switch {
	case dir != "":
		if len(prompts) == 0 {
			return nil, fmt.Errorf("--dir needs at least one --question")
		}
		s, err := session.SuiteFromDir(dir, prompts...)
		if err != nil {
			return nil, err
		}
		return []types.Suite{s}, nil
	case suiteFile != "":
		suites, err := session.LoadSuites(suiteFile)
		if err != nil {
			return nil, err
		}
		return session.FilterSuites(suites, only)
	default:
		return session.FilterSuites(session.DefaultSuites(), only)
	}
}

// pullModels makes sure every model the suites use exists on an Ollama server
func pullModels(cmd *cobra.Command, defaultModel string, suites []types.Suite) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	oc, ok := c.(*ollama.Client)
	if !ok {
		logger.Warn().Str("backend", c.Name()).Msg("--pull is only supported by the ollama backend")
		return nil
	}

	seen := map[string]bool{}
	models := []string{defaultModel}
	for _, s := range suites {
		if s.Model != "" {
			models = append(models, s.Model)
		}
	}
	for _, m := range models {
		if seen[m] {
			continue
		}
		seen[m] = true
		if err := oc.EnsureModel(cmd.Context(), m); err != nil {
			return err
		}
	}
	return nil
}
