package cmd

import (
	"github.com/spf13/cobra"

	"github.com/menta2k/vision-qa/internal/utils"
	"github.com/menta2k/vision-qa/pkg/session"
	"github.com/menta2k/vision-qa/pkg/types"
)

const (
	defaultImage    = "hf://ibm-granite/granite-vision-3.2-2b/example.png"
	defaultQuestion = "What is the highest scoring model on ChartQA and what is its score?"
)

func askCmd() *cobra.Command {
	var (
		image    string
		question string
		out      string
		opts     runOptions
	)

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Ask one question about an image and print the answer",
		Long: `Ask one question about an image and print the answer.

The image may be a file, an http(s) URL, an hf://org/repo/file reference to a
Hugging Face Hub file, or a directory, in which case every image under it is asked
the same question.`,
		Example: `  vision-qa ask
  vision-qa ask --image table_image.png --question "What is the weight on May 13, 2024?"
  vision-qa ask --backend llamacpp --model granite-vision-3.2-2b --stream`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := newRunner(ctx, cmd.OutOrStdout(), opts)
			if err != nil {
				return err
			}

			var answers []types.Answer
			if utils.DirExists(image) {
				suite, err := session.SuiteFromDir(image, question)
				if err != nil {
					return err
				}
				answers, err = r.RunSuite(ctx, suite)
				if err != nil {
					return err
				}
			} else {
				ans, err := r.AskAndPrint(ctx, image, question)
				answers = append(answers, ans)
				if werr := writeResults(out, answers); werr != nil {
					logger.Error().Err(werr).Msg("failed to write results")
				}
				return err
			}
			return writeResults(out, answers)
		},
	}

	cmd.Flags().StringVarP(&image, "image", "i", defaultImage, "image file, URL, hf:// reference or directory")
	cmd.Flags().StringVarP(&question, "question", "q", defaultQuestion, "question to ask about the image")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write answers as JSON to this file")
	opts.register(cmd, 100)
	return cmd
}
