package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/menta2k/vision-qa/pkg/session"
	"github.com/menta2k/vision-qa/pkg/types"
)

const chatHelp = `Type a question about the current image and press enter.
  :image <path>   switch to another image
  :help           show this help
  :quit           leave (Ctrl-D works too)`

func chatCmd() *cobra.Command {
	var (
		image string
		out   string
		opts  runOptions
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions about an image interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stdout := cmd.OutOrStdout()
			r, err := newRunner(ctx, stdout, opts)
			if err != nil {
				return err
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt: "> ",
				Stdout: stdout,
				Stderr: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer func() {
				_ = rl.Close()
			}()

			answers := chatLoop(ctx, rl, r, stdout, image)
			return writeResults(out, answers)
		},
	}

	cmd.Flags().StringVarP(&image, "image", "i", defaultImage, "image file, URL or hf:// reference")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write answers as JSON to this file on exit")
	opts.register(cmd, 0)
	return cmd
}

// lineReader is the part of readline.Instance the chat loop needs
type lineReader interface {
	Readline() (string, error)
}

// chatLoop asks each line as a question about the current image until EOF,
// :quit or cancellation, and returns the answers collected
func chatLoop(ctx context.Context, lines lineReader, r *session.Runner, out io.Writer, image string) []types.Answer {
	fmt.Fprintf(out, "image: %s\n%s\n", image, chatHelp)

	var answers []types.Answer
	for {
		line, err := lines.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil { // io.EOF
			return answers
		}
		if ctx.Err() != nil {
			return answers
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ":") {
			command, arg, _ := strings.Cut(line[1:], " ")
			switch command {
			case "quit", "q", "exit":
				return answers
			case "image", "i":
				arg = strings.TrimSpace(arg)
				if arg == "" {
					fmt.Fprintf(out, "image: %s\n", image)
					continue
				}
				if _, err := r.ResolveImage(ctx, arg); err != nil {
					fmt.Fprintln(out, err)
					continue
				}
				image = arg
				fmt.Fprintf(out, "image: %s\n", image)
			case "help", "h":
				fmt.Fprintln(out, chatHelp)
			default:
				fmt.Fprintf(out, "unknown command %q\n", command)
			}
			continue
		}

		ans, _ := r.AskAndPrint(ctx, image, line)
		answers = append(answers, ans)
	}
}
