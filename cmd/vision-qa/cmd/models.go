package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/menta2k/vision-qa/pkg/ollama"
)

func modelsCmd() *cobra.Command {
	var pull []string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models available on the server",
		Example: `  vision-qa models
  vision-qa models --pull granite3.2-vision`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := newClient()
			if err != nil {
				return err
			}

			if len(pull) > 0 {
				oc, ok := c.(*ollama.Client)
				if !ok {
					return fmt.Errorf("--pull is only supported by the ollama backend, not %s", c.Name())
				}
				for _, m := range pull {
					if err := oc.EnsureModel(ctx, m); err != nil {
						return err
					}
				}
			}

			models, err := c.ListModels(ctx)
			if err != nil {
				return err
			}
			for _, m := range models {
				marker := " "
				if m == cfg.Server.Model || m == cfg.Server.Model+":latest" {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, m)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&pull, "pull", nil, "pull these models first if missing (ollama only)")
	return cmd
}
