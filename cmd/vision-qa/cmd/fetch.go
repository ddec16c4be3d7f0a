package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/menta2k/vision-qa/pkg/hfhub"
)

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "fetch hf://org/repo/file...",
		Short:   "Download files from the Hugging Face Hub into the local cache",
		Example: "  vision-qa fetch hf://ibm-granite/granite-vision-3.2-2b/example.png",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hub := newHub()
			for _, arg := range args {
				ref, err := hfhub.ParseRef(arg)
				if err != nil {
					return err
				}
				path, err := hub.Fetch(cmd.Context(), ref)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
}
