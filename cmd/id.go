package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petervdpas/boombox/internal/media"
)

func newIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id <url>",
		Short: "Print the media id a URL maps to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !media.IsValidReference(args[0]) {
				return fmt.Errorf("not a supported youtube url: %q", args[0])
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), media.DeriveID(args[0]))
			return err
		},
	}
}
