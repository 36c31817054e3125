package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petervdpas/boombox/internal/app"
	"github.com/petervdpas/boombox/internal/config"
)

const configFile = "boombox.json"

func newPeerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peer <directory>",
		Short: "Run a peer from a directory",
		Long: "Runs one peer. The directory holds the peer's boombox.json (created with defaults\n" +
			"when missing), its identity key and its play history. Different directory = different peer.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absDir, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("invalid peer directory: %w", err)
			}
			if stat, err := os.Stat(absDir); err != nil || !stat.IsDir() {
				return fmt.Errorf("peer directory does not exist: %s", absDir)
			}

			cfgPath := filepath.Join(absDir, configFile)
			cfg, created, err := config.Ensure(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Created default config: %s\n", cfgPath)
			}

			app.PrintPeerBanner(absDir, cfgPath, cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return app.Run(ctx, app.Options{
				PeerDir: absDir,
				CfgPath: cfgPath,
				Cfg:     cfg,
			})
		},
	}
}
