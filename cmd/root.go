package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultAPI = "http://127.0.0.1:8790"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "boombox",
		Short:         "Shared audio playback for a room of peers",
		Long:          "boombox runs a peer that plays the same track in sync with everyone in its room, and talks to a running peer's local API.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	api := os.Getenv("BOOMBOX_API")
	if api == "" {
		api = defaultAPI
	}
	rootCmd.PersistentFlags().String("api", api, "base URL of the peer's control API (env BOOMBOX_API)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newPeerCmd(),
		newIDCmd(),
		newPlayCmd(),
		newStopCmd(),
		newSeekCmd(),
		newVolumeCmd(),
		newJoinCmd(),
		newLeaveCmd(),
		newStatusCmd(),
		newHistoryCmd(),
		newCacheCmd(),
	)

	return rootCmd
}
