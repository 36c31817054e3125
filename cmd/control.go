package cmd

import (
	"fmt"
	"math"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petervdpas/boombox/internal/cache"
	"github.com/petervdpas/boombox/internal/listen"
	"github.com/petervdpas/boombox/internal/storage"
)

type okResponse struct {
	Status string `json:"status"`
}

type cachedClip struct {
	cache.Entry
	Plays int `json:"plays"`
}

func newPlayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play <url>",
		Short: "Ask the room to play a YouTube URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var resp okResponse
			if err := c.post(cmd.Context(), "/api/listen/play", map[string]string{"url": args[0]}, &resp); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
			return err
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop playback for the room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			return c.post(cmd.Context(), "/api/listen/stop", nil, nil)
		},
	}
}

func newSeekCmd() *cobra.Command {
	var back bool
	seekCmd := &cobra.Command{
		Use:   "seek [--back] <seconds>",
		Short: "Move playback for the room forward (or back) by seconds",
		Long:  "Moves playback forward by seconds. Use --back, or a negative value after --, to move backwards:\n  boombox seek 10\n  boombox seek --back 10\n  boombox seek -- -10",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secs, err := strconv.ParseFloat(args[0], 64)
			if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
				return fmt.Errorf("invalid seconds %q", args[0])
			}
			forward := secs >= 0 && !back
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			return c.post(cmd.Context(), "/api/listen/seek", map[string]any{
				"seconds": math.Abs(secs),
				"forward": forward,
			}, nil)
		},
	}
	seekCmd.Flags().BoolVar(&back, "back", false, "seek backwards")
	return seekCmd
}

func newVolumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "volume <0..1>",
		Short: "Set this peer's output volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseFloat(args[0], 64)
			if err != nil || v < 0 || v > 1 {
				return fmt.Errorf("volume must be a number in 0..1, got %q", args[0])
			}
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var resp struct {
				Volume float64 `json:"volume"`
			}
			if err := c.post(cmd.Context(), "/api/listen/volume", map[string]float64{"volume": v}, &resp); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "volume %.2f\n", resp.Volume)
			return err
		},
	}
}

type sessionResponse struct {
	PeerID    string `json:"peer_id"`
	Room      string `json:"room"`
	Connected bool   `json:"connected"`
	IsMaster  bool   `json:"is_master"`
}

func newJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <room>",
		Short: "Join a room, leaving the current one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var resp sessionResponse
			if err := c.post(cmd.Context(), "/api/listen/join", map[string]string{"room": args[0]}, &resp); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "joined %s\n", resp.Room)
			return err
		},
	}
}

func newLeaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Leave the current room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			return c.post(cmd.Context(), "/api/listen/leave", nil, nil)
		},
	}
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show playback, role and room of the running peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var st listen.Status
			if err := c.get(cmd.Context(), "/api/listen/state", &st); err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, st)
			}
			var sess sessionResponse
			if err := c.get(cmd.Context(), "/api/listen/session", &sess); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			room := sess.Room
			if !st.Connected {
				room = "(none)"
			}
			fmt.Fprintf(w, "room:\t%s\n", room)
			fmt.Fprintf(w, "peer:\t%s\n", sess.PeerID)
			fmt.Fprintf(w, "master:\t%v\n", st.Role.IsMaster)
			fmt.Fprintf(w, "authority:\t%v\n", st.Role.ActsAsAuthority)
			if st.Player.CurrentID != "" {
				fmt.Fprintf(w, "track:\t%s (%s)\n", st.Player.Title, st.Player.CurrentID)
			} else {
				fmt.Fprintf(w, "track:\t-\n")
			}
			fmt.Fprintf(w, "status:\t%s\n", st.Player.Status)
			fmt.Fprintf(w, "playing:\t%v\n", st.Player.Playing)
			fmt.Fprintf(w, "position:\t%s / %s\n", seconds(st.Player.Position), seconds(st.Player.Length))
			fmt.Fprintf(w, "volume:\t%.2f\n", st.Player.Volume)
			return w.Flush()
		},
	}
	statusCmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return statusCmd
}

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recently played tracks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var plays []storage.Play
			if err := c.get(cmd.Context(), fmt.Sprintf("/api/listen/history?limit=%d", limit), &plays); err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, plays)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tID\tTITLE\tROOM\tCACHED")
			for _, p := range plays {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", p.PlayedAt.Local().Format(time.DateTime), p.MediaID, p.Title, p.Room, p.FromCache)
			}
			return w.Flush()
		},
	}
	historyCmd.Flags().IntVar(&limit, "limit", storage.DefaultHistoryLimit, "maximum number of plays")
	historyCmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")

	historyCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget every recorded play",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var resp okResponse
			if err := c.post(cmd.Context(), "/api/listen/history/clear", nil, &resp); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
			return err
		},
	})
	return historyCmd
}

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the running peer's audio cache",
	}

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List cached clips, most recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var entries []cachedClip
			if err := c.get(cmd.Context(), "/api/cache", &entries); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tLENGTH\tSIZE\tPLAYS\tLAST USED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", e.ID, e.Title, seconds(e.Duration.Seconds()), size(e.Size), e.Plays, e.AccessedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached clip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var resp okResponse
			if err := c.post(cmd.Context(), "/api/cache/clear", nil, &resp); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
			return err
		},
	}

	cacheCmd.AddCommand(lsCmd, clearCmd)
	return cacheCmd
}

func seconds(s float64) string {
	d := time.Duration(s * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func size(n int64) string {
	const mb = 1 << 20
	if n >= mb {
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	}
	return fmt.Sprintf("%d KB", n>>10)
}
