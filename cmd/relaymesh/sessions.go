package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/relaymesh/runner"
)

var (
	sessionsUser  string
	sessionsLimit int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "List stored sessions, or show the messages of one session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsUser, "user", runner.DefaultUserID, "User ID")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of sessions")
}

func runSessions(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	r := a.mesh.Runner()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		sum, err := r.Session(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("load session %s: %w", args[0], err)
		}
		for _, m := range sum.Messages {
			fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Format(time.DateTime), m.Role, m.Content)
		}
		return nil
	}

	list, err := r.ListSessions(cmd.Context(), sessionsUser, sessionsLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTARTED\tUPDATED\tMESSAGES\tFIRST MESSAGE")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			s.ID,
			s.Timestamp.Format(time.DateTime),
			s.LastUpdated.Format(time.DateTime),
			len(s.Messages),
			truncate(s.FirstMessage, 60),
		)
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
