package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/relaymesh/runner"
)

var (
	askUser    string
	askSession string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Run a single turn from the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askUser, "user", runner.DefaultUserID, "User ID")
	askCmd.Flags().StringVar(&askSession, "session", "", "Session ID (default: new session)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	reply, err := a.mesh.Chat(cmd.Context(), runner.Request{
		UserID:    askUser,
		SessionID: askSession,
		UserInput: strings.Join(args, " "),
	})
	if err != nil {
		var terr *runner.TurnError
		if errors.As(err, &terr) {
			return fmt.Errorf("%s (error id %s): %w", terr.Apology, terr.ID, terr.Err)
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, reply.Message)
	if len(reply.Sources) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for _, s := range reply.Sources {
			fmt.Fprintf(out, "  • %s\n", s)
		}
	}
	if len(reply.FollowUpQuestions) > 0 {
		fmt.Fprintln(out, "\nYou might also ask:")
		for _, q := range reply.FollowUpQuestions {
			fmt.Fprintf(out, "  - %s\n", q)
		}
	}

	// Persist the session even when the turn did not end in a terminal step.
	_, err = a.mesh.Runner().EndSession(cmd.Context(), reply.SessionID)
	return err
}
