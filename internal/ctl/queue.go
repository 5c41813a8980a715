package ctl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/store"
)

var errNotQueued = errors.New("no such queued action")

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List actions waiting in the offline queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer cache.Close()
			return listQueue(cmd.OutOrStdout(), cache, time.Now())
		},
	}
}

func newDropCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "drop <action-id>",
		Short: "Remove an action from the offline queue",
		Long: `drop deletes a queued action so the daemon never replays it. A dropped
send leaves its message in the sending state until the next start marks it
failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				if !term.IsTerminal(int(os.Stdin.Fd())) {
					return errors.New("refusing to drop without --yes on a non-interactive input")
				}
				if !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Drop queued action %s?", args[0])) {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}
			cache, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer cache.Close()
			return dropAction(cmd.OutOrStdout(), cache, args[0])
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func listQueue(w io.Writer, cache *store.Cache, now time.Time) error {
	actions, err := cache.Actions()
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		fmt.Fprintln(w, "queue is empty")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tCONVERSATION\tATTEMPTS\tCREATED\tLAST ERROR")
	for _, a := range actions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			a.ID, a.Kind, a.ConversationID, a.Attempts, a.MaxAttempts, ago(a.CreatedAt, now), preview(a.LastError, 50))
	}
	return tw.Flush()
}

func dropAction(w io.Writer, cache *store.Cache, id string) error {
	actions, err := cache.Actions()
	if err != nil {
		return err
	}
	for _, a := range actions {
		if a.ID != id {
			continue
		}
		if err := cache.DeleteAction(id); err != nil {
			return err
		}
		fmt.Fprintf(w, "dropped %s (%s in %s)\n", a.ID, a.Kind, a.ConversationID)
		return nil
	}
	return fmt.Errorf("%w: %s", errNotQueued, id)
}

// confirm prompts for a yes/no answer; anything but yes declines.
func confirm(in io.Reader, out io.Writer, message string) bool {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s [y/N]: ", message)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		switch strings.TrimSpace(strings.ToLower(line)) {
		case "y", "yes":
			return true
		case "n", "no", "":
			return false
		default:
			fmt.Fprintln(out, "Please enter 'y' or 'n'.")
		}
	}
}
