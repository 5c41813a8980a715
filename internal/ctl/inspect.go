package ctl

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/store"
)

func newConversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List cached conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer cache.Close()
			return listConversations(cmd.OutOrStdout(), cache, time.Now())
		},
	}
}

func newMessagesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "messages <conversation-id>",
		Short: "List cached messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer cache.Close()
			return listMessages(cmd.OutOrStdout(), cache, args[0], limit, time.Now())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show at most the newest n messages (0 for all)")
	return cmd
}

func listConversations(w io.Writer, cache *store.Cache, now time.Time) error {
	convs, err := cache.Conversations()
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(w, "no conversations cached")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tUNREAD\tUPDATED\tLAST MESSAGE")
	for _, c := range convs {
		last := ""
		if c.LastMessage != nil {
			last = preview(c.LastMessage.Content, 40)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", c.ID, c.Kind, c.UnreadCount, ago(c.UpdatedAt, now), last)
	}
	return tw.Flush()
}

func listMessages(w io.Writer, cache *store.Cache, convID string, limit int, now time.Time) error {
	msgs, err := cache.Messages(convID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintf(w, "no messages cached for %s\n", convID)
		return nil
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSENDER\tSTATUS\tSENT\tCONTENT")
	for _, m := range msgs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.SenderID, m.Status, ago(m.Timestamp, now), content(m))
	}
	return tw.Flush()
}

func content(m models.Message) string {
	if m.Kind != models.KindText && m.Media != nil {
		return fmt.Sprintf("[%s] %s", m.Kind, m.Media.URL)
	}
	return preview(m.Content, 60)
}

func ago(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
