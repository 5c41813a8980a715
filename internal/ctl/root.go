// Package ctl implements chatctl, which inspects and repairs the local store
// of a stopped chatsync daemon.
package ctl

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/store"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/store/kv"
)

var (
	version = "dev"
	commit  = "unknown"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chatctl",
		Short: "Inspect the local chat cache and offline queue",
		Long: `chatctl reads the store a chatsync daemon persists to disk. Run it
while the daemon is stopped; the store is opened exclusively.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().String("db", "./.chatsync", "local store path")

	root.AddCommand(newConversationsCmd(), newMessagesCmd(), newQueueCmd(), newDropCmd())
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openStore opens the cache under the --db path without creating it.
func openStore(cmd *cobra.Command) (*store.Cache, error) {
	db, _ := cmd.Flags().GetString("db")
	path := filepath.Join(db, "cache")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no store at %s: %w", db, err)
	}
	backend, err := kv.OpenPebble(path)
	if err != nil {
		return nil, err
	}
	cache := store.NewCache(backend)
	if err := cache.EnsureSchema(); err != nil {
		_ = cache.Close()
		return nil, err
	}
	return cache, nil
}
