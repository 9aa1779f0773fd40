package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/minidb"
	"github.com/roach88/minidb/internal/codec"
)

// changeResult is one observed change.
type changeResult struct {
	Kind    string `json:"kind"`
	Key     string `json:"key,omitempty"`
	Value   any    `json:"value,omitempty"`
	Version int    `json:"version,omitempty"`
}

func (r changeResult) renderText(w io.Writer) error {
	var err error
	switch {
	case r.Kind == "migrated":
		_, err = fmt.Fprintf(w, "%s %d\n", r.Kind, r.Version)
	case r.Value != nil:
		var data []byte
		if data, err = codec.Encode(r.Value); err == nil {
			_, err = fmt.Fprintf(w, "%s %s %s\n", r.Kind, r.Key, data)
		}
	case r.Key != "":
		_, err = fmt.Fprintf(w, "%s %s\n", r.Kind, r.Key)
	default:
		_, err = fmt.Fprintln(w, r.Kind)
	}
	return err
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print changes as they happen",
		Long: `Print every change made to the database by other processes until
interrupted. Each change is printed as "<kind> <key> <value>" (or one JSON
response per line with --format json).

Example:
  minidb watch --name shop`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}
}

func runWatch(opts *RootOptions, cmd *cobra.Command) error {
	db, _, err := openDB(opts, cmd)
	if err != nil {
		return err
	}
	defer closeDB(db)

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Listeners run while the change is applied, so the value read here is
	// the one the change wrote
	changes := make(chan changeResult, 64)
	unsubscribe := db.Subscribe(func(c minidb.Change) {
		res := changeResult{Kind: c.Kind.String(), Key: c.Key}
		if c.Kind == minidb.ChangeSet {
			if value, ok, err := db.Get(ctx, c.Key); err == nil && ok {
				res.Value = value
			}
		}
		select {
		case changes <- res:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	migrated := make(chan int, 1)
	defer db.OnMigrated(func(v int) {
		select {
		case migrated <- v:
		case <-ctx.Done():
		}
	})()

	formatter := newFormatter(opts, cmd)
	if opts.Format != "json" {
		fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", db.Path())
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-migrated:
			if err := formatter.Success(changeResult{Kind: "migrated", Version: v}); err != nil {
				return err
			}
		case res := <-changes:
			if err := formatter.Success(res); err != nil {
				return err
			}
		}
	}
}
