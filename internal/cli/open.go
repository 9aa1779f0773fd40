package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/minidb"
	"github.com/roach88/minidb/internal/config"
	"github.com/roach88/minidb/internal/cuemig"
)

// newFormatter returns the formatter for cmd's output.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
}

// commandContext returns cmd's context, or a background context.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// resolveConfig merges the config file, the environment and the flags
// set on cmd, and validates the result.
func resolveConfig(opts *RootOptions, cmd *cobra.Command) (*config.File, error) {
	f, err := config.Resolve(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	flags := cmd.Flags()
	if flags.Changed("dir") || f.Dir == "" {
		f.Dir = opts.Dir
	}
	if flags.Changed("name") || f.Name == "" {
		f.Name = opts.Name
	}
	if flags.Changed("driver") || f.Driver == "" {
		f.Driver = opts.Driver
	}

	if err := config.Validate(f); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return f, nil
}

// openDB opens and initializes the configured database. The caller must
// close it.
func openDB(opts *RootOptions, cmd *cobra.Command) (*minidb.DB, *config.File, error) {
	f, err := resolveConfig(opts, cmd)
	if err != nil {
		return nil, nil, err
	}

	steps, err := cuemig.CompileAll(f.Migrations)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid migration", err)
	}
	migrations := make(map[int]minidb.MigrationFunc, len(steps))
	for v, fn := range steps {
		migrations[v] = minidb.MigrationFunc(fn)
	}

	cfg := minidb.Config{
		Name:       f.Name,
		Dir:        f.Dir,
		Driver:     f.Driver,
		Version:    f.Version,
		Migrations: migrations,
		Seed:       f.Seed,
		Logger:     slog.Default(),
	}

	var db *minidb.DB
	if opts.Arena != nil {
		db, err = opts.Arena.Open(cfg)
	} else {
		db, err = minidb.Open(cfg)
	}
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid database settings", err)
	}

	slog.Debug("opening database", "path", db.Path(), "version", f.Version)
	if err := db.Ready(commandContext(cmd)); err != nil {
		db.Close()
		return nil, nil, initError(newFormatter(opts, cmd), err)
	}
	return db, f, nil
}

// initError reports a failed initialization.
func initError(formatter *OutputFormatter, err error) error {
	var merr *minidb.Error
	if errors.As(err, &merr) {
		_ = formatter.Error(string(merr.Code), merr.Message, map[string]int{
			"stored":  merr.Stored,
			"version": merr.Version,
		})
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}

	_ = formatter.Error("OPEN_FAILED", err.Error(), nil)
	return WrapExitError(ExitCommandError, "failed to open database", err)
}

// closeDB closes db, logging failures.
func closeDB(db *minidb.DB) {
	if err := db.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
