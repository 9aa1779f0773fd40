// Package migrate runs schema migration passes over a store.Backend.
//
// A pass moves every stored value from the stored schema version to a
// target version by applying one registered step per intermediate version,
// in increasing order. The transformed values and the new version are
// persisted together, so an interrupted or failed pass leaves the store
// exactly as it was and the next open retries the same pass.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/minidb/internal/codec"
	"github.com/roach88/minidb/internal/store"
)

// Func transforms one value from version v-1 to version v.
type Func func(ctx context.Context, value any) (any, error)

// Plan describes a migration pass.
type Plan struct {
	// Target is the schema version the running code expects.
	Target int

	// Steps maps a version v to the step that produces it from v-1.
	Steps map[int]Func

	// OnMismatch is called when the stored version is newer than Target,
	// before Run returns the mismatch error.
	OnMismatch func(stored, target int)

	Logger *slog.Logger
}

// Result describes a completed pass.
type Result struct {
	From     int
	To       int
	Migrated bool
	Items    int
}

// maxAttempts bounds restarts after another process migrated concurrently.
const maxAttempts = 2

// Run compares the stored version with plan.Target and migrates if needed.
func Run(ctx context.Context, b store.Backend, plan Plan) (Result, error) {
	if plan.Target < 0 {
		return Result{}, fmt.Errorf("migrate: negative target version %d", plan.Target)
	}
	logger := plan.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var res Result
		res, err = runOnce(ctx, b, plan, logger)
		if !errors.Is(err, store.ErrVersionConflict) {
			return res, err
		}
		logger.Warn("schema version changed during migration, restarting pass",
			"target", plan.Target,
			"attempt", attempt+1,
		)
	}
	return Result{}, err
}

func runOnce(ctx context.Context, b store.Backend, plan Plan, logger *slog.Logger) (Result, error) {
	current, err := b.Version(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("migrate: %w", err)
	}

	switch {
	case plan.Target < current:
		logger.Error("stored schema is newer than client",
			"stored", current,
			"target", plan.Target,
		)
		if plan.OnMismatch != nil {
			plan.OnMismatch(current, plan.Target)
		}
		return Result{}, NewMismatchError(plan.Target, current)
	case plan.Target == current:
		return Result{From: current, To: current}, nil
	}

	// Every step must exist before any value is touched
	for v := current + 1; v <= plan.Target; v++ {
		if plan.Steps[v] == nil {
			return Result{}, NewMissingError(v, current)
		}
	}

	records, err := b.ReadAll(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("migrate: %w", err)
	}

	values := make([]any, len(records))
	for i, r := range records {
		values[i], err = codec.Decode(r.Value)
		if err != nil {
			return Result{}, NewStepError(current+1, current, r.Key, err)
		}
	}

	for v := current + 1; v <= plan.Target; v++ {
		step := plan.Steps[v]
		for i, r := range records {
			out, err := step(ctx, values[i])
			if err != nil {
				return Result{}, NewStepError(v, current, r.Key, err)
			}
			values[i] = out
		}
		logger.Debug("migration step applied", "version", v, "items", len(records))
	}

	migrated := make([]store.Record, len(records))
	for i, r := range records {
		data, err := codec.Encode(values[i])
		if err != nil {
			return Result{}, NewStepError(plan.Target, current, r.Key, err)
		}
		migrated[i] = store.Record{Key: r.Key, Value: data}
	}

	if err := b.Replace(ctx, migrated, current, plan.Target); err != nil {
		return Result{}, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("schema migrated",
		"from", current,
		"to", plan.Target,
		"items", len(records),
	)
	return Result{From: current, To: plan.Target, Migrated: true, Items: len(records)}, nil
}
