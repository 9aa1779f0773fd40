// Package cuemig builds migration steps from CUE expressions.
//
// An expression sees the value being migrated as `in` and its result is
// the migrated value:
//
//	in + "-v2"
//	in & {done: *false | bool}
//	{title: in.name, tags: []}
//
// Uses CUE SDK's Go API directly (not CLI subprocess).
package cuemig

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/minidb/internal/migrate"
)

var (
	inPath  = cue.ParsePath("in")
	outPath = cue.ParsePath("out")
)

// Compile parses expr once and returns a step that evaluates it for every
// value. The step fails if the result is not concrete.
func Compile(expr string) (migrate.Func, error) {
	cctx := cuecontext.New()
	src := fmt.Sprintf("in: _\nout: (%s)\n", expr)
	tmpl := cctx.CompileString(src, cue.Filename("migration.cue"))
	if err := tmpl.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	// A cue.Context must not be used concurrently
	var mu sync.Mutex

	return func(ctx context.Context, value any) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mu.Lock()
		defer mu.Unlock()

		out := tmpl.FillPath(inPath, value).LookupPath(outPath)
		if err := out.Err(); err != nil {
			return nil, formatCUEError(err)
		}

		var res any
		if err := out.Decode(&res); err != nil {
			return nil, formatCUEError(err)
		}
		return res, nil
	}, nil
}

// CompileAll compiles one expression per version.
func CompileAll(exprs map[int]string) (map[int]migrate.Func, error) {
	versions := make([]int, 0, len(exprs))
	for v := range exprs {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	steps := make(map[int]migrate.Func, len(exprs))
	for _, v := range versions {
		fn, err := Compile(exprs[v])
		if err != nil {
			return nil, fmt.Errorf("migration %d: %w", v, err)
		}
		steps[v] = fn
	}
	return steps, nil
}

// Error is an invalid expression or a failed evaluation.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%d:%d: %s", e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	e := &Error{Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
