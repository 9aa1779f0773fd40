package cli

import (
	"fmt"
	"io"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/roach88/minidb"
	"github.com/roach88/minidb/internal/codec"
)

// LsOptions holds flags for the ls command.
type LsOptions struct {
	*RootOptions
	Match string
}

// listResult is a key-ordered set of items. It encodes as a JSON object.
type listResult []minidb.Item

func (r listResult) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r))
	for _, it := range r {
		m[it.Key] = it.Value
	}
	return codec.Encode(m)
}

func (r listResult) renderText(w io.Writer) error {
	for _, it := range r {
		data, err := codec.Encode(it.Value)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", it.Key, data); err != nil {
			return err
		}
	}
	return nil
}

// NewLsCommand creates the ls command.
func NewLsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List keys and values",
		Long: `List every item ordered by key, one "key<TAB>value" line each.

--match filters keys with a glob pattern where '*' and '?' do not match ':'
so that segmented keys can be selected level by level.

Example:
  minidb ls --name shop
  minidb ls --match 'item-*'
  minidb ls --match 'user:*:profile' --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLs(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Match, "match", "m", "", "only list keys matching this glob")

	return cmd
}

func runLs(opts *LsOptions, cmd *cobra.Command) error {
	var pattern glob.Glob
	if opts.Match != "" {
		g, err := glob.Compile(opts.Match, ':')
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --match pattern", err)
		}
		pattern = g
	}

	db, _, err := openDB(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeDB(db)

	entries, err := db.Entries(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read", err)
	}

	result := make(listResult, 0, len(entries))
	for _, it := range entries {
		if pattern != nil && !pattern.Match(it.Key) {
			continue
		}
		result = append(result, it)
	}
	return newFormatter(opts.RootOptions, cmd).Success(result)
}
