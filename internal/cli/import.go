package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/minidb"
)

// NewImportCommand creates the import command.
func NewImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Store every item of a YAML or JSON mapping",
		Long: `Store every item of a YAML or JSON mapping in one batch.

Top-level keys become item keys. Existing keys not in the file are kept.

Example:
  minidb import fixtures.yaml --name shop`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := readItems(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read import file", err)
			}

			db, _, err := openDB(opts, cmd)
			if err != nil {
				return err
			}
			defer closeDB(db)

			if err := db.SetMany(commandContext(cmd), items); err != nil {
				return WrapExitError(ExitCommandError, "failed to import", err)
			}
			return newFormatter(opts, cmd).Success(countResult{Action: "imported", Count: len(items)})
		},
	}
}

// readItems decodes a YAML (or JSON) mapping from path, ordered by key.
func readItems(path string) ([]minidb.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]minidb.Item, len(keys))
	for i, k := range keys {
		items[i] = minidb.Item{Key: k, Value: m[k]}
	}
	return items, nil
}
