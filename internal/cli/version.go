package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// versionResult compares the stored schema version with the target.
type versionResult struct {
	Name   string `json:"name"`
	Stored int    `json:"stored"`
	Target int    `json:"target"`
}

func (r versionResult) renderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "name:   %s\nstored: %d\ntarget: %d\n", r.Name, r.Stored, r.Target)
	return err
}

// NewVersionCommand creates the version command.
func NewVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the stored schema version",
		Long: `Print the schema version stored in the database and the target version
from the config file. Opening the database migrates it first, so after a
successful run both are equal.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, f, err := openDB(opts, cmd)
			if err != nil {
				return err
			}
			defer closeDB(db)

			stored, err := db.Version(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read version", err)
			}
			return newFormatter(opts, cmd).Success(versionResult{
				Name:   db.Name(),
				Stored: stored,
				Target: f.Version,
			})
		},
	}
}
