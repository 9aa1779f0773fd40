package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/minidb/internal/codec"
)

// valueResult is one key with its value.
type valueResult struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (r valueResult) renderText(w io.Writer) error {
	data, err := codec.Encode(r.Value)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// keyResult reports an action on one key.
type keyResult struct {
	Action string `json:"action"`
	Key    string `json:"key"`
}

func (r keyResult) renderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s %s\n", r.Action, r.Key)
	return err
}

// countResult reports an action on several items.
type countResult struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

func (r countResult) renderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s %d items\n", r.Action, r.Count)
	return err
}

// parseValue reads s as JSON, falling back to the plain string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// NewGetCommand creates the get command.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Long: `Print the value stored under a key as JSON.

Exits with code 1 if the key does not exist.

Example:
  minidb get item-1 --name shop`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openDB(opts, cmd)
			if err != nil {
				return err
			}
			defer closeDB(db)

			key := args[0]
			value, ok, err := db.Get(commandContext(cmd), key)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read", err)
			}
			if !ok {
				return NewExitError(ExitFailure, fmt.Sprintf("key not found: %s", key))
			}
			return newFormatter(opts, cmd).Success(valueResult{Key: key, Value: value})
		},
	}
}

// NewSetCommand creates the set command.
func NewSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value under a key",
		Long: `Store a value under a key.

The value is parsed as JSON; anything that is not valid JSON is stored as a
plain string.

Example:
  minidb set item-1 '{"name":"Widget","price":3}'
  minidb set greeting hello`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openDB(opts, cmd)
			if err != nil {
				return err
			}
			defer closeDB(db)

			key := args[0]
			if err := db.Set(commandContext(cmd), key, parseValue(args[1])); err != nil {
				return WrapExitError(ExitCommandError, "failed to write", err)
			}
			return newFormatter(opts, cmd).Success(keyResult{Action: "set", Key: key})
		},
	}
}

// NewDelCommand creates the del command.
func NewDelCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "del <key>",
		Short:         "Delete a key",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openDB(opts, cmd)
			if err != nil {
				return err
			}
			defer closeDB(db)

			key := args[0]
			if err := db.Delete(commandContext(cmd), key); err != nil {
				return WrapExitError(ExitCommandError, "failed to delete", err)
			}
			return newFormatter(opts, cmd).Success(keyResult{Action: "deleted", Key: key})
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear",
		Short:         "Delete every key",
		Long:          "Delete every key. The schema version is kept.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openDB(opts, cmd)
			if err != nil {
				return err
			}
			defer closeDB(db)

			ctx := commandContext(cmd)
			keys, err := db.Keys(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read", err)
			}
			if err := db.Clear(ctx); err != nil {
				return WrapExitError(ExitCommandError, "failed to clear", err)
			}
			return newFormatter(opts, cmd).Success(countResult{Action: "cleared", Count: len(keys)})
		},
	}
}
