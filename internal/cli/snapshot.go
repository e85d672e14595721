package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/storekit/internal/sitestore"
	"github.com/roach88/storekit/internal/snapshot"
)

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect and edit persisted store snapshots",
		Long: `Inspect and edit the store snapshots kept in the SQLite database.

Keys default to the snapshot key of the configured module store.

Examples:
  storekit snapshot list
  storekit snapshot get
  storekit snapshot set '{"settings":{"propertyID":"1"}}'
  storekit snapshot delete datastore::cache::modules/analytics`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List snapshot keys",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSnapshots(cmd, rootOpts, func(ctx context.Context, db *snapshot.SQLiteStore) error {
				entries, err := db.List(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list snapshots", err)
				}
				out := rootOpts.formatter(cmd)
				if out.Format == "json" {
					return out.Success(entries)
				}
				for _, e := range entries {
					fmt.Fprintf(out.Writer, "%s\tv%d\t%d bytes\n", e.Key, e.Version, e.Size)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "get [key]",
		Short:         "Print a snapshot",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := snapshotKey(rootOpts, args, 0)
			return withSnapshots(cmd, rootOpts, func(ctx context.Context, db *snapshot.SQLiteStore) error {
				value, ok, err := db.Get(ctx, key)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read snapshot", err)
				}
				if !ok {
					return NewExitError(ExitFailure, fmt.Sprintf("no snapshot for %q", key))
				}
				out := rootOpts.formatter(cmd)
				if out.Format == "json" {
					return out.Success(value)
				}
				fmt.Fprintln(out.Writer, string(value))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "set <json> [key]",
		Short:         "Store a snapshot",
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			value := json.RawMessage(args[0])
			if !json.Valid(value) {
				return NewExitError(ExitCommandError, "snapshot value is not valid JSON")
			}
			key := snapshotKey(rootOpts, args, 1)
			return withSnapshots(cmd, rootOpts, func(ctx context.Context, db *snapshot.SQLiteStore) error {
				if err := db.Set(ctx, key, value); err != nil {
					return WrapExitError(ExitFailure, "failed to write snapshot", err)
				}
				return rootOpts.formatter(cmd).Success(key)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "delete [key]",
		Short:         "Delete a snapshot",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := snapshotKey(rootOpts, args, 0)
			return withSnapshots(cmd, rootOpts, func(ctx context.Context, db *snapshot.SQLiteStore) error {
				if err := db.Delete(ctx, key); err != nil {
					return WrapExitError(ExitFailure, "failed to delete snapshot", err)
				}
				return rootOpts.formatter(cmd).Success(key)
			})
		},
	})

	return cmd
}

// snapshotKey returns args[i], or the snapshot key of the module store.
func snapshotKey(opts *RootOptions, args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return snapshot.Key(sitestore.StoreName(opts.Config.Module))
}

// withSnapshots opens the configured database for the duration of fn.
func withSnapshots(cmd *cobra.Command, opts *RootOptions, fn func(context.Context, *snapshot.SQLiteStore) error) error {
	db, err := snapshot.Open(opts.Config.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			opts.Logger.Error("error closing database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, db)
}
