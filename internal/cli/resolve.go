package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/storekit/internal/apifetch"
	"github.com/roach88/storekit/internal/registry"
	"github.com/roach88/storekit/internal/sitestore"
	"github.com/roach88/storekit/internal/snapshot"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Store   string
	APIBase string
	Restore bool
	Save    bool
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <selector> [args...]",
		Short: "Resolve a selector against a live API",
		Long: `Resolve a selector of the example stores against a live JSON API.

Arguments are parsed as JSON when they are valid JSON and passed as
strings otherwise. With --restore the module state is first restored
from the snapshot database; with --save it is snapshotted afterwards.

Examples:
  storekit resolve getReferenceSiteURL --store core/site --api https://example.com/wp-json/
  storekit resolve getSetting propertyID --restore
  storekit resolve getAccounts --save --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, opts, args[0], parseArgs(args[1:]))
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "store to select from (default the module store)")
	cmd.Flags().StringVar(&opts.APIBase, "api", "", "API base URL (default $STOREKIT_API_BASE)")
	cmd.Flags().BoolVar(&opts.Restore, "restore", false, "restore the module snapshot before resolving")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "snapshot the module state after resolving")

	return cmd
}

// parseArgs decodes each argument as JSON, falling back to the raw string.
func parseArgs(raw []string) []any {
	out := make([]any, len(raw))
	for i, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			v = s
		}
		out[i] = v
	}
	return out
}

func runResolve(cmd *cobra.Command, opts *ResolveOptions, selector string, args []any) error {
	cfg := opts.Config
	base := opts.APIBase
	if base == "" {
		base = cfg.APIBase
	}
	if base == "" {
		return NewExitError(ExitCommandError, "no API base URL: set --api or STOREKIT_API_BASE")
	}
	transport, err := apifetch.NewHTTPTransport(base, apifetch.WithTimeout(cfg.FetchTimeout))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid API base URL", err)
	}

	db, err := snapshot.Open(cfg.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			opts.Logger.Error("error closing database", "error", closeErr)
		}
	}()

	reg := registry.New(registry.WithLogger(opts.Logger))
	err = sitestore.Register(reg, sitestore.Options{
		Slug:      cfg.Module,
		Client:    apifetch.NewClient(transport, apifetch.WithLogger(opts.Logger)),
		Persister: db,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register stores", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			opts.Logger.Error("runtime stopped", "error", err)
		}
	}()

	module := sitestore.StoreName(cfg.Module)
	store := opts.Store
	if store == "" {
		store = module
	}

	// Resolution performs one request per dependency, so the deadline
	// covers a few round trips.
	waitCtx, waitCancel := context.WithTimeout(ctx, 3*cfg.FetchTimeout+time.Second)
	defer waitCancel()

	if opts.Restore {
		restored, err := reg.DispatchWait(waitCtx, module, snapshot.ActionRestoreSnapshot, false)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to restore snapshot", err)
		}
		opts.formatter(cmd).VerboseLog("snapshot restored: %v", restored)
	}

	value, err := reg.Resolve(waitCtx, store, selector, args...)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("failed to resolve %s/%s", store, selector), err)
	}
	if err := reg.Settle(waitCtx); err != nil {
		return WrapExitError(ExitFailure, "stores did not settle", err)
	}
	if failed, _ := reg.Select(store, registry.SelectHasErrors); failed == true {
		failures, _ := reg.Select(store, registry.SelectErrors)
		out := opts.formatter(cmd)
		if err := out.Error("resolution_failed", fmt.Sprintf("%s/%s failed", store, selector), failures); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%s/%s failed", store, selector))
	}

	if opts.Save {
		if _, err := reg.DispatchWait(waitCtx, module, snapshot.ActionCreateSnapshot); err != nil {
			return WrapExitError(ExitFailure, "failed to save snapshot", err)
		}
	}
	return opts.formatter(cmd).Success(value)
}
