package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload the document collection to the configured provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), rootOpts, cmd.OutOrStdout())
		},
	}
}

func runSync(ctx context.Context, opts *RootOptions, out io.Writer) error {
	rt, err := openOffline(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.service.Sync(ctx); err != nil {
		return wrapExit(ExitFailure, "sync failed", err)
	}
	state := rt.service.State(ctx)
	fmt.Fprintf(out, "synced %d documents to %s\n", state.DocumentCount, state.SyncProvider)
	return nil
}
