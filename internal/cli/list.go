package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type ListOptions struct {
	*RootOptions
	JSON bool
}

func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored documents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print JSON instead of a table")
	return cmd
}

func runList(ctx context.Context, opts *ListOptions, out io.Writer) error {
	rt, err := openOffline(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	items := rt.service.ListDocuments()
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tWORDS\tMODIFIED")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", item.ID, item.Title, item.WordCount, item.Modified)
	}
	return tw.Flush()
}

// openOffline wires the runtime for a one-shot command. Search stays local and
// logging is quiet unless a level was asked for.
func openOffline(ctx context.Context, opts *RootOptions) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, wrapExit(ExitCommandError, "load config", err)
	}
	log := newLogger(cfg)
	if opts.LogLevel == "" {
		log.SetLevel(logrus.WarnLevel)
	}
	cfg.MeiliURL = ""
	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		return nil, wrapExit(ExitCommandError, "open storage", err)
	}
	return rt, nil
}
