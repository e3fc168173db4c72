package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

type ExportOptions struct {
	*RootOptions
	Format string
	Output string
}

func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export [document-id]",
		Short: "Export a document to a file",
		Long: `Export one document. Without an id the first document is exported.
The file is written to --output, or to the sanitized title in the current
directory; "-" writes to stdout.

Example:
  noteforge export doc_0192... --format md
  noteforge export --format html -o -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return runExport(cmd.Context(), opts, id, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "txt", "export format (txt, md, html, json, pdf, docx)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output path, or - for stdout")
	return cmd
}

func runExport(ctx context.Context, opts *ExportOptions, id string, stdout io.Writer) error {
	rt, err := openOffline(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.service.ExportDocument(ctx, id, opts.Format)
	if err != nil {
		return wrapExit(ExitFailure, "export failed", err)
	}

	if opts.Output == "-" {
		_, err := stdout.Write(result.Data)
		return err
	}
	path := opts.Output
	if path == "" {
		path = result.Filename
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return wrapExit(ExitFailure, "create output dir", err)
		}
	}
	if err := os.WriteFile(path, result.Data, 0o644); err != nil {
		return wrapExit(ExitFailure, "write export", err)
	}
	fmt.Fprintf(stdout, "wrote %s (%s, %d bytes)\n", path, result.MimeType, len(result.Data))
	return nil
}
