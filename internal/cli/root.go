// Package cli implements the noteforge command line.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	ConfigPath string
	Storage    string
	LogLevel   string
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func wrapExit(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode maps err to a process exit code. Errors that are not an ExitError
// exit with ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "noteforge",
		Short: "NoteForge document editor backend",
		Long: `NoteForge keeps a collection of rich-text documents with autosave,
export, revision history, search and cloud sync.

Run "noteforge serve" to start the HTTP and websocket API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Storage, "storage", "", "storage DSN (memory://, file://dir, sqlite://path, postgres://..., redis://...)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))

	return cmd
}
