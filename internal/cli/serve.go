package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"noteforge/api/internal/app"
)

type ServeOptions struct {
	*RootOptions
	Addr string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket API",
		Long: `Start the NoteForge API. Documents and settings are loaded from the
configured storage, autosave is armed, and the server runs until SIGINT or
SIGTERM.

Example:
  noteforge serve --storage file://./data --addr :8787
  noteforge serve --config noteforge.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")
	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return wrapExit(ExitCommandError, "load config", err)
	}
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		return wrapExit(ExitCommandError, "startup failed", err)
	}
	defer rt.Close()

	httpServer := app.NewHTTPServer(rt.service, rt.bus, cfg.CORSOrigin, log)
	httpServer.AddReadyCheck("storage", rt.backend)
	httpServer.AddReadyCheck("sessions", rt.sessions)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr).Info("NoteForge API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return wrapExit(ExitFailure, "server failed", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	return nil
}
