package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiranshivaraju/mediaforge/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the composition and speech servers together",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServers(cmd.Context(), true, true)
		},
	}
}

func newComposeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compose",
		Short: "Run the composition server only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServers(cmd.Context(), true, false)
		},
	}
}

func newTTSCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tts",
		Short: "Run the speech server only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServers(cmd.Context(), false, true)
		},
	}
}

func runServers(parent context.Context, withCompose, withTTS bool) error {
	if parent == nil {
		parent = context.Background()
	}

	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "producer", cfg.Producer.Kind, "artifact_backend", cfg.Artifact.Backend)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Build dependencies
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	var servers []*http.Server
	if withCompose {
		servers = append(servers, a.composeServer())
	}
	if withTTS {
		servers = append(servers, a.ttsServer())
	}

	// 3. Bind before starting workers so a busy port fails cleanly
	listeners := make([]net.Listener, 0, len(servers))
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			a.close()
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		listeners = append(listeners, ln)
	}

	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()
	if withCompose {
		a.start(workCtx)
	}

	return serve(ctx, a, servers, listeners)
}

// serve runs every server until ctx is done or one of them fails, then shuts
// all of them and the app down within the configured timeout.
func serve(ctx context.Context, a *app, servers []*http.Server, listeners []net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	for i, srv := range servers {
		g.Go(func() error {
			slog.Info("server listening", "addr", listeners[i].Addr().String())
			if err := srv.Serve(listeners[i]); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server %s shutdown: %w", srv.Addr, err))
			}
		}
		a.shutdown(shutdownCtx)
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("servers stopped gracefully")
	return nil
}
