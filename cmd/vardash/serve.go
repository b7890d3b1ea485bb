package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/manash/vardash/internal/history"
	"github.com/manash/vardash/internal/realtime"
	"github.com/manash/vardash/internal/web"
)

const shutdownTimeout = 10 * time.Second

var (
	flagListen        string
	flagSecureCookies bool
)

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, app)
		},
	}
	cmd.Flags().StringVarP(&flagListen, "listen", "l", "", "listen address (defaults to LISTEN_ADDR)")
	cmd.Flags().BoolVar(&flagSecureCookies, "secure-cookies", false, "mark the session cookie Secure (serve behind TLS)")
	return cmd
}

func runServe(ctx context.Context, app *App) error {
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}
	if flagListen != "" {
		cfg.ListenAddr = flagListen
	}

	store, err := app.OpenHistory(cfg.HistoryDB)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	pruner, err := history.NewPruner(store, cfg.HistoryRetention, cfg.PruneSchedule)
	if err != nil {
		return err
	}
	pruner.Start()
	defer pruner.Stop()

	var newSub web.SubscriberFactory
	if cfg.PusherAppKey != "" {
		rtCfg := pusherConfig(cfg)
		newSub = func() (realtime.Subscriber, error) {
			return app.NewSubscriber(rtCfg)
		}
	} else {
		slog.Warn("PUSHER_APP_KEY not set, generated images will not be delivered")
	}

	srv, err := web.New(web.Options{
		BackendURL:         cfg.BackendURL,
		TimeoutSec:         cfg.TimeoutSeconds(),
		Verbose:            cfg.Verbose,
		AdminDefaultUserID: cfg.AdminDefaultUserID,
		IdleTTL:            cfg.IdleTTL,
		SessionSecret:      []byte(cfg.SessionSecret),
		SecureCookies:      flagSecureCookies,
	}, app.NewBackend, newSub, history.NewRecorder(store))
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		fmt.Fprintf(app.Out, "Serving dashboard on %s (backend %s)\n", cfg.ListenAddr, cfg.BackendURL)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		// open event streams end once their dashboards are unmounted
		srv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	fmt.Fprintln(app.Out, "Server stopped.")
	return nil
}
