package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/manash/vardash/internal/config"
	"github.com/manash/vardash/internal/console"
	"github.com/manash/vardash/internal/dashboard"
	"github.com/manash/vardash/internal/display"
	"github.com/manash/vardash/internal/image"
	"github.com/manash/vardash/internal/realtime"
	"github.com/manash/vardash/internal/security"
)

func newConsoleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "console",
		Aliases: []string{"repl", "i"},
		Short:   "Interactive terminal dashboard",
		Long: `Start an interactive session as the signed-in user.

Stage a file with 'select', send it with 'upload', and variations are printed as
they arrive. Administrators are shown the image gallery instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runConsole(ctx, app)
		},
	}
}

func runConsole(ctx context.Context, app *App) error {
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}
	b, user, err := app.signIn(ctx, cfg)
	if err != nil {
		return err
	}

	if dashboard.SelectView(user) == dashboard.ViewAdmin {
		return printGallery(app, dashboard.LoadAdminGallery(ctx, b, cfg.AdminDefaultUserID))
	}

	sub, err := app.subscriber(cfg)
	if err != nil {
		slog.Warn("realtime unavailable, variations will not be delivered", "error", err)
	}
	if sub != nil {
		defer sub.Close()
	}

	recorder, closeHistory := app.openRecorder(cfg)
	defer closeHistory()

	urls := security.NewURLPolicy(security.TrustedHostOf(cfg.BackendURL))
	opts := []dashboard.Option{dashboard.WithBaseURL(cfg.BackendURL)}
	if recorder != nil {
		opts = append(opts, dashboard.WithRecorder(recorder))
	}
	dash := dashboard.NewUserDashboard(user.ID, b, sub, opts...)
	defer dash.Close()
	dash.Mount(ctx)

	fetcher := app.NewFetcher(cfg.HTTPTimeout)
	var displayer *display.Displayer
	if display.IsTerminalSupported(app.Out, app.GetEnv) {
		displayer = display.New(app.Out, fetcher, urls)
	}

	c := console.New(&console.Config{
		In:        app.In,
		Out:       app.Out,
		Err:       app.Err,
		User:      user,
		Dashboard: dash,
		Displayer: displayer,
		Saver:     image.NewSaver(cfg.HTTPTimeout, urls, image.WithFetcher(fetcher)),
	})
	return c.Run(ctx)
}

// subscriber opens a realtime connection for the configured Pusher app.
func (app *App) subscriber(cfg *config.Config) (realtime.Subscriber, error) {
	if cfg.PusherAppKey == "" {
		return nil, realtime.ErrAppKeyRequired
	}
	return app.NewSubscriber(pusherConfig(cfg))
}

func printGallery(app *App, g *dashboard.AdminGallery) error {
	fmt.Fprintf(app.Out, "Images of user %d\n\n", g.UserID)
	if g.Empty() {
		fmt.Fprintln(app.Out, g.Placeholder())
		return nil
	}

	fmt.Fprintf(app.Out, "%-8s  %-28s  %s\n", "ID", "FILENAME", "URL")
	for _, img := range g.Images {
		fmt.Fprintf(app.Out, "%-8d  %-28s  %s\n", img.ID, truncate(img.Filename, 28), img.URL)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
