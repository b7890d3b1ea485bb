package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/manash/vardash/internal/history"
)

var (
	flagHistoryUser   int64
	flagHistoryLimit  int
	flagHistoryImages bool
	flagHistoryPrune  bool
)

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"hist"},
		Short:   "List recorded uploads and generated images",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(context.Background(), app)
		},
	}
	cmd.Flags().Int64VarP(&flagHistoryUser, "user", "u", 0, "only this user's uploads (0 lists everyone)")
	cmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "maximum uploads to list (0 lists all)")
	cmd.Flags().BoolVar(&flagHistoryImages, "images", false, "list the user's generated images instead (requires --user)")
	cmd.Flags().BoolVar(&flagHistoryPrune, "prune", false, "delete entries older than HISTORY_RETENTION first")
	return cmd
}

func runHistory(ctx context.Context, app *App) error {
	if flagHistoryImages && flagHistoryUser <= 0 {
		return errors.New("--images requires --user")
	}

	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}
	store, err := app.OpenHistory(cfg.HistoryDB)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	if flagHistoryPrune {
		pruner, err := history.NewPruner(store, cfg.HistoryRetention, cfg.PruneSchedule)
		if err != nil {
			return err
		}
		n, err := pruner.PruneNow(ctx)
		if err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
		fmt.Fprintf(app.Out, "Pruned %d entries older than %s.\n", n, cfg.HistoryRetention)
	}

	if flagHistoryImages {
		return listGenerated(ctx, app, store, flagHistoryUser)
	}

	uploads, err := store.ListUploads(ctx, flagHistoryUser, flagHistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to list uploads: %w", err)
	}
	if len(uploads) == 0 {
		fmt.Fprintln(app.Out, "No uploads recorded.")
		return nil
	}

	fmt.Fprintf(app.Out, "%-8s  %-6s  %-24s  %-9s  %-10s  %-10s  %s\n",
		"ID", "USER", "FILE", "SIZE", "STATUS", "VARIANTS", "UPLOADED")
	for _, u := range uploads {
		n, err := store.CountGenerated(ctx, u.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "%-8s  %-6d  %-24s  %-9s  %-10s  %-10d  %s\n",
			u.ID[:8], u.UserID, truncate(u.Filename, 24), humanize.Bytes(uint64(u.Size)),
			u.Status, n, humanize.Time(u.CreatedAt))
	}
	return nil
}

func listGenerated(ctx context.Context, app *App, store *history.Store, userID int64) error {
	images, err := store.ListGenerated(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list generated images: %w", err)
	}
	if len(images) == 0 {
		fmt.Fprintf(app.Out, "No generated images recorded for user %d.\n", userID)
		return nil
	}

	for i, g := range images {
		fmt.Fprintf(app.Out, "%3d  %-19s  %5s%%  %s\n", i+1, history.FormatTimestamp(g.ReceivedAt),
			strconv.FormatFloat(g.Progress, 'f', -1, 64), g.URL)
	}
	return nil
}
