package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/manash/vardash/internal/dashboard"
	"github.com/manash/vardash/pkg/models"
)

var errAdminOnly = errors.New("listing another user's images requires an admin account")

func newImagesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "images [userId]",
		Short: "List the images stored for a user (admin)",
		Long: `List the images the backend stores for a user. Without a user id the
configured ADMIN_DEFAULT_USER_ID is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImages(context.Background(), args, app)
		},
	}
}

func runImages(ctx context.Context, args []string, app *App) error {
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}

	userID := cfg.AdminDefaultUserID
	if len(args) > 0 {
		if userID, err = models.ParseUserID(args[0]); err != nil {
			return err
		}
	}

	b, user, err := app.signIn(ctx, cfg)
	if err != nil {
		return err
	}
	if dashboard.SelectView(user) != dashboard.ViewAdmin {
		return errAdminOnly
	}

	return printGallery(app, dashboard.LoadAdminGallery(ctx, b, userID))
}
