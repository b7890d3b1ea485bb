// Package dashboard holds the view logic of the image dashboard: the role router,
// the administrator gallery and the per-session user view state. Rendering lives
// elsewhere; this package only decides what is shown.
package dashboard

import (
	"context"
	"log/slog"

	"github.com/manash/vardash/pkg/models"
)

// User-visible messages.
const (
	MsgSelectImage      = "Please select an image."
	MsgUploadSuccessful = "Upload successful!"
	MsgUploadFailed     = "Upload failed. Please try again."
	MsgGenerationFailed = "An error occurred while starting image generation."

	NoImagesPlaceholder = "No images available"
	WelcomeText         = "Welcome to the Dashboard!"
)

type View int

const (
	ViewWelcome View = iota
	ViewUser
	ViewAdmin
)

func (v View) String() string {
	switch v {
	case ViewAdmin:
		return "admin"
	case ViewUser:
		return "user"
	default:
		return "welcome"
	}
}

// SelectView routes admins to the admin view and every other known user to the user view.
func SelectView(u *models.User) View {
	switch {
	case u == nil:
		return ViewWelcome
	case u.IsAdmin():
		return ViewAdmin
	default:
		return ViewUser
	}
}

type ImageLister interface {
	UserImages(ctx context.Context, userID int64) ([]models.ImageRef, error)
}

// AdminGallery is the administrator's read-only view of one user's stored images.
type AdminGallery struct {
	UserID int64
	Images []models.ImageRef
}

// LoadAdminGallery fetches the images once. A failed fetch is logged and yields an
// empty gallery.
func LoadAdminGallery(ctx context.Context, images ImageLister, userID int64) *AdminGallery {
	g := &AdminGallery{UserID: userID}

	list, err := images.UserImages(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch images", "user_id", userID, "error", err)
		return g
	}
	g.Images = list
	return g
}

func (g *AdminGallery) Empty() bool {
	return len(g.Images) == 0
}

// Placeholder returns the text shown instead of the grid, or "" when there are tiles.
func (g *AdminGallery) Placeholder() string {
	if g.Empty() {
		return NoImagesPlaceholder
	}
	return ""
}
