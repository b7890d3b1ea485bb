package backend

import (
	"context"
	"errors"

	"github.com/manash/vardash/pkg/models"
)

var (
	ErrBaseURLRequired   = errors.New("backend base URL is required")
	ErrUnauthorized      = errors.New("backend rejected credentials")
	ErrRequestFailed     = errors.New("backend request failed")
	ErrMalformedResponse = errors.New("malformed backend response")
	ErrUploadFailed      = errors.New("image upload failed")
	ErrGenerationFailed  = errors.New("variation generation failed to start")
)

// Backend is the HTTP contract the dashboard depends on.
type Backend interface {
	CurrentUser(ctx context.Context) (*models.User, error)
	UserImages(ctx context.Context, userID int64) ([]models.ImageRef, error)
	AcquireCSRFCookie(ctx context.Context) error
	UploadImage(ctx context.Context, sel *models.Selection) (int64, error)
	StartGeneration(ctx context.Context, imageID int64) (*models.GenerationResponse, error)
}

type Config struct {
	BaseURL    string
	Token      string
	TimeoutSec int
	Verbose    bool
}

// Factory builds a Backend bound to one bearer token.
type Factory func(cfg *Config) (Backend, error)

func NewBackend(cfg *Config) (Backend, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}
