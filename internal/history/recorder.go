package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/manash/vardash/pkg/models"
)

var (
	ErrUploadNotFound = errors.New("upload not found")
	ErrNoStore        = errors.New("history store not configured")
)

// Recorder writes dashboard activity to a Store.
type Recorder struct {
	store *Store
	now   func() time.Time
}

func NewRecorder(store *Store) *Recorder {
	return &Recorder{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recorder) RecordUpload(ctx context.Context, userID, imageID int64, filename string, size int64) (string, error) {
	if r.store == nil {
		return "", ErrNoStore
	}
	now := r.now()
	u := &Upload{
		ID:        uuid.New().String(),
		UserID:    userID,
		ImageID:   imageID,
		Filename:  filename,
		Size:      size,
		Status:    "uploaded",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateUpload(ctx, u); err != nil {
		return "", fmt.Errorf("failed to record upload: %w", err)
	}
	return u.ID, nil
}

func (r *Recorder) SetUploadStatus(ctx context.Context, uploadID, status, message string) error {
	if r.store == nil {
		return ErrNoStore
	}
	return r.store.UpdateUploadStatus(ctx, uploadID, status, message, r.now())
}

func (r *Recorder) RecordGenerated(ctx context.Context, uploadID string, userID int64, ev models.GenerationEvent) error {
	if r.store == nil {
		return ErrNoStore
	}
	g := &GeneratedImage{
		ID:         uuid.New().String(),
		UploadID:   uploadID,
		UserID:     userID,
		URL:        ev.URL,
		Progress:   ev.Progress,
		ReceivedAt: r.now(),
	}
	if err := r.store.AddGenerated(ctx, g); err != nil {
		return fmt.Errorf("failed to record generated image: %w", err)
	}
	return nil
}

// GeneratedURLs returns the variation URLs recorded for a user, oldest first.
func (r *Recorder) GeneratedURLs(ctx context.Context, userID int64) ([]string, error) {
	if r.store == nil {
		return nil, ErrNoStore
	}
	images, err := r.store.ListGenerated(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list generated images: %w", err)
	}
	urls := make([]string, 0, len(images))
	for _, g := range images {
		urls = append(urls, g.URL)
	}
	return urls, nil
}
