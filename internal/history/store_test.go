package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/manash/vardash/pkg/models"
)

func testStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")

	store, err := NewStoreWithPath(dbPath)
	if err != nil {
		t.Fatalf("NewStoreWithPath() error = %v", err)
	}
	return store, func() { store.Close() }
}

func TestNewStoreWithPath_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "history.db")
	store, err := NewStoreWithPath(dbPath)
	if err != nil {
		t.Fatalf("NewStoreWithPath() error = %v", err)
	}
	store.Close()
}

func TestStore_CreateAndGetUpload(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	u := &Upload{
		ID:        "upload-1",
		UserID:    2,
		ImageID:   42,
		Filename:  "cat.png",
		Size:      2048,
		Status:    "uploaded",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateUpload(ctx, u); err != nil {
		t.Fatalf("CreateUpload() error = %v", err)
	}

	got, err := store.GetUpload(ctx, "upload-1")
	if err != nil {
		t.Fatalf("GetUpload() error = %v", err)
	}
	if got.ImageID != 42 || got.Filename != "cat.png" || got.Size != 2048 {
		t.Errorf("GetUpload() = %+v", got)
	}
	if got.Message != "" {
		t.Errorf("Message = %q, want empty", got.Message)
	}
}

func TestStore_UpdateUploadStatus(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	store.CreateUpload(ctx, &Upload{ID: "u1", UserID: 2, ImageID: 1, Status: "uploaded", CreatedAt: now, UpdatedAt: now})

	if err := store.UpdateUploadStatus(ctx, "u1", "failed", "status 500", now.Add(time.Second)); err != nil {
		t.Fatalf("UpdateUploadStatus() error = %v", err)
	}
	got, _ := store.GetUpload(ctx, "u1")
	if got.Status != "failed" || got.Message != "status 500" {
		t.Errorf("GetUpload() = %+v", got)
	}

	err := store.UpdateUploadStatus(ctx, "missing", "failed", "", now)
	if !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("UpdateUploadStatus(missing) error = %v, want ErrUploadNotFound", err)
	}
}

func TestStore_ListUploads(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().UTC()
	for i, userID := range []int64{2, 2, 3} {
		at := base.Add(time.Duration(i) * time.Minute)
		store.CreateUpload(ctx, &Upload{
			ID: string(rune('a' + i)), UserID: userID, ImageID: int64(i + 1),
			Status: "uploaded", CreatedAt: at, UpdatedAt: at,
		})
	}

	all, err := store.ListUploads(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListUploads() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListUploads() returned %d, want 3", len(all))
	}
	if all[0].ID != "c" {
		t.Errorf("ListUploads()[0] = %s, want newest first", all[0].ID)
	}

	mine, _ := store.ListUploads(ctx, 2, 0)
	if len(mine) != 2 {
		t.Errorf("ListUploads(user 2) returned %d, want 2", len(mine))
	}

	limited, _ := store.ListUploads(ctx, 0, 1)
	if len(limited) != 1 {
		t.Errorf("ListUploads(limit 1) returned %d, want 1", len(limited))
	}
}

func TestStore_GeneratedImagesKeepArrivalOrder(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	store.CreateUpload(ctx, &Upload{ID: "u1", UserID: 2, ImageID: 1, Status: "generating", CreatedAt: now, UpdatedAt: now})

	urls := []string{"https://cdn.example.com/1.png", "https://cdn.example.com/2.png", "https://cdn.example.com/2.png"}
	for i, u := range urls {
		g := &GeneratedImage{ID: string(rune('a' + i)), UploadID: "u1", UserID: 2, URL: u, Progress: float64(25 * (i + 1)), ReceivedAt: now}
		if err := store.AddGenerated(ctx, g); err != nil {
			t.Fatalf("AddGenerated() error = %v", err)
		}
	}

	got, err := store.ListGenerated(ctx, 2)
	if err != nil {
		t.Fatalf("ListGenerated() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListGenerated() returned %d, want 3", len(got))
	}
	for i, g := range got {
		if g.URL != urls[i] {
			t.Errorf("ListGenerated()[%d].URL = %s, want %s", i, g.URL, urls[i])
		}
	}

	count, _ := store.CountGenerated(ctx, "u1")
	if count != 3 {
		t.Errorf("CountGenerated() = %d, want 3", count)
	}
}

func TestStore_Prune(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)
	store.CreateUpload(ctx, &Upload{ID: "old", UserID: 2, ImageID: 1, Status: "generating", CreatedAt: old, UpdatedAt: old})
	store.CreateUpload(ctx, &Upload{ID: "new", UserID: 2, ImageID: 2, Status: "generating", CreatedAt: now, UpdatedAt: now})
	store.AddGenerated(ctx, &GeneratedImage{ID: "g-old", UploadID: "old", UserID: 2, URL: "https://x/1.png", ReceivedAt: old})
	store.AddGenerated(ctx, &GeneratedImage{ID: "g-new", UploadID: "new", UserID: 2, URL: "https://x/2.png", ReceivedAt: now})

	n, err := store.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}

	uploads, _ := store.ListUploads(ctx, 0, 0)
	if len(uploads) != 1 || uploads[0].ID != "new" {
		t.Errorf("remaining uploads = %+v", uploads)
	}
	images, _ := store.ListGenerated(ctx, 2)
	if len(images) != 1 || images[0].ID != "g-new" {
		t.Errorf("remaining images = %+v", images)
	}
}

func TestRecorder(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()
	rec := NewRecorder(store)

	id, err := rec.RecordUpload(ctx, 2, 42, "cat.png", 100)
	if err != nil {
		t.Fatalf("RecordUpload() error = %v", err)
	}
	if id == "" {
		t.Fatal("RecordUpload() returned empty id")
	}

	if err := rec.SetUploadStatus(ctx, id, "generating", "Generating 4 variations"); err != nil {
		t.Fatalf("SetUploadStatus() error = %v", err)
	}
	if err := rec.RecordGenerated(ctx, id, 2, models.GenerationEvent{Progress: 25, URL: "https://cdn.example.com/1.png"}); err != nil {
		t.Fatalf("RecordGenerated() error = %v", err)
	}
	if err := rec.RecordGenerated(ctx, "", 2, models.GenerationEvent{Progress: 50, URL: "https://cdn.example.com/2.png"}); err != nil {
		t.Fatalf("RecordGenerated(no upload) error = %v", err)
	}

	u, _ := store.GetUpload(ctx, id)
	if u.Status != "generating" || u.Message != "Generating 4 variations" {
		t.Errorf("upload = %+v", u)
	}
	images, _ := store.ListGenerated(ctx, 2)
	if len(images) != 2 {
		t.Errorf("ListGenerated() returned %d, want 2", len(images))
	}

	urls, err := rec.GeneratedURLs(ctx, 2)
	if err != nil {
		t.Fatalf("GeneratedURLs() error = %v", err)
	}
	if len(urls) != 2 || urls[0] != "https://cdn.example.com/1.png" || urls[1] != "https://cdn.example.com/2.png" {
		t.Errorf("GeneratedURLs() = %v", urls)
	}
	if urls, _ := rec.GeneratedURLs(ctx, 9); len(urls) != 0 {
		t.Errorf("GeneratedURLs(other user) = %v, want none", urls)
	}
}

func TestRecorder_NoStore(t *testing.T) {
	rec := NewRecorder(nil)
	if _, err := rec.RecordUpload(context.Background(), 1, 1, "", 0); !errors.Is(err, ErrNoStore) {
		t.Errorf("RecordUpload() error = %v, want ErrNoStore", err)
	}
	if _, err := rec.GeneratedURLs(context.Background(), 1); !errors.Is(err, ErrNoStore) {
		t.Errorf("GeneratedURLs() error = %v, want ErrNoStore", err)
	}
}

func TestNewPruner(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	if _, err := NewPruner(store, time.Hour, "not a schedule"); err == nil {
		t.Error("NewPruner() with bad schedule error = nil")
	}

	p, err := NewPruner(store, 0, "")
	if err != nil {
		t.Fatalf("NewPruner() error = %v", err)
	}
	if p.retention != DefaultRetention {
		t.Errorf("retention = %v, want %v", p.retention, DefaultRetention)
	}

	p.Start()
	p.Stop()

	if _, err := p.PruneNow(context.Background()); err != nil {
		t.Errorf("PruneNow() error = %v", err)
	}
}
