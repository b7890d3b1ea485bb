package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    image_id INTEGER NOT NULL,
    filename TEXT,
    size INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    message TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS generated_images (
    id TEXT PRIMARY KEY,
    upload_id TEXT,
    user_id INTEGER NOT NULL,
    url TEXT NOT NULL,
    progress REAL NOT NULL DEFAULT 0,
    received_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (upload_id) REFERENCES uploads(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_uploads_user_id ON uploads(user_id);
CREATE INDEX IF NOT EXISTS idx_uploads_updated_at ON uploads(updated_at);
CREATE INDEX IF NOT EXISTS idx_generated_images_upload_id ON generated_images(upload_id);
CREATE INDEX IF NOT EXISTS idx_generated_images_received_at ON generated_images(received_at);
`

type Store struct {
	db *sql.DB
}

func NewStore() (*Store, error) {
	dbPath, err := DefaultDBPath()
	if err != nil {
		return nil, err
	}
	return NewStoreWithPath(dbPath)
}

func NewStoreWithPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Store{db: db}, nil
}

func DefaultDBPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".vardash", "history.db"), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateUpload(ctx context.Context, u *Upload) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (id, user_id, image_id, filename, size, status, message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.UserID, u.ImageID, nullString(u.Filename), u.Size, u.Status,
		nullString(u.Message), u.CreatedAt, u.UpdatedAt)
	return err
}

func (s *Store) GetUpload(ctx context.Context, id string) (*Upload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, image_id, filename, size, status, message, created_at, updated_at
		 FROM uploads WHERE id = ?`, id)
	return scanUpload(row)
}

func (s *Store) UpdateUploadStatus(ctx context.Context, id, status, message string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE uploads SET status = ?, message = ?, updated_at = ? WHERE id = ?`,
		status, nullString(message), at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUploadNotFound, id)
	}
	return nil
}

// ListUploads returns the newest uploads first. userID 0 lists every user.
func (s *Store) ListUploads(ctx context.Context, userID int64, limit int) ([]*Upload, error) {
	query := `SELECT id, user_id, image_id, filename, size, status, message, created_at, updated_at
		 FROM uploads`
	var args []any
	if userID != 0 {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []*Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

func (s *Store) AddGenerated(ctx context.Context, g *GeneratedImage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generated_images (id, upload_id, user_id, url, progress, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, nullString(g.UploadID), g.UserID, g.URL, g.Progress, g.ReceivedAt)
	return err
}

// ListGenerated returns a user's generated images in arrival order.
func (s *Store) ListGenerated(ctx context.Context, userID int64) ([]*GeneratedImage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, upload_id, user_id, url, progress, received_at
		 FROM generated_images WHERE user_id = ? ORDER BY received_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []*GeneratedImage
	for rows.Next() {
		g := &GeneratedImage{}
		var uploadID sql.NullString
		if err := rows.Scan(&g.ID, &uploadID, &g.UserID, &g.URL, &g.Progress, &g.ReceivedAt); err != nil {
			return nil, err
		}
		g.UploadID = uploadID.String
		images = append(images, g)
	}
	return images, rows.Err()
}

func (s *Store) CountGenerated(ctx context.Context, uploadID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generated_images WHERE upload_id = ?`, uploadID).Scan(&count)
	return count, err
}

// Prune deletes uploads last touched before cutoff, their generated images, and any
// unattached generated image received before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM generated_images WHERE received_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	images, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM uploads WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	uploads, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return images + uploads, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner) (*Upload, error) {
	u := &Upload{}
	var filename, message sql.NullString
	err := row.Scan(&u.ID, &u.UserID, &u.ImageID, &filename, &u.Size, &u.Status,
		&message, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Filename = filename.String
	u.Message = message.String
	return u, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
