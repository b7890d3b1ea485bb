// Package image downloads generated variations to disk.
package image

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultInterval    = 250 * time.Millisecond
	DefaultConcurrency = 4
)

var ErrNotImage = errors.New("downloaded content is not an image")

// Fetcher downloads the body of a URL.
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

type URLChecker interface {
	CheckFetch(rawURL string) error
}

type Saver struct {
	fetcher     Fetcher
	urls        URLChecker
	interval    time.Duration
	concurrency int
}

type Option func(*Saver)

func WithInterval(d time.Duration) Option {
	return func(s *Saver) { s.interval = d }
}

func WithConcurrency(n int) Option {
	return func(s *Saver) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithFetcher(f Fetcher) Option {
	return func(s *Saver) { s.fetcher = f }
}

// NewSaver returns a saver that downloads with go-http-kit and refuses URLs urls rejects.
func NewSaver(timeout time.Duration, urls URLChecker, opts ...Option) *Saver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Saver{
		fetcher:     httpkit.New(timeout),
		urls:        urls,
		interval:    DefaultInterval,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Saver) Save(ctx context.Context, rawURL, dest string) error {
	if s.urls != nil {
		if err := s.urls.CheckFetch(rawURL); err != nil {
			return fmt.Errorf("refusing to download %s: %w", rawURL, err)
		}
	}

	data, err := s.fetcher.FetchBytes(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("failed to download image: %w", err)
	}
	if ct := http.DetectContentType(data); !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("%w: %s", ErrNotImage, ct)
	}

	if err := ensureDir(dest); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// SaveAll downloads urls into dir concurrently, paced by the saver's interval. The
// returned paths follow the order of urls.
func (s *Saver) SaveAll(ctx context.Context, urls []string, dir string) ([]string, error) {
	paths := make([]string, len(urls))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.interval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.interval), 2)
	}

	for i, u := range urls {
		dest := filepath.Join(dir, FilenameFor(u, i))
		paths[i] = dest

		eg.Go(func() error {
			if err := limiter.Wait(egCtx); err != nil {
				return err
			}
			if err := s.Save(egCtx, u, dest); err != nil {
				return fmt.Errorf("failed to save image %d: %w", i+1, err)
			}
			slog.Debug("image saved", "url", u, "path", dest)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// FilenameFor names the index-th variation after the last segment of its URL.
func FilenameFor(rawURL string, index int) string {
	name := variationName(rawURL)
	if name == "" {
		return fmt.Sprintf("variation-%02d.png", index+1)
	}
	if path.Ext(name) == "" {
		name += ".png"
	}
	return fmt.Sprintf("variation-%02d-%s", index+1, name)
}

func ensureDir(p string) error {
	dir := filepath.Dir(p)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
