// Package display draws generated variations inline in capable terminals.
package display

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

var ErrUnsupportedTerminal = errors.New("terminal does not support inline images")

type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

type URLChecker interface {
	CheckFetch(rawURL string) error
}

type Displayer struct {
	out     io.Writer
	fetcher Fetcher
	urls    URLChecker
	columns int
}

func New(out io.Writer, fetcher Fetcher, urls URLChecker) *Displayer {
	return &Displayer{out: out, fetcher: fetcher, urls: urls, columns: 40}
}

// ShowURL downloads one variation and draws it followed by its URL.
func (d *Displayer) ShowURL(ctx context.Context, rawURL string) error {
	if d.urls != nil {
		if err := d.urls.CheckFetch(rawURL); err != nil {
			return fmt.Errorf("refusing to display %s: %w", rawURL, err)
		}
	}

	data, err := d.fetcher.FetchBytes(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}

	if err := NewKittyEncoder(d.out, d.columns).Encode(data); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	fmt.Fprintf(d.out, "\n%s\n", rawURL)
	return nil
}

func (d *Displayer) ShowAll(ctx context.Context, urls []string) error {
	for i, u := range urls {
		if err := d.ShowURL(ctx, u); err != nil {
			return fmt.Errorf("failed to display image %d: %w", i+1, err)
		}
	}
	return nil
}

// IsTerminalSupported reports whether out is a terminal that understands the kitty
// graphics protocol.
func IsTerminalSupported(out io.Writer, getenv func(string) string) bool {
	f, ok := out.(*os.File)
	if !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return false
	}
	return TerminalAdvertisesGraphics(getenv)
}

// TerminalAdvertisesGraphics inspects the environment only.
func TerminalAdvertisesGraphics(getenv func(string) string) bool {
	if getenv == nil {
		getenv = os.Getenv
	}

	switch strings.ToLower(getenv("TERM_PROGRAM")) {
	case "kitty", "ghostty", "wezterm":
		return true
	}
	if getenv("KITTY_WINDOW_ID") != "" {
		return true
	}

	term := strings.ToLower(getenv("TERM"))
	return strings.Contains(term, "kitty") || strings.Contains(term, "ghostty")
}
