package display

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/manash/vardash/internal/security"
)

type stubFetcher struct {
	data []byte
	err  error
	urls []string
}

func (f *stubFetcher) FetchBytes(_ context.Context, url string) ([]byte, error) {
	f.urls = append(f.urls, url)
	return f.data, f.err
}

func TestDisplayer_ShowURL(t *testing.T) {
	var buf bytes.Buffer
	f := &stubFetcher{data: []byte("png bytes")}
	d := New(&buf, f, nil)

	if err := d.ShowURL(context.Background(), "https://cdn.example.com/v1.png"); err != nil {
		t.Fatalf("ShowURL() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, base64.StdEncoding.EncodeToString([]byte("png bytes"))) {
		t.Error("output should contain the encoded image")
	}
	if !strings.HasSuffix(out, "https://cdn.example.com/v1.png\n") {
		t.Errorf("output should end with the URL, got %q", out)
	}
}

func TestDisplayer_ShowURL_Refused(t *testing.T) {
	var buf bytes.Buffer
	f := &stubFetcher{data: []byte("x")}
	d := New(&buf, f, security.NewURLPolicy())

	err := d.ShowURL(context.Background(), "http://10.0.0.1/v.png")
	if !errors.Is(err, security.ErrPrivateIP) {
		t.Errorf("ShowURL() error = %v, want ErrPrivateIP", err)
	}
	if len(f.urls) != 0 || buf.Len() != 0 {
		t.Error("refused URL should not be fetched or drawn")
	}
}

func TestDisplayer_ShowAll_StopsOnError(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, &stubFetcher{err: errors.New("status 404")}, nil)

	err := d.ShowAll(context.Background(), []string{"https://cdn.example.com/a.png", "https://cdn.example.com/b.png"})
	if err == nil || !strings.Contains(err.Error(), "image 1") {
		t.Errorf("ShowAll() error = %v, want failure on image 1", err)
	}
}

func TestIsTerminalSupported_NonFile(t *testing.T) {
	env := func(string) string { return "kitty" }
	if IsTerminalSupported(&bytes.Buffer{}, env) {
		t.Error("a buffer is never a terminal")
	}
}

func TestTerminalAdvertisesGraphics(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected bool
	}{
		{"no env vars", map[string]string{}, false},
		{"kitty terminal program", map[string]string{"TERM_PROGRAM": "kitty"}, true},
		{"ghostty terminal program", map[string]string{"TERM_PROGRAM": "ghostty"}, true},
		{"wezterm terminal program", map[string]string{"TERM_PROGRAM": "WezTerm"}, true},
		{"apple terminal", map[string]string{"TERM_PROGRAM": "Apple_Terminal"}, false},
		{"kitty window id", map[string]string{"KITTY_WINDOW_ID": "123"}, true},
		{"term contains kitty", map[string]string{"TERM": "xterm-kitty"}, true},
		{"plain xterm", map[string]string{"TERM": "xterm-256color"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv := func(k string) string { return tt.envVars[k] }
			if got := TerminalAdvertisesGraphics(getenv); got != tt.expected {
				t.Errorf("TerminalAdvertisesGraphics() = %v, want %v", got, tt.expected)
			}
		})
	}
}
