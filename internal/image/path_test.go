package image

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateSaveDir(t *testing.T) {
	tests := []struct {
		dir     string
		wantErr error
	}{
		{"variations", nil},
		{"variations/2024-06", nil},
		{"./variations", nil},
		{"out/../variations", nil},
		{"cat..v2", nil},
		{"/tmp/variations", ErrAbsoluteDir},
		{"../variations", ErrDirEscapes},
		{"variations/../../etc", ErrDirEscapes},
		{"", ErrDirEscapes},
		{"-rf", ErrLeadingHyphen},
		{"variations/--force", ErrLeadingHyphen},
		{"nul", ErrReservedName},
		{"variations/COM1.tmp", ErrReservedName},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			err := ValidateSaveDir(tt.dir)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateSaveDir(%q) error = %v", tt.dir, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSaveDir(%q) error = %v, want %v", tt.dir, err, tt.wantErr)
			}
		})
	}
}

func TestVariationName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn.example.com/variations/1.png", "1.png"},
		{"/storage/variations/2.webp", "2.webp"},
		{"https://cdn.example.com/variations/.hidden.png", "hidden.png"},
		{"https://cdn.example.com/variations/-flag.png", "flag.png"},
		{"https://cdn.example.com/variations/a:b*c?.png", "abc"},
		{"https://cdn.example.com/variations/trailing..", "trailing"},
		{"https://cdn.example.com/variations/aux", "_aux"},
		{"https://cdn.example.com/", ""},
		{"://bad", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := variationName(tt.url); got != tt.want {
				t.Errorf("variationName(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestVariationName_Truncates(t *testing.T) {
	long := "https://cdn.example.com/variations/" + strings.Repeat("a", 300) + ".jpeg"
	got := variationName(long)
	if len(got) != maxNameLen {
		t.Errorf("len(variationName()) = %d, want %d", len(got), maxNameLen)
	}
	if !strings.HasSuffix(got, ".jpeg") {
		t.Errorf("variationName() = %q, want .jpeg suffix", got)
	}
}
