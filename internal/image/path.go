package image

import (
	"errors"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrAbsoluteDir   = errors.New("save directory must be relative")
	ErrDirEscapes    = errors.New("save directory leaves the working directory")
	ErrReservedName  = errors.New("save directory uses a reserved device name")
	ErrLeadingHyphen = errors.New("save directory element starts with a hyphen")
)

const maxNameLen = 96

// device names Windows refuses as file or directory names, with or without extension
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

func isReserved(name string) bool {
	stem := strings.ToLower(name)
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	return reservedNames[stem]
}

// ValidateSaveDir accepts a directory below the working directory for downloaded
// variations. Every element is checked, not only the last one.
func ValidateSaveDir(dir string) error {
	if filepath.IsAbs(dir) || strings.HasPrefix(dir, "/") {
		return ErrAbsoluteDir
	}
	if !filepath.IsLocal(dir) {
		return ErrDirEscapes
	}
	for _, elem := range strings.Split(filepath.ToSlash(filepath.Clean(dir)), "/") {
		if strings.HasPrefix(elem, "-") {
			return ErrLeadingHyphen
		}
		if isReserved(elem) {
			return ErrReservedName
		}
	}
	return nil
}

// variationName reduces the last path segment of a variation URL to a portable file
// name. It returns "" when nothing usable is left.
func variationName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	name := strings.TrimLeft(b.String(), ".-_")
	name = strings.TrimRight(name, ".")

	if len(name) > maxNameLen {
		ext := path.Ext(name)
		if len(ext) > 8 {
			ext = ""
		}
		name = name[:maxNameLen-len(ext)] + ext
	}
	if isReserved(name) {
		name = "_" + name
	}
	return name
}
