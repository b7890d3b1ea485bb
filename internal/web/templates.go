package web

import (
	"embed"
	"html/template"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"bytes": func(n int) string {
		if n < 0 {
			n = 0
		}
		return humanize.Bytes(uint64(n))
	},
	// preview only trusts image data URLs; other selections render without one
	"preview": func(s string) template.URL {
		if !strings.HasPrefix(s, "data:image/") {
			return ""
		}
		return template.URL(s)
	},
	"percent": func(p float64) string {
		return strconv.FormatFloat(p, 'f', -1, 64)
	},
	"inc": func(i int) int {
		return i + 1
	},
}

func parseTemplates() (*template.Template, error) {
	return template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
}
