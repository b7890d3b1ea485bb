package display

import (
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	escapeStart = "\x1b_G"
	escapeEnd   = "\x1b\\"
	chunkSize   = 4096
)

// KittyEncoder writes PNG data with the kitty graphics protocol.
type KittyEncoder struct {
	out     io.Writer
	columns int
}

func NewKittyEncoder(out io.Writer, columns int) *KittyEncoder {
	return &KittyEncoder{out: out, columns: columns}
}

func (e *KittyEncoder) Encode(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	payload := base64.StdEncoding.EncodeToString(data)
	chunks := splitIntoChunks(payload, chunkSize)

	for i, chunk := range chunks {
		var params []string
		if i == 0 {
			params = e.firstParams()
		}
		switch {
		case len(chunks) == 1:
		case i == len(chunks)-1:
			params = append(params, "m=0")
		default:
			params = append(params, "m=1")
		}

		if _, err := fmt.Fprintf(e.out, "%s%s;%s%s", escapeStart, strings.Join(params, ","), chunk, escapeEnd); err != nil {
			return err
		}
	}
	return nil
}

func (e *KittyEncoder) firstParams() []string {
	params := []string{"a=T", "f=100", "q=2"}
	if e.columns > 0 {
		params = append(params, "c="+strconv.Itoa(e.columns))
	}
	return params
}

func splitIntoChunks(s string, size int) []string {
	var chunks []string
	for len(s) > size {
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
