package display

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// Kitty graphics protocol framing.
const (
	apcStart  = "\x1b_G"
	apcEnd    = "\x1b\\"
	chunkSize = 4096
)

// KittyEncoder writes PNG data as kitty graphics escape sequences.
type KittyEncoder struct {
	out     io.Writer
	columns int
}

// NewKittyEncoder returns an encoder. A positive columns value asks the
// terminal to scale the image to that many cells wide.
func NewKittyEncoder(out io.Writer, columns int) *KittyEncoder {
	return &KittyEncoder{out: out, columns: columns}
}

func (e *KittyEncoder) control(more bool) string {
	params := []string{"a=T", "f=100", "q=2"}
	if e.columns > 0 {
		params = append(params, fmt.Sprintf("c=%d", e.columns))
	}
	if more {
		params = append(params, "m=1")
	}
	return strings.Join(params, ",")
}

func (e *KittyEncoder) Encode(png []byte) error {
	if len(png) == 0 {
		return nil
	}

	payload := base64.StdEncoding.EncodeToString(png)
	chunks := splitIntoChunks(payload, chunkSize)

	for i, chunk := range chunks {
		last := i == len(chunks)-1

		var params string
		switch {
		case i == 0:
			params = e.control(!last)
		case last:
			params = "m=0"
		default:
			params = "m=1"
		}

		if _, err := fmt.Fprintf(e.out, "%s%s;%s%s", apcStart, params, chunk, apcEnd); err != nil {
			return err
		}
	}
	return nil
}

func splitIntoChunks(s string, size int) []string {
	chunks := make([]string, 0, len(s)/size+1)
	for len(s) > size {
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}
