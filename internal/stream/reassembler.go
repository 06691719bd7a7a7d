// internal/stream/reassembler.go
package stream

import (
	"bytes"
	"strings"
)

// LineBuffer reassembles complete lines from raw network chunks whose
// boundaries fall anywhere: mid-line, or even mid-rune. Bytes are only
// converted to a string once a full line is present, so a multi-byte
// UTF-8 sequence split across chunks is never corrupted.
type LineBuffer struct {
	buf []byte
}

// Feed appends a chunk and returns every complete line it unlocked, in
// order, without trailing newlines. A chunk containing no newline returns
// nothing and simply grows the buffer.
func (b *LineBuffer) Feed(chunk []byte) []string {
	b.buf = append(b.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(b.buf[:i]), "\r")
		b.buf = b.buf[i+1:]
		lines = append(lines, line)
	}
	return lines
}

// Flush returns the buffered partial line, if any, and resets the buffer.
// Called once when the stream ends, since the final line may lack a
// terminating newline.
func (b *LineBuffer) Flush() (string, bool) {
	if len(b.buf) == 0 {
		return "", false
	}
	line := strings.TrimSuffix(string(b.buf), "\r")
	b.buf = nil
	return line, true
}
