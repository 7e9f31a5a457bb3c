package transport

import (
	"bytes"

	"github.com/aeolun/ipk24chat/pkg/protocol"
)

// MaxPendingLine bounds the bytes buffered while waiting for a CRLF.
const MaxPendingLine = 64 * 1024

var crlf = []byte(protocol.LineTerminator)

// lineFramer splits a byte stream into CRLF-terminated lines, carrying a
// partial trailing line over to the next feed.
type lineFramer struct {
	pending []byte

	// discarding is set while skipping the rest of an oversized line.
	discarding bool
}

// feed appends chunk and returns every line it completed, without terminators.
// overflow is reported once per line that grew past MaxPendingLine; the
// remainder of that line, up to its CRLF, is dropped.
func (f *lineFramer) feed(chunk []byte) (lines []string, overflow bool) {
	f.pending = append(f.pending, chunk...)

	for {
		i := bytes.Index(f.pending, crlf)
		if i < 0 {
			break
		}
		if f.discarding {
			f.discarding = false
		} else {
			lines = append(lines, string(f.pending[:i]))
		}
		f.pending = f.pending[i+len(crlf):]
	}

	if len(f.pending) > MaxPendingLine {
		if !f.discarding {
			overflow = true
			f.discarding = true
		}
		// A trailing CR may be the first half of the terminator.
		if f.pending[len(f.pending)-1] == '\r' {
			f.pending = append(f.pending[:0], '\r')
		} else {
			f.pending = f.pending[:0]
		}
	}

	if len(f.pending) == 0 {
		f.pending = nil
	}
	return lines, overflow
}

// buffered reports how many bytes are waiting for a terminator.
func (f *lineFramer) buffered() int {
	return len(f.pending)
}
