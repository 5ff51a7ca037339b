// Package telemetry turns the board's newline-terminated CSV stream into
// bounded numeric time series.
package telemetry

import (
	"bytes"
	"fmt"
)

const (
	LineTerminator byte = '\n'
	MaxLineLength       = 4096
	// TruncatedPreview is how many leading bytes of an overlong line are kept.
	TruncatedPreview = 64
)

// Splitter accumulates bytes across reads and extracts complete lines.
// A read boundary never implies a line boundary: partial line is kept
// until its terminator arrives. Not safe for concurrent use.
type Splitter struct {
	buf      []byte
	overflow bool
	size     int
	// Overflows counts lines exceeding MaxLineLength, each returned as truncated marker.
	Overflows uint64
}

// Feed appends p and returns complete lines in arrival order, terminator
// and trailing '\r' removed. Returned strings do not alias p.
// Overlong line comes out as "<preview>...[truncated NB]", never a valid sample.
func (self *Splitter) Feed(p []byte) []string {
	var lines []string
	for len(p) > 0 {
		i := bytes.IndexByte(p, LineTerminator)
		if i < 0 {
			self.accumulate(p)
			break
		}
		self.accumulate(p[:i])
		if self.overflow {
			lines = append(lines, fmt.Sprintf("%s...[truncated %dB]", self.buf, self.size))
			self.overflow = false
			self.size = 0
		} else {
			lines = append(lines, string(bytes.TrimSuffix(self.buf, []byte{'\r'})))
		}
		self.buf = self.buf[:0]
		p = p[i+1:]
	}
	return lines
}

// Pending returns length of the incomplete tail.
func (self *Splitter) Pending() int { return len(self.buf) }

func (self *Splitter) Reset() {
	self.buf = self.buf[:0]
	self.overflow = false
	self.size = 0
}

func (self *Splitter) accumulate(p []byte) {
	if self.overflow {
		self.size += len(p)
		return
	}
	if len(self.buf)+len(p) > MaxLineLength {
		self.overflow = true
		self.Overflows++
		self.size = len(self.buf) + len(p)
		if len(self.buf) >= TruncatedPreview {
			self.buf = self.buf[:TruncatedPreview]
		} else {
			self.buf = append(self.buf, p[:TruncatedPreview-len(self.buf)]...)
		}
		return
	}
	self.buf = append(self.buf, p...)
}
