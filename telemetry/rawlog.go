package telemetry

import (
	"time"

	"github.com/juju/errors"
	"github.com/lestrrat-go/strftime"
)

const DefaultTimeFormat = "%H:%M:%S"

type Direction uint8

const (
	Received Direction = iota
	Sent
)

func (d Direction) String() string {
	if d == Sent {
		return "tx"
	}
	return "rx"
}

type Entry struct {
	Time time.Time
	Dir  Direction
	Text string
}

// RawLog is the console: every received line and every sent frame, verbatim.
// It feeds CSV export. Max=0 means unlimited. Not safe for concurrent use.
type RawLog struct {
	Max     int
	entries []Entry
	format  *strftime.Strftime
}

// NewRawLog pattern is strftime syntax, empty means DefaultTimeFormat.
func NewRawLog(pattern string, max int) (*RawLog, error) {
	if pattern == "" {
		pattern = DefaultTimeFormat
	}
	f, err := strftime.New(pattern)
	if err != nil {
		return nil, errors.Annotatef(err, "raw log time format='%s'", pattern)
	}
	return &RawLog{Max: max, format: f}, nil
}

func (self *RawLog) Append(e Entry) {
	if self.Max > 0 && len(self.entries) >= self.Max {
		copy(self.entries, self.entries[1:])
		self.entries = self.entries[:len(self.entries)-1]
	}
	self.entries = append(self.entries, e)
}

func (self *RawLog) Len() int { return len(self.entries) }

func (self *RawLog) Entries() []Entry {
	out := make([]Entry, len(self.entries))
	copy(out, self.entries)
	return out
}

// Format renders entry as console line "<time>, <text>".
func (self *RawLog) Format(e Entry) string {
	return self.format.FormatString(e.Time) + ", " + e.Text
}

// Lines renders all entries in order.
func (self *RawLog) Lines() []string {
	out := make([]string, len(self.entries))
	for i, e := range self.entries {
		out[i] = self.Format(e)
	}
	return out
}

func (self *RawLog) Clear() { self.entries = self.entries[:0] }
