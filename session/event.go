package session

import (
	"fmt"
	"time"
)

type State uint32

const (
	StateIdle State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "idle"
}

type EventKind uint8

const (
	EventInvalid EventKind = iota
	EventOpened
	EventClosed
	// EventLost means read failure ended the connection, Err is set.
	EventLost
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventLost:
		return "lost"
	}
	return fmt.Sprintf("EventKind(%d)", k)
}

type Event struct {
	Kind   EventKind
	Device string
	Err    error
	Time   time.Time
}

func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%s device=%s err=%v", e.Kind, e.Device, e.Err)
	}
	return fmt.Sprintf("%s device=%s", e.Kind, e.Device)
}

type Status struct {
	State     State
	Device    string
	Baud      int
	Lines     uint64 // received lines
	Accepted  uint64 // lines parsed into samples
	Rejected  uint64
	Overflows uint64 // lines dropped for length
	Sent      uint64 // frames
	RxBytes   int64
	TxBytes   int64
	BufferLen int
	LastRx    time.Time // zero if nothing received yet
	Err       error     // reason of last connection loss
}

func (s Status) String() string {
	last := "never"
	if !s.LastRx.IsZero() {
		last = s.LastRx.Format("15:04:05.000")
	}
	str := fmt.Sprintf("state=%s device=%s baud=%d lines=%d accepted=%d rejected=%d overflow=%d sent=%d rx=%dB tx=%dB buffer=%d last_rx=%s",
		s.State, s.Device, s.Baud, s.Lines, s.Accepted, s.Rejected, s.Overflows, s.Sent, s.RxBytes, s.TxBytes, s.BufferLen, last)
	if s.Err != nil {
		str += fmt.Sprintf(" err=%v", s.Err)
	}
	return str
}
