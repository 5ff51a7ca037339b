package uart

import (
	"bytes"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
)

type mockEffect struct {
	b     []byte
	delay time.Duration
	err   error
}

// Mock is scripted Uarter for tests and dry runs.
// Script is space separated effects, each a comma list of tokens:
// b<hex> bytes to return, d<duration> delay before return, e<text> read error.
// Example: "b31322c302c, d10ms,b302c300a e" reads two chunks then fails.
// When script is exhausted Read behaves like silent line.
type Mock struct {
	OpenErr error
	Idle    time.Duration

	mu      sync.Mutex
	effects []mockEffect
	written bytes.Buffer
	opened  bool
	path    string
	baud    int
	closed  chan struct{}
}

func NewMock(script string) *Mock {
	m := &Mock{Idle: 5 * time.Millisecond}
	m.Script(script)
	return m
}

// Script appends effects, panics on bad syntax.
func (self *Mock) Script(s string) {
	effects := make([]mockEffect, 0, 8)
	for _, es := range strings.Fields(s) {
		e := mockEffect{}
		for _, token := range strings.Split(es, ",") {
			if token == "" {
				continue
			}
			switch token[0] {
			case 'b':
				b, err := hex.DecodeString(token[1:])
				if err != nil {
					panic(errors.Annotatef(err, "code error uart mock token=%s", token))
				}
				e.b = b
			case 'd':
				d, err := time.ParseDuration(token[1:])
				if err != nil {
					panic(errors.Annotatef(err, "code error uart mock token=%s", token))
				}
				e.delay = d
			case 'e':
				msg := "mock read error"
				if token[1:] != "" {
					msg += ": " + token[1:]
				}
				e.err = errors.New(msg)
			default:
				panic("code error uart mock unknown token=" + token)
			}
		}
		effects = append(effects, e)
	}
	self.mu.Lock()
	self.effects = append(self.effects, effects...)
	self.mu.Unlock()
}

// Feed appends plain text chunk, convenient for telemetry lines.
func (self *Mock) Feed(s string) {
	self.mu.Lock()
	self.effects = append(self.effects, mockEffect{b: []byte(s)})
	self.mu.Unlock()
}

func (self *Mock) Open(path string, baud int) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.OpenErr != nil {
		return self.OpenErr
	}
	self.opened, self.path, self.baud = true, path, baud
	self.closed = make(chan struct{})
	return nil
}

func (self *Mock) Read(p []byte) (int, error) {
	self.mu.Lock()
	if !self.opened {
		self.mu.Unlock()
		return 0, ErrClosed
	}
	closed := self.closed
	if len(self.effects) == 0 {
		idle := self.Idle
		self.mu.Unlock()
		select {
		case <-time.After(idle):
		case <-closed:
		}
		return 0, nil
	}
	e := self.effects[0]
	n := copy(p, e.b)
	if n < len(e.b) {
		self.effects[0].b = e.b[n:]
		self.effects[0].delay = 0
	} else {
		self.effects = self.effects[1:]
	}
	self.mu.Unlock()

	if e.delay != 0 {
		select {
		case <-time.After(e.delay):
		case <-closed:
			return 0, ErrClosed
		}
	}
	if e.err != nil {
		return n, e.err
	}
	return n, nil
}

func (self *Mock) Write(p []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if !self.opened {
		return 0, ErrClosed
	}
	return self.written.Write(p)
}

func (self *Mock) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.opened {
		close(self.closed)
	}
	self.opened = false
	return nil
}

// Written returns hex of everything written so far.
func (self *Mock) Written() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return hex.EncodeToString(self.written.Bytes())
}

func (self *Mock) ResetWritten() {
	self.mu.Lock()
	self.written.Reset()
	self.mu.Unlock()
}

func (self *Mock) IsOpen() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.opened
}

func (self *Mock) Opened() (string, int) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.path, self.baud
}
