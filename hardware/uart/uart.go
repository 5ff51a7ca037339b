// Package uart is serial byte stream transport to the bench board.
// Drivers: "serial" (go.bug.st/serial, any OS), "file" (linux tty + termios).
package uart

import (
	"expvar"
	"sort"
	"time"

	"github.com/juju/errors"
	"go.bug.st/serial"
)

const (
	DriverSerial = "serial"
	DriverFile   = "file"

	DefaultBaud        = 9600
	DefaultReadTimeout = 100 * time.Millisecond
)

// Baud rates offered by the bench tool menu.
var BaudRates = []int{9600, 14400, 19200, 38400, 57600, 115200}

var ErrClosed = errors.New("uart closed")

// Uarter contract:
// - Read blocks at most read timeout; timeout without data returns 0,nil
// - any Read error means the line is lost, caller must Close
// - Write is synchronous, no cancellation
type Uarter interface {
	Open(path string, baud int) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

func New(driver string, readTimeout time.Duration) (Uarter, error) {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	switch driver {
	case "", DriverSerial:
		return NewSerialUart(readTimeout), nil
	case DriverFile:
		return NewFileUart(readTimeout), nil
	}
	return nil, errors.NotSupportedf("uart driver='%s' (expected serial|file)", driver)
}

// ListPorts is port picker convenience, sorted.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Annotate(err, "uart list ports")
	}
	sort.Strings(ports)
	return ports, nil
}

func CheckBaud(baud int) error {
	for _, b := range BaudRates {
		if b == baud {
			return nil
		}
	}
	return errors.NotValidf("baud=%d", baud)
}

// Counted wraps Uarter and adds transferred bytes to rx/tx counters.
// Counters survive reconnect, owner resets them.
type Counted struct {
	Uarter
	rx *expvar.Int
	tx *expvar.Int
}

func NewCounted(u Uarter, rx, tx *expvar.Int) *Counted {
	return &Counted{Uarter: u, rx: rx, tx: tx}
}

func (self *Counted) Read(p []byte) (int, error) {
	n, err := self.Uarter.Read(p)
	if n > 0 {
		self.rx.Add(int64(n))
	}
	return n, err
}

// Write counts bytes accepted by driver, also on partial write error.
func (self *Counted) Write(p []byte) (int, error) {
	n, err := self.Uarter.Write(p)
	if n > 0 {
		self.tx.Add(int64(n))
	}
	return n, err
}
