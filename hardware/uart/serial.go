package uart

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"go.bug.st/serial"
)

type serialUart struct {
	mu      sync.Mutex
	port    serial.Port
	timeout time.Duration
}

func NewSerialUart(readTimeout time.Duration) *serialUart {
	return &serialUart{timeout: readTimeout}
}

func (self *serialUart) Open(path string, baud int) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.port != nil {
		_ = self.port.Close()
		self.port = nil
	}
	if baud == 0 {
		baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return errors.Annotatef(describePortError(err), "uart open path=%s baud=%d", path, baud)
	}
	if err = port.SetReadTimeout(self.timeout); err != nil {
		_ = port.Close()
		return errors.Annotatef(err, "uart set read timeout=%v", self.timeout)
	}
	self.port = port
	return nil
}

func (self *serialUart) current() serial.Port {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.port
}

func (self *serialUart) Read(p []byte) (int, error) {
	port := self.current()
	if port == nil {
		return 0, ErrClosed
	}
	n, err := port.Read(p)
	if err != nil {
		return n, describePortError(err)
	}
	return n, nil
}

func (self *serialUart) Write(p []byte) (int, error) {
	port := self.current()
	if port == nil {
		return 0, ErrClosed
	}
	return port.Write(p)
}

func (self *serialUart) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.port == nil {
		return nil
	}
	err := self.port.Close()
	self.port = nil
	return err
}

func describePortError(err error) error {
	portErr, ok := err.(*serial.PortError)
	if !ok {
		return err
	}
	switch portErr.Code() {
	case serial.PortNotFound:
		return errors.NewNotFound(err, "port not found")
	case serial.PortBusy:
		return errors.Annotate(err, "port busy")
	case serial.PermissionDenied:
		return errors.NewUnauthorized(err, "permission denied")
	case serial.InvalidSpeed:
		return errors.NewNotValid(err, "baud rate")
	case serial.PortClosed:
		return ErrClosed
	}
	return err
}
