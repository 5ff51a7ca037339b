package uart

import (
	"io"
	"os"
	"time"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

var fileBauds = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// fileUart talks to tty device node directly, raw 8N1.
type fileUart struct {
	f       *os.File
	fd      int
	timeout time.Duration
}

func NewFileUart(readTimeout time.Duration) *fileUart {
	return &fileUart{fd: -1, timeout: readTimeout}
}

func (self *fileUart) Open(path string, baud int) error {
	if self.f != nil {
		_ = self.Close()
	}
	if baud == 0 {
		baud = DefaultBaud
	}
	speed, ok := fileBauds[baud]
	if !ok {
		return errors.NotSupportedf("file uart baud=%d", baud)
	}
	f, err := os.OpenFile(path, unix.O_RDWR|unix.O_NOCTTY, 0600)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFound(err, "port not found")
		}
		return errors.Annotatef(err, "file uart open path=%s", path)
	}
	// Fd() switches file to blocking mode, reads are guarded by poll below
	fd := int(f.Fd())
	if err = setRaw(fd, speed); err != nil {
		f.Close()
		return errors.Annotatef(err, "file uart termios path=%s baud=%d", path, baud)
	}
	self.f, self.fd = f, fd
	return nil
}

func setRaw(fd int, speed uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed, t.Ospeed = speed, speed
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	// TCSETSF also discards stale input
	return unix.IoctlSetTermios(fd, unix.TCSETSF, t)
}

func (self *fileUart) Read(p []byte) (int, error) {
	if self.f == nil {
		return 0, ErrClosed
	}
	fds := []unix.PollFd{{Fd: int32(self.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(self.timeout/time.Millisecond))
	if err == unix.EINTR || (err == nil && n == 0) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Annotate(err, "file uart poll")
	}
	if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 && fds[0].Revents&unix.POLLIN == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	n, err = unix.Read(self.fd, p)
	if err != nil {
		return 0, errors.Annotate(err, "file uart read")
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (self *fileUart) Write(p []byte) (int, error) {
	if self.f == nil {
		return 0, ErrClosed
	}
	return self.f.Write(p)
}

func (self *fileUart) Close() error {
	if self.f == nil {
		return nil
	}
	err := self.f.Close()
	self.f, self.fd = nil, -1
	return err
}
