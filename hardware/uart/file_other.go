//go:build !linux

package uart

import (
	"time"

	"github.com/juju/errors"
)

type fileUart struct{}

func NewFileUart(readTimeout time.Duration) *fileUart { return &fileUart{} }

func (self *fileUart) Open(path string, baud int) error {
	return errors.NotSupportedf("file uart on this OS, use driver=serial")
}
func (self *fileUart) Read(p []byte) (int, error)  { return 0, ErrClosed }
func (self *fileUart) Write(p []byte) (int, error) { return 0, ErrClosed }
func (self *fileUart) Close() error                { return nil }
