// Package persist remembers bench preset (last connection and power setpoint) across restarts.
// Storage is extremofile, so power loss during write keeps previous copy.
package persist

import (
	"bytes"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/extremofile"
	"github.com/temoto/mtq-tester/log2"
)

const dirName = "preset"

type storage interface {
	Read() ([]byte, error)
	Write(b []byte) (int, error)
}

// Store keeps one Preset in root/preset. Zero root gives disabled Store:
// LoadOr returns default, Save does nothing.
type Store struct {
	mu      sync.Mutex
	log     *log2.Log
	storage storage
	last    []byte
}

func NewStore(root string, log *log2.Log) *Store {
	s := &Store{log: log}
	if root == "" {
		log.Debugf("persist preset disabled")
		return s
	}
	s.storage = extremofile.New(extremofile.Config{
		Dir:      filepath.Join(root, dirName),
		DirPerm:  0755,
		FilePerm: 0644,
	})
	return s
}

func (s *Store) Enabled() bool { return s.storage != nil }

// LoadOr returns remembered preset or def when nothing was stored yet.
// Unreadable data also gives def, with error for caller to report.
func (s *Store) LoadOr(def Preset) (Preset, error) {
	if s.storage == nil {
		return def, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tbegin := time.Now()
	b, err := s.storage.Read()
	s.log.Debugf("persist preset read duration=%v", time.Since(tbegin))
	if b == nil {
		return def, errors.Annotate(err, "persist preset load")
	}
	if err != nil {
		// extremofile recovered one copy
		s.log.Errorf("persist preset ignore non-critical storage err=%v", err)
	}
	var p Preset
	if err = p.UnmarshalBinary(b); err != nil {
		return def, errors.NotValidf("persist preset data=%x err=%v", b, err)
	}
	s.last = b
	return p, nil
}

// Save writes p unless it equals last loaded or saved value.
func (s *Store) Save(p Preset) error {
	if s.storage == nil {
		return nil
	}
	b, err := p.MarshalBinary()
	if err != nil {
		return errors.Annotate(err, "persist preset marshal")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil && bytes.Equal(b, s.last) {
		return nil
	}
	tbegin := time.Now()
	if _, err = s.storage.Write(b); err != nil {
		return errors.Annotate(err, "persist preset store")
	}
	s.log.Debugf("persist preset write %s duration=%v", p.Format(), time.Since(tbegin))
	s.last = b
	return nil
}
