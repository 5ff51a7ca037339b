package engine

import (
	"context"
	"sync"

	"github.com/juju/errors"
)

// Lazy resolves its Doer on first use, so aliases may refer to words registered later.
// An alias that reaches itself through other aliases is rejected on Force.
type Lazy struct {
	Name    string
	mu      sync.Mutex
	r       func(string) (Doer, error)
	cache   Doer
	checked bool
}

func NewLazy(name string, resolve func(string) (Doer, error)) *Lazy {
	return &Lazy{Name: name, r: resolve}
}

func (l *Lazy) Force() (Doer, error) {
	d, err := l.resolve()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	checked := l.checked
	l.mu.Unlock()
	if !checked {
		if err = checkRecursion(l, nil); err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.checked = true
		l.mu.Unlock()
	}
	return d, nil
}

// resolve parses scenario once. Parsing never forces nested aliases.
func (l *Lazy) resolve() (Doer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cache == nil {
		d, err := l.r(l.Name)
		if err != nil {
			return nil, err
		}
		l.cache = d
	}
	return l.cache, nil
}

func (l *Lazy) Validate() error {
	d, err := l.Force()
	if err != nil {
		return err
	}
	return d.Validate()
}

func (l *Lazy) Do(ctx context.Context) error {
	d, err := l.Force()
	if err != nil {
		return err
	}
	return d.Do(ctx)
}

func (l *Lazy) String() string { return l.Name }

func checkRecursion(d Doer, stack []*Lazy) error {
	switch x := d.(type) {
	case *Lazy:
		for _, s := range stack {
			if s == x {
				return errors.NotValidf("alias=%s recursion", x.Name)
			}
		}
		inner, err := x.resolve()
		if err != nil {
			// broken alias is reported by Validate
			return nil
		}
		return checkRecursion(inner, append(stack, x))
	case *Seq:
		for _, item := range x.items {
			if err := checkRecursion(item, stack); err != nil {
				return err
			}
		}
	case RepeatN:
		return checkRecursion(x.D, stack)
	}
	return nil
}
