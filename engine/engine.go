// Package engine turns REPL text into actions and runs them.
// Line is whitespace separated words, each word becomes Doer, line is Seq.
// Built-in words: sN (sleep N ms), loop=N (repeat whole line).
package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/mtq-tester/helpers"
	"github.com/temoto/mtq-tester/log2"
)

const ContextKey = "run/engine"

// WordParser returns ok=false when word is not recognized.
type WordParser func(word string) (d Doer, ok bool, err error)

// LineParser takes whole line when its name is first word, e.g. "connect /dev/ttyUSB0 9600".
type LineParser func(args []string) (Doer, error)

type Engine struct {
	Log *log2.Log

	lk      sync.Mutex
	actions map[string]Doer
	parsers []WordParser
	lines   map[string]LineParser
}

// Context[key] -> *Engine or panic
func GetEngine(ctx context.Context) *Engine {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Errorf("context['%v'] is nil", ContextKey))
	}
	if e, ok := v.(*Engine); ok {
		return e
	}
	panic(fmt.Errorf("context['%v'] expected type *Engine", ContextKey))
}

func NewEngine(log *log2.Log) *Engine {
	return &Engine{
		Log:     log,
		actions: make(map[string]Doer, 32),
		lines:   make(map[string]LineParser),
	}
}

func (self *Engine) Register(action string, d Doer) {
	self.lk.Lock()
	self.actions[action] = d
	self.lk.Unlock()
}

func (self *Engine) RegisterParser(p WordParser) {
	self.lk.Lock()
	self.parsers = append(self.parsers, p)
	self.lk.Unlock()
}

func (self *Engine) RegisterLine(name string, p LineParser) {
	self.lk.Lock()
	self.lines[name] = p
	self.lk.Unlock()
}

// RegisterAlias binds name to scenario text, parsed on first use.
func (self *Engine) RegisterAlias(name, scenario string) {
	self.Register(name, NewLazy(name, func(string) (Doer, error) {
		return self.ParseText(name, scenario)
	}))
}

func (self *Engine) Resolve(action string) (Doer, error) {
	self.lk.Lock()
	d, ok := self.actions[action]
	self.lk.Unlock()
	if !ok {
		return nil, errors.NotFoundf("action=%s", action)
	}
	return d, nil
}

// Words lists registered action and line names, sorted.
func (self *Engine) Words() []string {
	self.lk.Lock()
	defer self.lk.Unlock()
	ws := make([]string, 0, len(self.actions)+len(self.lines))
	for k := range self.actions {
		ws = append(ws, k)
	}
	for k := range self.lines {
		ws = append(ws, k)
	}
	sort.Strings(ws)
	return ws
}

func (self *Engine) ParseText(tag, text string) (Doer, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return Nothing{Name: tag}, nil
	}

	self.lk.Lock()
	lp, isLine := self.lines[words[0]]
	self.lk.Unlock()
	if isLine {
		d, err := lp(words[1:])
		return d, errors.Annotatef(err, "%s", words[0])
	}

	loopn := uint(0)
	tx := NewSeq(tag)
	errs := make([]error, 0)
	for _, word := range words {
		if strings.HasPrefix(word, "loop=") {
			if loopn != 0 {
				errs = append(errs, errors.NotValidf("multiple loop commands, expected at most one"))
				continue
			}
			i, err := strconv.ParseUint(word[5:], 10, 32)
			if err != nil || i == 0 {
				errs = append(errs, errors.NotValidf("word=%s", word))
				continue
			}
			loopn = uint(i)
			continue
		}
		d, err := self.parseWord(word)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tx.Append(d)
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return nil, err
	}
	if loopn != 0 {
		return RepeatN{N: loopn, D: tx}, nil
	}
	return tx, nil
}

func (self *Engine) parseWord(word string) (Doer, error) {
	self.lk.Lock()
	d, ok := self.actions[word]
	parsers := self.parsers
	self.lk.Unlock()
	if ok {
		return d, nil
	}
	if len(word) > 1 && word[0] == 's' {
		if i, err := strconv.ParseUint(word[1:], 10, 32); err == nil {
			return Sleep{Duration: time.Duration(i) * time.Millisecond}, nil
		}
	}
	for _, p := range parsers {
		d, ok, err := p(word)
		if err != nil {
			return nil, errors.Annotatef(err, "word=%s", word)
		}
		if ok {
			return d, nil
		}
	}
	return nil, errors.NotFoundf("word=%s", word)
}

// Exec validates then runs d.
func (self *Engine) Exec(ctx context.Context, d Doer) error {
	if err := d.Validate(); err != nil {
		return errors.Annotatef(err, "validate %s", d.String())
	}
	self.Log.Debugf("engine execute %s", d.String())
	return d.Do(ctx)
}

func (self *Engine) ExecText(ctx context.Context, tag, text string) error {
	d, err := self.ParseText(tag, text)
	if err != nil {
		return errors.Trace(err)
	}
	return self.Exec(ctx, d)
}
