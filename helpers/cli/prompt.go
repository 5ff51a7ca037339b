// Package cli runs line oriented command loop: go-prompt on a terminal, plain stdin lines otherwise.
package cli

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

type Config struct {
	Tag      string
	Exec     func(line string)
	Complete func(d prompt.Document) []prompt.Suggest
	// Interrupt is called on SIGINT/SIGTERM/SIGHUP/SIGQUIT before exit, may be nil.
	Interrupt func(os.Signal)
	History   []string
}

func MainLoop(c Config) error {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		s := <-signalCh
		if c.Interrupt != nil {
			c.Interrupt(s)
		}
		os.Exit(1)
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(c.Exec, c.Complete,
			prompt.OptionPrefix(c.Tag+"> "),
			prompt.OptionTitle(c.Tag),
			prompt.OptionHistory(c.History),
		).Run()
		return nil
	}
	return ScanLines(os.Stdin, c.Exec)
}

// ScanLines calls exec for every trimmed line of r.
func ScanLines(r io.Reader, exec func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		exec(strings.TrimSpace(scanner.Text()))
	}
	return errors.Annotate(scanner.Err(), "cli read input")
}

// Suggest filters words by the word before cursor.
func Suggest(d prompt.Document, words []prompt.Suggest) []prompt.Suggest {
	return prompt.FilterHasPrefix(words, d.GetWordBeforeCursor(), true)
}
