package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/mtq-tester/helpers/cli"
	"github.com/temoto/mtq-tester/internal/commands"
	"github.com/temoto/mtq-tester/log2"
	"github.com/temoto/mtq-tester/state"
)

var log = log2.NewStderr(log2.LInfo)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", "", "path to mtq-tester.hcl, empty for defaults")
	flagDevice := cmdline.String("device", "", "serial port, overrides config serial.device")
	flagBaud := cmdline.Int("baud", 0, "overrides config serial.baud")
	flagDriver := cmdline.String("driver", "", "serial|file, overrides config serial.driver")
	flagDebug := cmdline.Bool("debug", false, "")
	flagConnect := cmdline.Bool("connect", false, "connect on start")
	_ = cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)
	if *flagDebug {
		log.SetLevel(log2.LDebug)
	}

	config := new(state.Config)
	if *flagConfig != "" {
		config = state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	}
	if *flagDevice != "" {
		config.Serial.Device = *flagDevice
	}
	if *flagBaud != 0 {
		config.Serial.Baud = *flagBaud
	}
	if *flagDriver != "" {
		config.Serial.Driver = *flagDriver
	}
	config.Log.Debug = config.Log.Debug || *flagDebug

	ctx, g := state.NewContext(log)
	var echo uint32
	g.Echo = func(line string) {
		if atomic.LoadUint32(&echo) != 0 {
			fmt.Println(line)
		}
	}
	g.MustInit(ctx, config)
	commands.Register(g, &echo)

	if *flagConnect {
		if err := commands.Connect(ctx, g, "", 0); err != nil {
			g.Error(err)
		}
	}
	for _, line := range config.Engine.OnStart {
		execLine(ctx, g, line)
	}

	err := cli.MainLoop(cli.Config{
		Tag:      "mtq",
		Exec:     func(line string) { execLine(ctx, g, line) },
		Complete: newCompleter(g),
		Interrupt: func(os.Signal) {
			if err := g.Close(); err != nil {
				g.Error(err)
			}
		},
	})
	if err != nil {
		g.Error(err)
	}
	if err = g.Close(); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

func execLine(ctx context.Context, g *state.Global, line string) {
	d, err := g.Engine.ParseText("input", line)
	if err != nil {
		g.Log.Errorf("%v (try help)", err)
		return
	}
	if err = g.Engine.Exec(ctx, d); err != nil {
		g.Error(err)
	}
}

func newCompleter(g *state.Global) func(d prompt.Document) []prompt.Suggest {
	suggests := make([]prompt.Suggest, 0, len(commands.WordHelp)+8)
	seen := make(map[string]struct{})
	for _, w := range commands.WordHelp {
		suggests = append(suggests, prompt.Suggest{Text: w.Word, Description: w.Help})
		seen[w.Word] = struct{}{}
	}
	for _, w := range g.Engine.Words() {
		if _, ok := seen[w]; !ok {
			suggests = append(suggests, prompt.Suggest{Text: w, Description: "alias"})
		}
	}
	return func(d prompt.Document) []prompt.Suggest {
		return cli.Suggest(d, suggests)
	}
}
