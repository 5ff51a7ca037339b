// mtq-monitor records bench telemetry without operator: connect, stream, export CSV on exit.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/mtq-tester/internal/commands"
	"github.com/temoto/mtq-tester/log2"
	"github.com/temoto/mtq-tester/state"
)

var log = log2.NewStderr(log2.LInfo)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", "mtq-tester.hcl", "")
	flagDevice := cmdline.String("device", "", "serial port, overrides config serial.device")
	flagBaud := cmdline.Int("baud", 0, "overrides config serial.baud")
	flagStream := cmdline.Bool("stream", true, "send Data Stream ON after connect")
	flagOut := cmdline.String("out", "", "export dir, overrides config export.dir")
	flagQuiet := cmdline.Bool("quiet", false, "do not print raw lines to stdout")
	_ = cmdline.Parse(os.Args[1:])

	if sdnotify("start") {
		// under systemd, journal adds timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	if *flagDevice != "" {
		config.Serial.Device = *flagDevice
	}
	if *flagBaud != 0 {
		config.Serial.Baud = *flagBaud
	}
	if *flagOut != "" {
		config.Export.Dir = *flagOut
	}
	config.Serial.StreamOnConnect = config.Serial.StreamOnConnect || *flagStream

	ctx, g := state.NewContext(log)
	if !*flagQuiet {
		g.Echo = func(line string) { fmt.Println(line) }
	}
	g.MustInit(ctx, config)
	var echo uint32 = 1
	commands.Register(g, &echo)

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	path, err := record(ctx, g, sigch, func() { sdnotify(daemon.SdNotifyReady) })
	if path != "" {
		log.Infof("exported path=%s", path)
	}
	if cerr := g.Close(); cerr != nil {
		g.Error(cerr)
	}
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
