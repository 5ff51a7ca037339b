// Package commands registers REPL words of bench operator into engine.
package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/mtq-tester/engine"
	"github.com/temoto/mtq-tester/export"
	"github.com/temoto/mtq-tester/hardware/uart"
	"github.com/temoto/mtq-tester/log2"
	"github.com/temoto/mtq-tester/protocol"
	"github.com/temoto/mtq-tester/state"
)

const Usage = `syntax: commands separated by whitespace
(connection)
- ports                  list serial ports
- connect [dev] [baud]   open port, default remembered or config serial.device
- disconnect             close port
- status                 connection and counters

(board)
- run, stop              control register
- stream=on|off          telemetry data stream
- mtq=on|off             magnetorquer output
- power=X,Y,Z            set power 0..2000, remembered
- power                  send remembered power
- @XX...                 transmit raw bytes from hex

(data)
- show                   last samples in buffer
- clear                  empty raw log and buffer
- export [dir]           write raw log as CSV
- echo=on|off            print raw log lines as they arrive

(meta)
- sN       pause N milliseconds
- loop=N   repeat N times all commands on this line
- log=yes  enable debug logging
- log=no   disable debug logging
`

const ShowMax = 10

// WordHelp is completion list, word and short description.
var WordHelp = []struct{ Word, Help string }{
	{"help", "show usage"},
	{"ports", "list serial ports"},
	{"connect", "open port [dev] [baud]"},
	{"disconnect", "close port"},
	{"status", "connection and counters"},
	{"run", "RUN"},
	{"stop", "STOP"},
	{"stream=on", "Data Stream ON"},
	{"stream=off", "Data Stream OFF"},
	{"mtq=on", "MTQ ON"},
	{"mtq=off", "MTQ OFF"},
	{"power=", "MTQ Set Power X,Y,Z"},
	{"power", "send remembered power"},
	{"@", "transmit raw hex"},
	{"show", "last samples"},
	{"clear", "empty raw log and buffer"},
	{"export", "write CSV [dir]"},
	{"echo=on", "print incoming lines"},
	{"echo=off", "silence incoming lines"},
	{"sN", "pause for N ms"},
	{"loop=N", "repeat line N times"},
	{"log=yes", "debug logging"},
	{"log=no", "info logging"},
}

var simpleCommands = map[string]protocol.Command{
	"run":        protocol.Run(),
	"stop":       protocol.Stop(),
	"stream=on":  protocol.DataStreamOn(),
	"stream=off": protocol.DataStreamOff(),
	"mtq=on":     protocol.MtqOn(),
	"mtq=off":    protocol.MtqOff(),
}

// Register binds words to g. echo toggles raw line printing, owned by caller.
func Register(g *state.Global, echo *uint32) {
	e := g.Engine
	e.Register("help", engine.Func0{Name: "help", F: func() error {
		g.Log.Infof(Usage)
		return nil
	}})
	e.Register("ports", engine.Func0{Name: "ports", F: func() error {
		ports, err := uart.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			g.Log.Infof("no serial ports found")
		}
		for _, p := range ports {
			g.Log.Infof("port %s", p)
		}
		return nil
	}})
	e.RegisterLine("connect", func(args []string) (engine.Doer, error) {
		device, baud, err := ParseConnectArgs(args)
		if err != nil {
			return nil, err
		}
		return engine.Func{Name: "connect", F: func(ctx context.Context) error {
			return Connect(ctx, g, device, baud)
		}}, nil
	})
	e.Register("disconnect", engine.Func0{Name: "disconnect", F: g.Session.Close})
	e.Register("status", engine.Func0{Name: "status", F: func() error {
		g.Log.Infof("%s", g.Session.Status().String())
		g.Log.Infof("preset %s", g.PresetString())
		if err := g.LastError(); err != nil {
			g.Log.Infof("last error: %v", err)
		}
		return nil
	}})

	for word, cmd := range simpleCommands {
		e.Register(word, newSend(g, word, cmd))
	}
	e.Register("power", engine.Func{Name: "power", F: func(ctx context.Context) error {
		x, y, z := g.Power()
		return g.Session.SendCommand(protocol.SetPower(x, y, z))
	}})
	e.RegisterParser(func(word string) (engine.Doer, bool, error) {
		if !strings.HasPrefix(word, "power=") {
			return nil, false, nil
		}
		x, y, z, err := ParsePower(word[6:])
		if err != nil {
			return nil, true, err
		}
		return engine.Func0{Name: word, F: func() error {
			if err := g.Session.SendCommand(protocol.SetPower(x, y, z)); err != nil {
				return err
			}
			return errors.Annotate(g.SetPower(x, y, z), "remember power")
		}}, true, nil
	})
	e.RegisterParser(func(word string) (engine.Doer, bool, error) {
		if !strings.HasPrefix(word, "@") {
			return nil, false, nil
		}
		b, err := protocol.ParseHex(word[1:])
		if err != nil {
			return nil, true, err
		}
		return engine.Func0{Name: word, F: func() error { return g.Session.Send(b) }}, true, nil
	})

	e.Register("show", engine.Func0{Name: "show", F: func() error {
		for _, line := range ShowLines(g, ShowMax) {
			g.Log.Infof("%s", line)
		}
		return nil
	}})
	e.Register("clear", engine.Func0{Name: "clear", F: func() error {
		g.Session.Clear()
		return nil
	}})
	e.RegisterLine("export", func(args []string) (engine.Doer, error) {
		if len(args) > 1 {
			return nil, errors.NotValidf("export expects at most one argument dir, got %d", len(args))
		}
		return engine.Func0{Name: "export", F: func() error {
			dir := g.Config.Export.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			lines := g.Session.RawLog()
			path, err := export.ExportFile(dir, g.Config.Export.File, time.Now(), lines)
			if err != nil {
				return err
			}
			g.Log.Infof("exported lines=%d path=%s", len(lines), path)
			return nil
		}}, nil
	})
	e.Register("echo=on", engine.Func0{Name: "echo=on", F: func() error {
		atomic.StoreUint32(echo, 1)
		return nil
	}})
	e.Register("echo=off", engine.Func0{Name: "echo=off", F: func() error {
		atomic.StoreUint32(echo, 0)
		return nil
	}})
	e.Register("log=yes", engine.Func0{Name: "log=yes", F: func() error {
		g.Log.SetLevel(log2.LDebug)
		return nil
	}})
	e.Register("log=no", engine.Func0{Name: "log=no", F: func() error {
		g.Log.SetLevel(log2.LInfo)
		return nil
	}})
}

func newSend(g *state.Global, word string, cmd protocol.Command) engine.Doer {
	return engine.Func0{Name: word, F: func() error { return g.Session.SendCommand(cmd) }}
}

// Connect opens session and optionally enables data stream.
func Connect(ctx context.Context, g *state.Global, device string, baud int) error {
	if err := g.Connect(ctx, device, baud); err != nil {
		return err
	}
	st := g.Session.Status()
	g.Log.Infof("connected device=%s baud=%d", st.Device, st.Baud)
	if g.Config.Serial.StreamOnConnect {
		return g.Session.SendCommand(protocol.DataStreamOn())
	}
	return nil
}

// ParseConnectArgs accepts [device] [baud] in any order, baud is numeric.
func ParseConnectArgs(args []string) (string, int, error) {
	device, baud := "", 0
	if len(args) > 2 {
		return "", 0, errors.NotValidf("connect expects [device] [baud], got %d arguments", len(args))
	}
	for _, a := range args {
		if i, err := strconv.Atoi(a); err == nil {
			if baud != 0 {
				return "", 0, errors.NotValidf("connect baud specified twice")
			}
			if err = uart.CheckBaud(i); err != nil {
				return "", 0, err
			}
			baud = i
			continue
		}
		if device != "" {
			return "", 0, errors.NotValidf("connect device specified twice")
		}
		device = a
	}
	return device, baud, nil
}

// ParsePower parses "X,Y,Z" within bench range.
func ParsePower(s string) (x, y, z int16, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return 0, 0, 0, errors.NotValidf("power='%s' expected X,Y,Z", s)
	}
	var vs [3]int
	for i, p := range parts {
		if vs[i], err = strconv.Atoi(strings.TrimSpace(p)); err != nil {
			return 0, 0, 0, errors.NotValidf("power='%s' %c", s, "XYZ"[i])
		}
	}
	if err = protocol.CheckPower(vs[0], vs[1], vs[2]); err != nil {
		return 0, 0, 0, err
	}
	return int16(vs[0]), int16(vs[1]), int16(vs[2]), nil
}

// ShowLines formats buffer summary and last max samples.
func ShowLines(g *state.Global, max int) []string {
	samples := g.Session.Snapshot()
	src := g.Config.TimeSource()
	out := make([]string, 0, max+1)
	out = append(out, fmt.Sprintf("buffer %d/%d time=%s", len(samples), g.Config.Buffer.Capacity, src))
	if len(samples) > max {
		samples = samples[len(samples)-max:]
	}
	for _, s := range samples {
		out = append(out, fmt.Sprintf("t=%.3f x=%g y=%g z=%g", s.Axis(src), s.Values[0], s.Values[1], s.Values[2]))
	}
	return out
}
