package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/mtq-tester/engine"
	"github.com/temoto/mtq-tester/hardware/uart"
	"github.com/temoto/mtq-tester/helpers"
	"github.com/temoto/mtq-tester/log2"
	"github.com/temoto/mtq-tester/session"
	"github.com/temoto/mtq-tester/state/persist"
	"github.com/temoto/mtq-tester/tele"
)

const ContextKey = "run/state-global"

type Global struct {
	Alive   *alive.Alive
	Config  *Config
	Engine  *engine.Engine
	Log     *log2.Log
	Session *session.Session
	Uplink  *tele.Uplink

	lk      sync.Mutex
	preset  persist.Preset
	presets *persist.Store
	errMu   sync.Mutex
	lastErr error

	// Echo receives every raw log line, set before Init.
	Echo func(line string)
	// NewUart overrides serial driver before Init, tests only.
	XXX_NewUart func() (uart.Uarter, error)
}

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error state.NewContext() log=nil")
	}
	g := &Global{
		Alive:  alive.NewAlive(),
		Engine: engine.NewEngine(log),
		Log:    log,
		Uplink: new(tele.Uplink),
	}
	// before Init, component loggers are cloned with the hook
	log.SetErrorFunc(g.storeError)
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, engine.ContextKey, g.Engine)
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	if err := cfg.Defaults(); err != nil {
		return errors.Trace(err)
	}
	g.Config = cfg
	if cfg.Log.Debug {
		g.Log.SetLevel(log2.LDebug)
	}

	// tele first, session sink depends on it
	if err := g.Uplink.Init(ctx, g.Log, cfg.Tele); err != nil {
		return errors.Annotate(err, "tele init")
	}

	opt := session.Options{
		Driver:      cfg.Serial.Driver,
		ReadTimeout: cfg.ReadTimeout(),
		QueueSize:   cfg.Serial.QueueSize,
		Capacity:    cfg.Buffer.Capacity,
		RawLogMax:   cfg.Buffer.RawLogMax,
		TimeFormat:  cfg.Log.TimeFormat,
		NewUart:     g.XXX_NewUart,
		Echo:        g.Echo,
	}
	if g.Uplink.Enabled() {
		opt.Sink = g.Uplink
	}
	var err error
	if g.Session, err = session.New(g.Log, opt); err != nil {
		return errors.Annotate(err, "session init")
	}

	errs := make([]error, 0)
	g.presets = persist.NewStore(cfg.Persist.Root, g.Log)
	g.preset, err = g.presets.LoadOr(persist.Preset{Device: cfg.Serial.Device, Baud: int32(cfg.Serial.Baud)})
	if err != nil {
		// broken preset must not block bench work
		g.Error(err, "preset ignored")
	}
	if cfg.Serial.Device != "" {
		// explicit config wins over remembered device
		g.preset.Device, g.preset.Baud = cfg.Serial.Device, int32(cfg.Serial.Baud)
	}

	for _, x := range cfg.Engine.Aliases {
		if x.Name == "" {
			errs = append(errs, errors.NotValidf("config engine.alias name=empty scenario=%s", x.Scenario))
			continue
		}
		g.Engine.RegisterAlias(x.Name, x.Scenario)
	}

	return helpers.FoldErrors(errs)
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Errorf("%s", errors.ErrorStack(err))
	}
}

// LastError is the most recent error logged by any component, nil if none.
func (g *Global) LastError() error {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	return g.lastErr
}

func (g *Global) storeError(e error) {
	g.errMu.Lock()
	g.lastErr = e
	g.errMu.Unlock()
}

// Connect opens session. Empty device or zero baud fall back to remembered preset.
// Successful connection is remembered.
func (g *Global) Connect(ctx context.Context, device string, baud int) error {
	g.lk.Lock()
	if device == "" {
		device = g.preset.Device
	}
	if baud == 0 {
		baud = int(g.preset.Baud)
	}
	g.lk.Unlock()
	if device == "" {
		return errors.NotValidf("device not specified and not remembered")
	}
	if baud == 0 {
		baud = uart.DefaultBaud
	}
	if err := uart.CheckBaud(baud); err != nil {
		return errors.Trace(err)
	}
	if err := g.Session.Open(ctx, device, baud); err != nil {
		return errors.Trace(err)
	}
	g.lk.Lock()
	g.preset.Device, g.preset.Baud = device, int32(baud)
	g.lk.Unlock()
	return g.storePreset()
}

func (g *Global) Power() (x, y, z int16) {
	g.lk.Lock()
	defer g.lk.Unlock()
	return g.preset.Power()
}

// SetPower remembers power setpoint, does not send anything.
func (g *Global) SetPower(x, y, z int16) error {
	g.lk.Lock()
	g.preset.SetPower(x, y, z)
	g.lk.Unlock()
	return g.storePreset()
}

func (g *Global) PresetString() string {
	g.lk.Lock()
	defer g.lk.Unlock()
	return g.preset.Format()
}

func (g *Global) storePreset() error {
	g.lk.Lock()
	defer g.lk.Unlock()
	return g.presets.Save(g.preset)
}

// Close disconnects session and flushes uplink. Safe to call after failed Init.
func (g *Global) Close() error {
	g.Alive.Stop()
	errs := make([]error, 0, 1)
	if g.Session != nil {
		if err := g.Session.Close(); err != nil {
			errs = append(errs, errors.Annotate(err, "session close"))
		}
	}
	if g.Uplink != nil {
		g.Uplink.Close()
	}
	return helpers.FoldErrors(errs)
}
