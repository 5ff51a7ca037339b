// Package session owns one serial connection to the bench board:
// transport handle, reader and consumer goroutines, raw log and rolling sample buffer.
package session

import (
	"context"
	"encoding/hex"
	"expvar"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/mtq-tester/hardware/uart"
	"github.com/temoto/mtq-tester/helpers"
	"github.com/temoto/mtq-tester/helpers/atomic_clock"
	"github.com/temoto/mtq-tester/log2"
	"github.com/temoto/mtq-tester/protocol"
	"github.com/temoto/mtq-tester/telemetry"
)

const (
	DefaultQueueSize = 64
	eventsBuffer     = 16
	readBufferSize   = 256
)

var ErrNotConnected = errors.New("not connected")

// Sink receives every accepted sample, called from consumer goroutine.
type Sink interface {
	Sample(device string, s telemetry.Sample) error
}

type Options struct {
	Driver      string
	ReadTimeout time.Duration
	QueueSize   int
	Capacity    int    // rolling buffer, default telemetry.DefaultCapacity
	RawLogMax   int    // 0 = unlimited
	TimeFormat  string // strftime, raw log and export timestamps

	// NewUart overrides Driver, mostly for tests.
	NewUart func() (uart.Uarter, error)
	Sink    Sink
	// Echo receives every formatted raw log line, rx and tx.
	Echo func(line string)
	Now  func() time.Time
}

type conn struct {
	u        uart.Uarter
	device   string
	baud     int
	alive    *alive.Alive
	done     chan struct{}
	lost     helpers.AtomicError
	closeErr error
}

// rxLine carries receipt time, consumer may lag behind reader.
type rxLine struct {
	text string
	at   time.Time
}

type Session struct {
	Log *log2.Log
	opt Options

	mu      sync.Mutex
	writeMu sync.Mutex
	cur     *conn
	device  string
	baud    int
	ring    *telemetry.Ring
	raw     *telemetry.RawLog
	lostErr error

	events  chan Event
	updates chan struct{}

	rx, tx    expvar.Int
	lines     uint64
	accepted  uint64
	rejected  uint64
	overflows uint64
	sent      uint64
	lastRx    atomic_clock.Clock
}

func New(log *log2.Log, opt Options) (*Session, error) {
	opt.QueueSize = helpers.IntDefault(opt.QueueSize, DefaultQueueSize)
	opt.Capacity = helpers.IntDefault(opt.Capacity, telemetry.DefaultCapacity)
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.NewUart == nil {
		driver, timeout := opt.Driver, opt.ReadTimeout
		if _, err := uart.New(driver, timeout); err != nil {
			return nil, errors.Trace(err)
		}
		opt.NewUart = func() (uart.Uarter, error) { return uart.New(driver, timeout) }
	}
	raw, err := telemetry.NewRawLog(opt.TimeFormat, opt.RawLogMax)
	if err != nil {
		return nil, errors.Trace(err)
	}
	self := &Session{
		Log:     log,
		opt:     opt,
		ring:    telemetry.NewRing(opt.Capacity),
		raw:     raw,
		events:  make(chan Event, eventsBuffer),
		updates: make(chan struct{}, 1),
	}
	return self, nil
}

// Open closes previous connection, then opens device and starts streaming.
// On error session stays idle. Cancelled ctx closes the connection.
func (self *Session) Open(ctx context.Context, device string, baud int) error {
	if err := self.Close(); err != nil {
		self.Log.Errorf("session close previous err=%v", err)
	}
	if baud == 0 {
		baud = uart.DefaultBaud
	}

	u, err := self.opt.NewUart()
	if err != nil {
		return errors.Trace(err)
	}
	counted := uart.NewCounted(u, &self.rx, &self.tx)
	if err = counted.Open(device, baud); err != nil {
		err = errors.Annotatef(err, "session open device=%s baud=%d", device, baud)
		self.Log.Error(err)
		return err
	}

	c := &conn{
		u:      counted,
		device: device,
		baud:   baud,
		alive:  alive.NewAlive(),
		done:   make(chan struct{}),
	}
	c.alive.Add(2)
	lines := make(chan rxLine, self.opt.QueueSize)

	self.mu.Lock()
	self.cur = c
	self.device, self.baud = device, baud
	self.lostErr = nil
	self.ring = telemetry.NewRing(self.opt.Capacity)
	self.resetCounters()
	self.mu.Unlock()

	self.Log.Infof("session opened device=%s baud=%d", device, baud)
	self.emit(Event{Kind: EventOpened, Device: device})
	go self.reader(c, lines)
	go self.consumer(c, lines)
	go self.finisher(c)
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				c.alive.Stop()
			case <-c.alive.StopChan():
			}
		}()
	}

	return nil
}

// Close stops streaming, waits for reader and consumer to exit,
// then releases transport. Idempotent.
func (self *Session) Close() error {
	self.mu.Lock()
	c := self.cur
	self.mu.Unlock()
	if c == nil {
		return nil
	}
	c.alive.Stop()
	<-c.done
	return c.closeErr
}

// Done is closed when current connection ends. Nil when idle.
func (self *Session) Done() <-chan struct{} {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.cur == nil {
		return nil
	}
	return self.cur.done
}

func (self *Session) reader(c *conn, lines chan<- rxLine) {
	defer c.alive.Done()
	defer close(lines)
	var sp telemetry.Splitter
	buf := make([]byte, readBufferSize)
	for c.alive.IsRunning() {
		n, err := c.u.Read(buf)
		if n > 0 {
			now := self.opt.Now()
			self.lastRx.SetTime(now)
			ls := sp.Feed(buf[:n])
			atomic.StoreUint64(&self.overflows, sp.Overflows)
			for _, line := range ls {
				select {
				case lines <- rxLine{text: line, at: now}:
				case <-c.alive.StopChan():
					return
				}
			}
		}
		if err != nil {
			if c.alive.IsRunning() {
				c.lost.StoreOnce(err)
				self.Log.Errorf("session device=%s read err=%v", c.device, err)
				c.alive.Stop()
			}
			return
		}
	}
}

func (self *Session) consumer(c *conn, lines <-chan rxLine) {
	defer c.alive.Done()
	for l := range lines {
		self.ingest(c.device, l.text, l.at)
	}
}

func (self *Session) finisher(c *conn) {
	c.alive.Wait()

	self.mu.Lock()
	if self.cur == c {
		self.cur = nil
	}
	lostErr, lost := c.lost.Load()
	if lost {
		self.lostErr = lostErr
	}
	self.mu.Unlock()

	self.writeMu.Lock()
	c.closeErr = c.u.Close()
	self.writeMu.Unlock()

	if lost {
		self.Log.Errorf("session lost device=%s err=%v", c.device, lostErr)
		self.emit(Event{Kind: EventLost, Device: c.device, Err: lostErr})
	} else {
		self.Log.Infof("session closed device=%s", c.device)
		self.emit(Event{Kind: EventClosed, Device: c.device, Err: c.closeErr})
	}
	self.notify()
	close(c.done)
}

func (self *Session) ingest(device string, line string, now time.Time) {
	e := telemetry.Entry{Time: now, Dir: telemetry.Received, Text: line}
	s, ok := telemetry.ParseSample(line, now)

	self.mu.Lock()
	self.raw.Append(e)
	formatted := self.raw.Format(e)
	if ok {
		self.ring.Push(s)
	}
	self.mu.Unlock()

	if ok && self.opt.Sink != nil {
		if err := self.opt.Sink.Sample(device, s); err != nil {
			self.Log.Errorf("session sink err=%v", err)
		}
	}
	if !ok {
		self.Log.Debugf("session rejected line=%q", line)
	}
	if self.opt.Echo != nil {
		self.opt.Echo(formatted)
	}
	// counters last, Status().Lines=N means N lines fully processed
	if ok {
		atomic.AddUint64(&self.accepted, 1)
	} else {
		atomic.AddUint64(&self.rejected, 1)
	}
	atomic.AddUint64(&self.lines, 1)
	self.notify()
}

// Send writes raw bytes synchronously. Logged as tx hex.
func (self *Session) Send(b []byte) error {
	self.writeMu.Lock()
	defer self.writeMu.Unlock()

	self.mu.Lock()
	c := self.cur
	self.mu.Unlock()
	if c == nil || !c.alive.IsRunning() {
		return ErrNotConnected
	}
	if err := helpers.WriteAll(c.u, b); err != nil {
		return errors.Annotatef(err, "session send device=%s frame=%x", c.device, b)
	}
	atomic.AddUint64(&self.sent, 1)

	e := telemetry.Entry{Time: self.opt.Now(), Dir: telemetry.Sent, Text: hex.EncodeToString(b)}
	self.mu.Lock()
	self.raw.Append(e)
	formatted := self.raw.Format(e)
	self.mu.Unlock()
	self.Log.Debugf("session tx %x", b)
	if self.opt.Echo != nil {
		self.opt.Echo(formatted)
	}
	self.notify()
	return nil
}

func (self *Session) SendCommand(cmd protocol.Command) error {
	f := protocol.Encode(cmd)
	return errors.Annotate(self.Send(f.Bytes()), cmd.String())
}

// Snapshot copies rolling buffer, oldest first.
func (self *Session) Snapshot() []telemetry.Sample {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.ring.Samples()
}

// Series copies x axis and one channel, like plot input.
func (self *Session) Series(src telemetry.TimeSource, ch int) ([]float64, []float64) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.ring.Axis(src), self.ring.Channel(ch)
}

// RawLog returns formatted console lines, export input.
func (self *Session) RawLog() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.raw.Lines()
}

// Clear empties raw log and rolling buffer.
func (self *Session) Clear() {
	self.mu.Lock()
	self.ring.Clear()
	self.raw.Clear()
	self.mu.Unlock()
	self.notify()
}

func (self *Session) State() State {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.cur == nil {
		return StateIdle
	}
	return StateConnected
}

func (self *Session) Status() Status {
	self.mu.Lock()
	s := Status{
		State:     StateIdle,
		Device:    self.device,
		Baud:      self.baud,
		BufferLen: self.ring.Len(),
		Err:       self.lostErr,
	}
	if self.cur != nil {
		s.State = StateConnected
	}
	self.mu.Unlock()
	s.Lines = atomic.LoadUint64(&self.lines)
	s.Accepted = atomic.LoadUint64(&self.accepted)
	s.Rejected = atomic.LoadUint64(&self.rejected)
	s.Overflows = atomic.LoadUint64(&self.overflows)
	s.Sent = atomic.LoadUint64(&self.sent)
	s.RxBytes = self.rx.Value()
	s.TxBytes = self.tx.Value()
	s.LastRx = self.lastRx.Time()
	return s
}

// Events delivers connection lifecycle. Slow reader misses events, see Status().
func (self *Session) Events() <-chan Event { return self.events }

// Updates signals new data, coalesced. Redraw trigger.
func (self *Session) Updates() <-chan struct{} { return self.updates }

func (self *Session) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = self.opt.Now()
	}
	select {
	case self.events <- e:
	default:
		self.Log.Debugf("session event dropped %s", e.String())
	}
}

func (self *Session) notify() {
	select {
	case self.updates <- struct{}{}:
	default:
	}
}

func (self *Session) resetCounters() {
	atomic.StoreUint64(&self.lines, 0)
	atomic.StoreUint64(&self.accepted, 0)
	atomic.StoreUint64(&self.rejected, 0)
	atomic.StoreUint64(&self.overflows, 0)
	atomic.StoreUint64(&self.sent, 0)
	self.rx.Set(0)
	self.tx.Set(0)
	self.lastRx.Reset()
}
