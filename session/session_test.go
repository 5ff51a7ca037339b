package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/mtq-tester/hardware/uart"
	"github.com/temoto/mtq-tester/helpers"
	"github.com/temoto/mtq-tester/helpers/atomic_clock"
	"github.com/temoto/mtq-tester/log2"
	"github.com/temoto/mtq-tester/protocol"
	"github.com/temoto/mtq-tester/telemetry"
)

const waitTimeout = 3 * time.Second

var fixedNow = time.Date(2024, 3, 1, 12, 0, 1, 0, time.Local)

type recordSink struct {
	sync.Mutex
	samples []telemetry.Sample
	devices []string
}

func (self *recordSink) Sample(device string, s telemetry.Sample) error {
	self.Lock()
	defer self.Unlock()
	self.samples = append(self.samples, s)
	self.devices = append(self.devices, device)
	return nil
}

// gateSink blocks consumer on first sample until release is closed.
type gateSink struct {
	entered chan struct{}
	release chan struct{}
}

func (self *gateSink) Sample(device string, s telemetry.Sample) error {
	select {
	case self.entered <- struct{}{}:
	default:
	}
	<-self.release
	return nil
}

func newTestSession(t testing.TB, opt Options, mocks ...*uart.Mock) *Session {
	i := 0
	var mu sync.Mutex
	opt.NewUart = func() (uart.Uarter, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(mocks) {
			return nil, errors.New("no more mocks")
		}
		m := mocks[i]
		i++
		return m, nil
	}
	if opt.Now == nil {
		opt.Now = func() time.Time { return fixedNow }
	}
	s, err := New(log2.NewTest(t, log2.LDebug), opt)
	require.NoError(t, err)
	return s
}

func newMock(script string) *uart.Mock {
	m := uart.NewMock(script)
	m.Idle = time.Millisecond
	return m
}

func waitLines(t testing.TB, s *Session, n uint64) {
	ok := helpers.Eventually(waitTimeout, func() bool { return s.Status().Lines >= n })
	require.True(t, ok, "timeout waiting lines=%d status=%s", n, s.Status().String())
}

func waitEvent(t testing.TB, s *Session, kind EventKind) Event {
	deadline := time.After(waitTimeout)
	for {
		select {
		case e := <-s.Events():
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timeout waiting event=%s", kind)
			return Event{}
		}
	}
}

func TestSessionIngest(t *testing.T) {
	t.Parallel()
	m := newMock("")
	m.Feed("12.3,0.1,")
	m.Feed("-0.2,3.4\ngarbage\n1,2,3\r\n")
	m.Feed("13.3,1.5,2.5,3.5\n")
	sink := &recordSink{}
	var echoMu sync.Mutex
	var echo []string
	s := newTestSession(t, Options{Sink: sink, Echo: func(line string) {
		echoMu.Lock()
		echo = append(echo, line)
		echoMu.Unlock()
	}}, m)
	require.NoError(t, s.Open(context.Background(), "/dev/ttyUSB0", 9600))
	defer s.Close()
	assert.Equal(t, EventOpened, waitEvent(t, s, EventOpened).Kind)
	waitLines(t, s, 4)

	st := s.Status()
	assert.Equal(t, StateConnected, st.State)
	assert.Equal(t, "/dev/ttyUSB0", st.Device)
	assert.Equal(t, uint64(2), st.Accepted)
	assert.Equal(t, uint64(2), st.Rejected)
	assert.Equal(t, 2, st.BufferLen)
	assert.False(t, st.LastRx.IsZero())
	assert.True(t, st.RxBytes > 0)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, [telemetry.Channels]float64{0.1, -0.2, 3.4}, snap[0].Values)
	assert.Equal(t, 13.3, snap[1].DeviceTime)
	xs, ys := s.Series(telemetry.TimeDevice, 2)
	assert.Equal(t, []float64{12.3, 13.3}, xs)
	assert.Equal(t, []float64{3.4, 3.5}, ys)

	expectRaw := []string{
		"12:00:01, 12.3,0.1,-0.2,3.4",
		"12:00:01, garbage",
		"12:00:01, 1,2,3",
		"12:00:01, 13.3,1.5,2.5,3.5",
	}
	assert.Equal(t, expectRaw, s.RawLog())
	echoMu.Lock()
	assert.Equal(t, expectRaw, echo)
	echoMu.Unlock()

	sink.Lock()
	assert.Len(t, sink.samples, 2)
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB0"}, sink.devices)
	sink.Unlock()

	s.Clear()
	assert.Empty(t, s.Snapshot())
	assert.Empty(t, s.RawLog())
}

func TestSessionCapacity(t *testing.T) {
	t.Parallel()
	m := newMock("")
	for i := 0; i < 150; i++ {
		m.Feed(fmt.Sprintf("%d,%d,0,0\n", i, i))
	}
	s := newTestSession(t, Options{QueueSize: 4}, m)
	require.NoError(t, s.Open(context.Background(), "/dev/mock", 115200))
	defer s.Close()
	waitLines(t, s, 150)
	snap := s.Snapshot()
	require.Len(t, snap, telemetry.DefaultCapacity)
	assert.Equal(t, 50.0, snap[0].DeviceTime)
	assert.Equal(t, 149.0, snap[len(snap)-1].Values[0])
	assert.Len(t, s.RawLog(), 150)
}

func TestSessionReceiptTime(t *testing.T) {
	t.Parallel()
	var clock atomic_clock.Clock
	t1, t2, t3 := fixedNow, fixedNow.Add(time.Minute), fixedNow.Add(time.Hour)
	clock.SetTime(t1)
	m := newMock("")
	sink := &gateSink{entered: make(chan struct{}, 1), release: make(chan struct{})}
	s := newTestSession(t, Options{Sink: sink, Now: clock.Time}, m)
	require.NoError(t, s.Open(context.Background(), "/dev/mock", 9600))
	defer s.Close()
	released := false
	defer func() {
		if !released {
			close(sink.release)
		}
	}()

	m.Feed("1,0,0,0\n")
	select {
	case <-sink.entered:
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting consumer")
	}
	// consumer is stuck, reader keeps receiving
	clock.SetTime(t2)
	m.Feed("2,0,0,0\n")
	require.True(t, helpers.Eventually(waitTimeout, func() bool { return s.Status().LastRx.Equal(t2) }))
	clock.SetTime(t3)
	released = true
	close(sink.release)
	waitLines(t, s, 2)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.True(t, snap[0].Time.Equal(t1), "time=%v", snap[0].Time)
	assert.True(t, snap[1].Time.Equal(t2), "time=%v", snap[1].Time)
	assert.Equal(t, []string{"12:00:01, 1,0,0,0", "12:01:01, 2,0,0,0"}, s.RawLog())
}

func TestSessionSend(t *testing.T) {
	t.Parallel()
	m := newMock("")
	s := newTestSession(t, Options{}, m)

	err := s.SendCommand(protocol.Run())
	assert.Equal(t, ErrNotConnected, errors.Cause(err))
	assert.Equal(t, ErrNotConnected, s.Send([]byte{1}))

	require.NoError(t, s.Open(context.Background(), "/dev/mock", 9600))
	defer s.Close()
	require.NoError(t, s.SendCommand(protocol.Run()))
	require.NoError(t, s.SendCommand(protocol.SetPower(500, -500, 0)))
	assert.Equal(t, "235308010a"+"235338f4010cfe00000a", m.Written())
	assert.Equal(t, []string{"12:00:01, 235308010a", "12:00:01, 235338f4010cfe00000a"}, s.RawLog())
	st := s.Status()
	assert.Equal(t, uint64(2), st.Sent)
	assert.Equal(t, int64(15), st.TxBytes)

	require.NoError(t, s.Close())
	assert.Equal(t, ErrNotConnected, s.Send([]byte{1}))
	// log survives disconnect, export needs it
	assert.Len(t, s.RawLog(), 2)
}

func TestSessionLost(t *testing.T) {
	t.Parallel()
	m := newMock("b302c312c322c330a d5ms,eunplugged")
	s := newTestSession(t, Options{}, m)
	require.NoError(t, s.Open(context.Background(), "/dev/ttyACM0", 9600))
	e := waitEvent(t, s, EventLost)
	assert.Equal(t, "/dev/ttyACM0", e.Device)
	assert.EqualError(t, e.Err, "mock read error: unplugged")

	require.True(t, helpers.Eventually(waitTimeout, func() bool { return s.State() == StateIdle }))
	assert.False(t, m.IsOpen())
	st := s.Status()
	assert.Equal(t, uint64(1), st.Accepted)
	assert.EqualError(t, st.Err, "mock read error: unplugged")
	assert.Equal(t, ErrNotConnected, errors.Cause(s.SendCommand(protocol.Stop())))
	assert.NoError(t, s.Close())
	assert.Equal(t, []string{"12:00:01, 0,1,2,3"}, s.RawLog())
}

func TestSessionReopen(t *testing.T) {
	t.Parallel()
	m1 := newMock("b312c312c312c310a")
	m2 := newMock("")
	s := newTestSession(t, Options{}, m1, m2)
	require.NoError(t, s.Open(context.Background(), "/dev/a", 9600))
	waitLines(t, s, 1)
	assert.Len(t, s.Snapshot(), 1)

	require.NoError(t, s.Open(context.Background(), "/dev/b", 19200))
	defer s.Close()
	assert.False(t, m1.IsOpen())
	assert.True(t, m2.IsOpen())
	path, baud := m2.Opened()
	assert.Equal(t, "/dev/b", path)
	assert.Equal(t, 19200, baud)
	// new connection starts with empty buffer
	assert.Empty(t, s.Snapshot())

	kinds := []EventKind{}
	for len(kinds) < 3 {
		select {
		case e := <-s.Events():
			kinds = append(kinds, e.Kind)
		case <-time.After(waitTimeout):
			t.Fatalf("events=%v", kinds)
		}
	}
	assert.Equal(t, []EventKind{EventOpened, EventClosed, EventOpened}, kinds)
}

func TestSessionOpenError(t *testing.T) {
	t.Parallel()
	m := newMock("")
	m.OpenErr = errors.NotFoundf("port /dev/none")
	s := newTestSession(t, Options{}, m)
	err := s.Open(context.Background(), "/dev/none", 9600)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(errors.Cause(err)))
	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, s.Done())
	assert.NoError(t, s.Close())
}

func TestSessionContextCancel(t *testing.T) {
	t.Parallel()
	m := newMock("")
	s := newTestSession(t, Options{}, m)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Open(ctx, "/dev/mock", 9600))
	done := s.Done()
	require.NotNil(t, done)
	cancel()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("context cancel did not close session")
	}
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, EventClosed, waitEvent(t, s, EventClosed).Kind)
}

func TestSessionCloseIdempotent(t *testing.T) {
	t.Parallel()
	m := newMock("")
	s := newTestSession(t, Options{}, m)
	assert.NoError(t, s.Close())
	require.NoError(t, s.Open(context.Background(), "/dev/mock", 9600))
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Close())
		}()
	}
	wg.Wait()
	assert.NoError(t, s.Close())
	assert.Equal(t, StateIdle, s.State())
}

func TestNewBadOptions(t *testing.T) {
	t.Parallel()
	_, err := New(log2.NewTest(t, log2.LDebug), Options{Driver: "iodin"})
	assert.True(t, errors.IsNotSupported(errors.Cause(err)))
}
