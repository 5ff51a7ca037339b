package uart

import (
	"expvar"
	"math/rand"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t testing.TB, u Uarter, tries int) ([]byte, error) {
	var out []byte
	buf := make([]byte, 4)
	for i := 0; i < tries; i++ {
		n, err := u.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func TestMockScript(t *testing.T) {
	t.Parallel()
	type Case struct {
		name      string
		script    string
		expect    string
		expectErr string
	}
	cases := []Case{
		{"empty", "", "", ""},
		{"bytes", "b313233 b0a", "123\n", ""},
		{"split", "b31323334353637", "1234567", ""},
		{"delay", "d2ms,b41", "A", ""},
		{"error", "b41 e", "A", "mock read error"},
		{"error-text", "eunplugged", "", "mock read error: unplugged"},
	}
	rand.New(rand.NewSource(time.Now().UnixNano())).Shuffle(len(cases), func(i int, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			m := NewMock(c.script)
			m.Idle = time.Millisecond
			require.NoError(t, m.Open("/dev/mock", 9600))
			got, err := readAll(t, m, 6)
			assert.Equal(t, c.expect, string(got))
			if c.expectErr == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, c.expectErr)
			}
		})
	}
}

func TestMockBadScript(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { NewMock("bZZ") })
	assert.Panics(t, func() { NewMock("x1") })
	assert.Panics(t, func() { NewMock("dforever") })
}

func TestMockWriteClose(t *testing.T) {
	t.Parallel()
	m := NewMock("")
	_, err := m.Write([]byte{1})
	assert.Equal(t, ErrClosed, err)
	require.NoError(t, m.Open("/dev/ttyUSB0", 115200))
	path, baud := m.Opened()
	assert.Equal(t, "/dev/ttyUSB0", path)
	assert.Equal(t, 115200, baud)
	_, err = m.Write([]byte("#S\x08\x01\n"))
	require.NoError(t, err)
	assert.Equal(t, "235308010a", m.Written())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.False(t, m.IsOpen())
	_, err = m.Read(make([]byte, 1))
	assert.Equal(t, ErrClosed, err)

	m.OpenErr = errors.NotFoundf("port")
	assert.True(t, errors.IsNotFound(m.Open("/dev/none", 9600)))
}

func TestMockCloseUnblocksRead(t *testing.T) {
	t.Parallel()
	m := NewMock("")
	m.Idle = time.Hour
	require.NoError(t, m.Open("/dev/mock", 9600))
	done := make(chan error, 1)
	go func() {
		_, err := m.Read(make([]byte, 8))
		done <- err
	}()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Read not unblocked by Close")
	}
}

func TestCounted(t *testing.T) {
	t.Parallel()
	var rx, tx expvar.Int
	m := NewMock("b0102030405")
	c := NewCounted(m, &rx, &tx)
	require.NoError(t, c.Open("/dev/mock", 9600))
	_, err := readAll(t, c, 3)
	require.NoError(t, err)
	_, err = c.Write(make([]byte, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(5), rx.Value())
	assert.Equal(t, int64(10), tx.Value())

	// failed transfers are not counted
	require.NoError(t, c.Close())
	_, err = c.Write([]byte{1, 2, 3})
	assert.Equal(t, ErrClosed, err)
	_, err = c.Read(make([]byte, 4))
	assert.Error(t, err)
	assert.Equal(t, int64(5), rx.Value())
	assert.Equal(t, int64(10), tx.Value())
}

func TestNewDriver(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", DriverSerial, DriverFile} {
		u, err := New(d, 0)
		require.NoError(t, err, d)
		assert.NotNil(t, u)
	}
	_, err := New("iodin", 0)
	assert.True(t, errors.IsNotSupported(err))
}

func TestCheckBaud(t *testing.T) {
	t.Parallel()
	for _, b := range BaudRates {
		assert.NoError(t, CheckBaud(b))
	}
	assert.True(t, errors.IsNotValid(CheckBaud(4800)))
}

func TestClosedDriversRead(t *testing.T) {
	t.Parallel()
	for _, u := range []Uarter{NewSerialUart(time.Millisecond), NewFileUart(time.Millisecond)} {
		_, err := u.Read(make([]byte, 1))
		assert.Equal(t, ErrClosed, err)
		assert.NoError(t, u.Close())
	}
}
