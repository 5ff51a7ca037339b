package main

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/mtq-tester/export"
	"github.com/temoto/mtq-tester/hardware/uart"
	"github.com/temoto/mtq-tester/helpers"
	"github.com/temoto/mtq-tester/internal/commands"
	"github.com/temoto/mtq-tester/log2"
	"github.com/temoto/mtq-tester/state"
)

func testGlobal(t testing.TB, m *uart.Mock, dir string) (context.Context, *state.Global) {
	log := log2.NewTest(t, log2.LDebug)
	ctx, g := state.NewContext(log)
	g.XXX_NewUart = func() (uart.Uarter, error) { return m, nil }
	cfg := new(state.Config)
	cfg.Serial.Device = "/dev/mock"
	cfg.Serial.StreamOnConnect = true
	cfg.Export.Dir = dir
	cfg.Engine.OnStart = []string{"mtq=on"}
	g.MustInit(ctx, cfg)
	var echo uint32
	commands.Register(g, &echo)
	return ctx, g
}

func readExport(t testing.TB, dir string) []string {
	b, err := ioutil.ReadFile(filepath.Join(dir, export.DefaultFile))
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func TestRecordSignal(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m := uart.NewMock("")
	m.Idle = time.Millisecond
	m.Feed("1,0.5,0.25,0.125\n")
	ctx, g := testGlobal(t, m, dir)
	defer g.Close()

	stop := make(chan os.Signal, 1)
	readyCh := make(chan struct{})
	go func() {
		<-readyCh
		helpers.Eventually(3*time.Second, func() bool { return g.Session.Status().Lines >= 1 })
		stop <- syscall.SIGTERM
	}()
	path, err := record(ctx, g, stop, func() { close(readyCh) })
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, export.DefaultFile), path)
	assert.Equal(t, "235320030a"+"23533a010a", m.Written())

	lines := readExport(t, dir)
	require.Len(t, lines, 4)
	assert.Equal(t, export.Header, lines[0])
	all := strings.Join(lines[1:], "\n")
	assert.Contains(t, all, ", 235320030a")
	assert.Contains(t, all, ", 23533a010a")
	assert.Contains(t, all, ", 1,0.5,0.25,0.125")
}

func TestRecordLost(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m := uart.NewMock("d20ms b312c322c332c340a d5ms eunplugged")
	m.Idle = time.Millisecond
	ctx, g := testGlobal(t, m, dir)
	defer g.Close()

	path, err := record(ctx, g, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitor device=/dev/mock lost: mock read error: unplugged")
	assert.NotEmpty(t, path)
	lines := readExport(t, dir)
	assert.Contains(t, strings.Join(lines, "\n"), ", 1,2,3,4")
}

func TestRecordConnectError(t *testing.T) {
	t.Parallel()
	m := uart.NewMock("")
	m.OpenErr = os.ErrNotExist
	ctx, g := testGlobal(t, m, t.TempDir())
	defer g.Close()
	_, err := record(ctx, g, nil, nil)
	assert.Error(t, err)
}

func TestRecordSessionClosed(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m := uart.NewMock("b312c302c302c300a")
	m.Idle = time.Millisecond
	ctx, g := testGlobal(t, m, dir)
	defer g.Close()

	go func() {
		helpers.Eventually(3*time.Second, func() bool { return g.Session.Status().Lines >= 1 })
		_ = g.Session.Close()
	}()
	path, err := record(ctx, g, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, export.DefaultFile), path)
	assert.Contains(t, strings.Join(readExport(t, dir), "\n"), ", 1,0,0,0")
}

func TestProgressDue(t *testing.T) {
	t.Parallel()
	var reported uint64
	assert.False(t, progressDue(99, 100, &reported))
	assert.True(t, progressDue(100, 100, &reported))
	assert.False(t, progressDue(150, 100, &reported))
	assert.True(t, progressDue(420, 100, &reported))
	assert.Equal(t, uint64(4), reported)
	assert.False(t, progressDue(1000, 0, &reported))
}
