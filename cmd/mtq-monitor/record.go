package main

import (
	"context"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/mtq-tester/export"
	"github.com/temoto/mtq-tester/internal/commands"
	"github.com/temoto/mtq-tester/session"
	"github.com/temoto/mtq-tester/state"
)

// record connects, runs on_start scenarios, then waits for stop signal or connection loss
// and exports raw log. Returns exported path, empty when there was nothing to export.
func record(ctx context.Context, g *state.Global, stop <-chan os.Signal, ready func()) (string, error) {
	if err := commands.Connect(ctx, g, "", 0); err != nil {
		return "", errors.Annotate(err, "monitor connect")
	}
	for _, line := range g.Config.Engine.OnStart {
		if err := g.Engine.ExecText(ctx, "on_start", line); err != nil {
			g.Error(err, "on_start line=%s", line)
		}
	}
	if ready != nil {
		ready()
	}

	var lostErr error
	var reported uint64
	done := g.Session.Done()
	if done == nil {
		// connection ended during on_start
		closed := make(chan struct{})
		close(closed)
		done = closed
	}
	every := uint64(g.Config.Buffer.Capacity)
wait:
	for {
		select {
		case s := <-stop:
			g.Log.Infof("monitor stop signal=%v", s)
			break wait
		case e := <-g.Session.Events():
			if e.Kind == session.EventLost {
				lostErr = errors.Annotatef(e.Err, "monitor device=%s lost", e.Device)
				break wait
			}
		case <-done:
			// events channel may have dropped EventLost
			if st := g.Session.Status(); st.Err != nil {
				lostErr = errors.Annotatef(st.Err, "monitor device=%s lost", st.Device)
			}
			break wait
		case <-g.Session.Updates():
			st := g.Session.Status()
			if progressDue(st.Accepted, every, &reported) {
				g.Log.Infof("monitor %s", st.String())
			}
		case <-g.Alive.StopChan():
			break wait
		case <-ctx.Done():
			break wait
		}
	}
	if err := g.Session.Close(); err != nil {
		g.Error(err)
	}

	path, err := export.ExportFile(g.Config.Export.Dir, g.Config.Export.File, time.Now(), g.Session.RawLog())
	if errors.Cause(err) == export.ErrNoData {
		g.Log.Infof("monitor nothing to export")
		return "", lostErr
	}
	if err != nil {
		return path, err
	}
	return path, lostErr
}

// progressDue is true once per every accepted samples.
func progressDue(accepted, every uint64, reported *uint64) bool {
	if every == 0 {
		return false
	}
	n := accepted / every
	if n > *reported {
		*reported = n
		return true
	}
	return false
}
