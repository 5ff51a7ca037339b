package engine

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/mtq-tester/log2"
)

func testContext(t testing.TB) (context.Context, *Engine) {
	log := log2.NewTest(t, log2.LDebug)
	e := NewEngine(log)
	ctx := context.WithValue(context.Background(), log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, e)
	return ctx, e
}

func TestParseText(t *testing.T) {
	t.Parallel()
	type Case struct {
		name      string
		input     string
		expect    string
		expectErr string
	}
	cases := []Case{
		{"empty", "  ", "", ""},
		{"one", "run", "run", ""},
		{"seq", "run stream=on", "run,stream=on", ""},
		{"sleep", "run s1 stop", "run,stop", ""},
		{"loop", "loop=3 run", "run,run,run", ""},
		{"parser", "power=1 @ff", "power=1,@ff", ""},
		{"line", "connect /dev/x 9600", "connect:/dev/x:9600", ""},
		{"unknown", "run jump", "", "word=jump not found"},
		{"loop-twice", "loop=2 loop=3 run", "", "multiple loop commands"},
		{"loop-zero", "loop=0 run", "", "word=loop=0 not valid"},
		{"parser-error", "power=x", "", "word=power=x: bad power"},
	}
	rand.New(rand.NewSource(time.Now().UnixNano())).Shuffle(len(cases), func(i int, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			ctx, e := testContext(t)
			var trace []string
			rec := func(name string) Doer {
				return Func0{Name: name, F: func() error { trace = append(trace, name); return nil }}
			}
			e.Register("run", rec("run"))
			e.Register("stop", rec("stop"))
			e.Register("stream=on", rec("stream=on"))
			e.RegisterParser(func(word string) (Doer, bool, error) {
				if word == "power=x" {
					return nil, false, errors.New("bad power")
				}
				if strings.HasPrefix(word, "power=") || strings.HasPrefix(word, "@") {
					return rec(word), true, nil
				}
				return nil, false, nil
			})
			e.RegisterLine("connect", func(args []string) (Doer, error) {
				return rec("connect:" + strings.Join(args, ":")), nil
			})

			err := e.ExecText(ctx, "test", c.input)
			if c.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, strings.Join(trace, ","))
		})
	}
}

func TestSeqAbortsOnError(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)
	calls := 0
	seq := NewSeq("seq").
		Append(Func0{Name: "ok", F: func() error { calls++; return nil }}).
		Append(Fail{E: errors.New("boom")}).
		Append(Func0{Name: "never", F: func() error { calls++; return nil }})
	assert.Equal(t, 3, seq.Len())
	err := seq.Do(ctx)
	assert.EqualError(t, err, "boom: boom")
	assert.Equal(t, 1, calls)
	assert.Error(t, seq.Validate())
}

func TestRepeatNCancel(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t)
	ctx, cancel := context.WithCancel(ctx)
	calls := 0
	d := RepeatN{N: 100, D: Func{Name: "tick", F: func(context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return nil
	}}}
	err := d.Do(ctx)
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 2, calls)
}

func TestSleepCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	tbegin := time.Now()
	err := Sleep{time.Hour}.Do(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.True(t, time.Since(tbegin) < time.Second)
	assert.Equal(t, "Sleep(1s)", Sleep{time.Second}.String())
}

func TestAlias(t *testing.T) {
	t.Parallel()
	ctx, e := testContext(t)
	calls := 0
	// alias registered before its words, resolved lazily
	e.RegisterAlias("warmup", "loop=2 run")
	e.Register("run", Func0{Name: "run", F: func() error { calls++; return nil }})
	require.NoError(t, e.ExecText(ctx, "test", "warmup"))
	assert.Equal(t, 2, calls)

	e.RegisterAlias("broken", "nope")
	assert.Error(t, e.ExecText(ctx, "test", "broken"))
	assert.Equal(t, []string{"broken", "run", "warmup"}, e.Words())

	_, err := e.Resolve("missing")
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, e, GetEngine(ctx))
}

func TestAliasRecursion(t *testing.T) {
	t.Parallel()
	type Case struct {
		name      string
		aliases   [][2]string
		input     string
		expectErr string
	}
	cases := []Case{
		{"self", [][2]string{{"a", "a"}}, "a", "alias=a recursion"},
		{"self-loop", [][2]string{{"a", "loop=3 s1 a"}}, "a", "alias=a recursion"},
		{"pair", [][2]string{{"a", "b"}, {"b", "s1 a"}}, "a", "alias=a recursion"},
		{"deep", [][2]string{{"top", "mid"}, {"mid", "x"}, {"x", "y"}, {"y", "x"}}, "top", "alias=x recursion"},
		{"ok-shared", [][2]string{{"a", "b b"}, {"b", "s1"}}, "a a", ""},
	}
	rand.New(rand.NewSource(time.Now().UnixNano())).Shuffle(len(cases), func(i int, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			ctx, e := testContext(t)
			for _, a := range c.aliases {
				e.RegisterAlias(a[0], a[1])
			}
			err := e.ExecText(ctx, "input", c.input)
			if c.expectErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsNotValid(errors.Cause(err)), "err=%v", err)
			assert.Contains(t, err.Error(), c.expectErr)
			// stays an error on repeat, no stack growth
			assert.Error(t, e.ExecText(ctx, "input", c.input))
		})
	}
}
