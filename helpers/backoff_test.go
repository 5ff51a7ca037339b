package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	t.Parallel()
	b := Backoff{Min: time.Second, Max: 5 * time.Second, K: 2}
	assert.Equal(t, time.Duration(0), b.DelayBefore())
	assert.Equal(t, time.Duration(0), b.DelayAfter(true))

	expect := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, e := range expect {
		b.Failure()
		assert.Equal(t, e, b.Next(), "failure #%d", i+1)
		d := b.DelayBefore()
		assert.True(t, d <= e && d > e-100*time.Millisecond, "failure #%d delay=%v", i+1, d)
	}

	assert.Equal(t, time.Duration(0), b.DelayAfter(true))
	assert.Equal(t, time.Duration(0), b.Next())
}

func TestBackoffElapsed(t *testing.T) {
	t.Parallel()
	b := Backoff{Min: time.Millisecond, Max: time.Millisecond, K: 2}
	b.Failure()
	time.Sleep(3 * time.Millisecond)
	assert.Equal(t, time.Duration(0), b.DelayBefore())
}
