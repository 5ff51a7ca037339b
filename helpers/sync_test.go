package helpers

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestAtomicError(t *testing.T) {
	t.Parallel()
	var ae AtomicError
	_, set := ae.Load()
	assert.False(t, set)
	first := errors.New("first")
	prev, set := ae.StoreOnce(first)
	assert.NoError(t, prev)
	assert.False(t, set)
	prev, set = ae.StoreOnce(errors.New("second"))
	assert.Equal(t, first, prev)
	assert.True(t, set)
	err, _ := ae.Load()
	assert.Equal(t, first, err)
	ae.Reset()
	_, set = ae.Load()
	assert.False(t, set)
}
