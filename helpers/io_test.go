package helpers

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteAll(t *testing.T) {
	t.Parallel()
	buf := bytes.NewBuffer(nil)
	content := []byte("12345678901234567890")
	tw := &throttleWriter{buf, 7}
	n, err := tw.Write(content[:2])
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, buf.Len())
	buf.Reset()
	err = WriteAll(tw, content)
	assert.NoError(t, err)
	assert.Equal(t, content, buf.Bytes())

	assert.Equal(t, io.ErrShortWrite, WriteAll(&throttleWriter{buf, 0}, content))
}

func TestWriteLines(t *testing.T) {
	t.Parallel()
	buf := bytes.NewBuffer(nil)
	tw := &throttleWriter{buf, 3}
	assert.NoError(t, WriteLines(tw, []string{"Timestamp,MTQ time", "", "12:00:01, 1,2,3,4"}))
	assert.Equal(t, "Timestamp,MTQ time\n\n12:00:01, 1,2,3,4\n", buf.String())
	buf.Reset()
	assert.NoError(t, WriteLines(buf, nil))
	assert.Equal(t, 0, buf.Len())
}

type throttleWriter struct {
	w io.Writer
	n int
}

func (tw *throttleWriter) Write(p []byte) (n int, err error) {
	limit := len(p)
	if limit > tw.n {
		limit = tw.n
	}
	return tw.w.Write(p[:limit])
}
