package helpers

import (
	"io"
)

func WriteAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

// WriteLines writes each line followed by '\n'.
func WriteLines(w io.Writer, lines []string) error {
	buf := make([]byte, 0, 128)
	for _, line := range lines {
		buf = append(buf[:0], line...)
		buf = append(buf, '\n')
		if err := WriteAll(w, buf); err != nil {
			return err
		}
	}
	return nil
}
