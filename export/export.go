// Package export writes session raw log as CSV file.
package export

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	"github.com/lestrrat-go/strftime"
	"github.com/temoto/mtq-tester/helpers"
)

const (
	Header      = "Timestamp,MTQ time,Gyro X,Gyro Y,Gyro Z"
	DefaultFile = "output.csv"
)

var ErrNoData = errors.New("no data to export")

// WriteCSV writes header then lines verbatim.
// Lines are already "time, fields" so no CSV quoting is applied.
func WriteCSV(w io.Writer, lines []string) error {
	if len(lines) == 0 {
		return ErrNoData
	}
	bw := bufio.NewWriter(w)
	if err := helpers.WriteLines(bw, []string{Header}); err != nil {
		return errors.Annotate(err, "export header")
	}
	if err := helpers.WriteLines(bw, lines); err != nil {
		return errors.Annotate(err, "export lines")
	}
	return errors.Annotate(bw.Flush(), "export flush")
}

// FileName renders strftime pattern, empty means DefaultFile.
func FileName(pattern string, t time.Time) (string, error) {
	if pattern == "" {
		return DefaultFile, nil
	}
	f, err := strftime.New(pattern)
	if err != nil {
		return "", errors.Annotatef(err, "export file pattern='%s'", pattern)
	}
	name := f.FormatString(t)
	if name == "" || name != filepath.Base(name) {
		return "", errors.NotValidf("export file name='%s' from pattern='%s'", name, pattern)
	}
	return name, nil
}

// ExportFile writes lines to dir/FileName(pattern). Returns full path.
// No file is created for empty lines.
func ExportFile(dir, pattern string, t time.Time, lines []string) (string, error) {
	if len(lines) == 0 {
		return "", ErrNoData
	}
	name, err := FileName(pattern, t)
	if err != nil {
		return "", errors.Trace(err)
	}
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Annotatef(err, "export create path=%s", path)
	}
	err = WriteCSV(f, lines)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = errors.Annotatef(cerr, "export close path=%s", path)
	}
	if err != nil {
		return path, errors.Annotatef(err, "export path=%s", path)
	}
	return path, nil
}
