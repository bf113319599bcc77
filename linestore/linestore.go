// Package linestore reads and writes text files as a list of lines.
//
// It's the only place that touches the disk for the record store.
// Replacing a file is atomic (write to temp file, fsync, rename) and
// a failed append is rolled back, so readers never see a partially
// written line.
//
// That holds for readers that take the store's lock. Appending is not
// an atomic replace: another process reading the file while a line is
// being appended can see part of it.
package linestore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// IOError is returned for any failure of the underlying storage
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("linestore: %s '%s' failed with '%s'", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func ioErr(op string, path string, err error) error {
	return &IOError{Op: op, Path: path, Err: err}
}

// ErrNewlineInLine is returned when asked to write a line that contains '\n'
var ErrNewlineInLine = errors.New("line contains a newline")

// ReadAllLines returns lines of the file, without trailing newlines.
// A file that doesn't exist has no lines.
func ReadAllLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ioErr("open", path, err)
	}
	defer f.Close()

	// bufio.Scanner has a limit on line size, records can be big
	r := bufio.NewReader(f)
	var res []string
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			res = append(res, line)
		}
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return nil, ioErr("read", path, err)
		}
	}
}

func checkLines(path string, lines []string) error {
	for _, line := range lines {
		if strings.Contains(line, "\n") {
			return ioErr("write", path, ErrNewlineInLine)
		}
	}
	return nil
}

// WriteAllLines atomically replaces content of the file with lines.
// Each line is terminated with '\n'.
func WriteAllLines(path string, lines []string) error {
	if err := checkLines(path, lines); err != nil {
		return err
	}
	f, err := newAtomicFile(path)
	if err != nil {
		return ioErr("create", path, err)
	}
	defer f.cancel()

	w := bufio.NewWriter(f)
	for _, line := range lines {
		_, _ = w.WriteString(line)
		_ = w.WriteByte('\n')
	}
	// bufio.Writer remembers the first error
	if err = w.Flush(); err != nil {
		return ioErr("write", path, err)
	}
	if err = f.Close(); err != nil {
		return ioErr("write", path, err)
	}
	return nil
}

// WriteFile atomically replaces content of the file with d
func WriteFile(path string, d []byte) error {
	f, err := newAtomicFile(path)
	if err != nil {
		return ioErr("create", path, err)
	}
	defer f.cancel()

	if _, err = f.Write(d); err != nil {
		return ioErr("write", path, err)
	}
	if err = f.Close(); err != nil {
		return ioErr("write", path, err)
	}
	return nil
}

// ReadFile returns content of the file. A file that doesn't exist
// returns nil data and no error.
func ReadFile(path string) ([]byte, error) {
	d, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ioErr("read", path, err)
	}
	return d, nil
}

func endsWithNewline(f *os.File, size int64) (bool, error) {
	if size == 0 {
		return true, nil
	}
	var b [1]byte
	if _, err := f.ReadAt(b[:], size-1); err != nil {
		return false, err
	}
	return b[0] == '\n', nil
}

// AppendLine appends line and '\n' to the file, creating it if needed.
// If the write fails, the file is truncated back to its previous size.
func AppendLine(path string, line string) error {
	if strings.Contains(line, "\n") {
		return ioErr("append", path, ErrNewlineInLine)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return ioErr("open", path, err)
	}
	// we don't use O_APPEND because we need to know where we started
	// in order to undo a partial write
	off, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return ioErr("seek", path, err)
	}

	hasNewline, err := endsWithNewline(f, off)
	if err != nil {
		f.Close()
		return ioErr("read", path, err)
	}
	d := make([]byte, 0, len(line)+2)
	if !hasNewline {
		// last line was written by someone else without a terminator
		d = append(d, '\n')
	}
	d = append(d, line...)
	d = append(d, '\n')

	_, err = f.Write(d)
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		_ = f.Truncate(off)
		f.Close()
		return ioErr("append", path, err)
	}
	if err = f.Close(); err != nil {
		return ioErr("close", path, err)
	}
	return nil
}
