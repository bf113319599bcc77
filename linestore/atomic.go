package linestore

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

// Some references:
// - https://www.slideshare.net/nan1nan1/eat-my-data
// - https://lwn.net/Articles/457667/

var (
	// errCancelled is returned by calls subsequent to cancel()
	errCancelled = errors.New("cancelled")

	_ io.WriteCloser = &atomicFile{}
)

// atomicFile writes to a temporary file in the destination directory
// and renames it over the destination on Close.
// If any write fails, destination is left untouched and the temp
// file is removed.
type atomicFile struct {
	dstPath string
	dir     string
	tmpFile *os.File
	tmpPath string
	err     error
}

func newAtomicFile(path string) (*atomicFile, error) {
	dir, fName := filepath.Split(path)
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if fName == "" {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrInvalid}
	}
	// temp file must be on the same filesystem for rename to be atomic
	tmpFile, err := os.CreateTemp(dir, fName+".tmp-")
	if err != nil {
		return nil, err
	}
	return &atomicFile{
		dstPath: path,
		dir:     dir,
		tmpFile: tmpFile,
		tmpPath: tmpFile.Name(),
	}, nil
}

func (f *atomicFile) handleError(err error) error {
	if err == nil {
		return nil
	}
	if f.err == nil {
		f.err = err
	}
	_ = f.Close()
	return err
}

func (f *atomicFile) Write(d []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err := f.tmpFile.Write(d)
	return n, f.handleError(err)
}

func (f *atomicFile) WriteString(s string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err := f.tmpFile.WriteString(s)
	return n, f.handleError(err)
}

func (f *atomicFile) closed() bool {
	return f.tmpFile == nil
}

// cancel removes the temp file if Close wasn't called yet.
// Use with defer to clean up after a panic.
func (f *atomicFile) cancel() {
	if f == nil || f.closed() {
		return
	}
	f.err = errCancelled
	_ = f.Close()
}

// Close syncs and renames temp file over destination.
// Can be called multiple times, returns the first error.
func (f *atomicFile) Close() error {
	if f.closed() {
		return f.err
	}
	tmpFile := f.tmpFile
	f.tmpFile = nil

	// https://www.joeshaw.org/dont-defer-close-on-writable-files/
	errSync := tmpFile.Sync()
	errClose := tmpFile.Close()

	didRename := false
	defer func() {
		if !didRename {
			_ = os.Remove(f.tmpPath)
		}
	}()

	if f.err != nil {
		return f.err
	}

	err := errSync
	if err == nil {
		err = errClose
	}
	if err == nil {
		err = os.Rename(f.tmpPath, f.dstPath)
		didRename = err == nil
		// sync directory so that rename survives a crash
		fdir, _ := os.Open(f.dir)
		if fdir != nil {
			_ = fdir.Sync()
			_ = fdir.Close()
		}
	}
	if f.err == nil {
		f.err = err
	}
	return f.err
}
