package journal

import (
	"io"
	"os"
	"path/filepath"
	"time"
)

// dailyFile is a file that switches to a new path when the day changes.
// Not safe for concurrent use, Journal locks.
type dailyFile struct {
	dir    string
	prefix string

	path         string
	creationTime time.Time
	file         *os.File
	// called after a file is closed because of rotation
	didRotate func(path string)
}

func isSameDay(t1, t2 time.Time) bool {
	return t1.Year() == t2.Year() && t1.YearDay() == t2.YearDay()
}

func (f *dailyFile) pathFor(t time.Time) string {
	name := f.prefix + t.Format("2006-01-02") + ".txt"
	return filepath.Join(f.dir, name)
}

func (f *dailyFile) open(now time.Time) error {
	f.path = f.pathFor(now)
	f.creationTime = now
	err := os.MkdirAll(f.dir, 0755)
	if err != nil {
		return err
	}
	// would be easier to open with os.O_APPEND but Seek() doesn't work in that case
	f.file, err = os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, err = f.file.Seek(0, io.SeekEnd)
	return err
}

func (f *dailyFile) close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

func (f *dailyFile) reopenIfNeeded(now time.Time) error {
	if f.file != nil && isSameDay(f.creationTime, now) {
		return nil
	}
	rotated := f.file != nil
	prevPath := f.path
	if err := f.close(); err != nil {
		return err
	}
	if rotated && f.didRotate != nil {
		f.didRotate(prevPath)
	}
	return f.open(now)
}

// write writes d and syncs. Returns offset at which d was written.
func (f *dailyFile) write(d []byte, now time.Time) (int64, error) {
	if err := f.reopenIfNeeded(now); err != nil {
		return 0, err
	}
	off, err := f.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if _, err = f.file.Write(d); err != nil {
		return 0, err
	}
	return off, f.file.Sync()
}
