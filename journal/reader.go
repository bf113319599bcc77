package journal

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// Reader reads entries written by Journal
type Reader struct {
	r *bufio.Reader

	// Op, Timestamp and Data are available after ReadNext.
	// They are over-written in next ReadNext.
	Op        string
	Timestamp time.Time
	Data      []byte

	// position of the current entry, so that callers can seek to it
	CurrPos int64
	nextPos int64

	err  error
	done bool
}

func NewReader(r io.Reader) *Reader {
	return &Reader{
		r: bufio.NewReader(r),
	}
}

// Done returns true if we're finished reading
func (r *Reader) Done() bool {
	return r.err != nil || r.done
}

// Err returns error from last ReadNext. io.EOF is not an error.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) fail(hdr []byte) bool {
	r.err = fmt.Errorf("journal: unexpected header '%s' at %d", string(bytes.TrimSpace(hdr)), r.CurrPos)
	return false
}

// ReadNext reads next entry. Returns false when there are no more
// entries or there was an error (check Err())
func (r *Reader) ReadNext() bool {
	if r.Done() {
		return false
	}
	r.Op = ""
	r.Timestamp = time.Time{}
	r.CurrPos = r.nextPos

	// "--- ${size} ${timestamp_in_unix_epoch_ms} ${op}\n"
	// timestamp and op are optional
	hdr, err := r.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(hdr) == 0 {
			r.done = true
		} else if err == io.EOF {
			r.err = fmt.Errorf("journal: truncated header at %d", r.CurrPos)
		} else {
			r.err = err
		}
		return false
	}
	entrySize := len(hdr)
	if !bytes.HasPrefix(hdr, hdrPrefix) {
		return r.fail(hdr)
	}
	parts := bytes.Fields(hdr[len(hdrPrefix):])
	if len(parts) == 0 || len(parts) > 3 {
		return r.fail(hdr)
	}
	size, err := strconv.ParseInt(string(parts[0]), 10, 64)
	if err != nil || size < 0 {
		return r.fail(hdr)
	}
	parts = parts[1:]
	if len(parts) > 0 {
		// timestamp is all digits, op never is
		if ms, err := strconv.ParseInt(string(parts[0]), 10, 64); err == nil {
			r.Timestamp = time.UnixMilli(ms).UTC()
			parts = parts[1:]
		}
	}
	if len(parts) > 1 {
		return r.fail(hdr)
	}
	if len(parts) == 1 {
		r.Op = string(parts[0])
	}

	// re-use r.Data as long as it doesn't grow too much
	if cap(r.Data) > 1024*1024 || size > int64(cap(r.Data)) {
		r.Data = make([]byte, size)
	} else {
		r.Data = r.Data[:size]
	}
	n, err := io.ReadFull(r.r, r.Data)
	if err != nil {
		r.err = fmt.Errorf("journal: truncated entry at %d: %w", r.CurrPos, err)
		return false
	}
	entrySize += n
	// writer pads data with '\n' for readability
	if n > 0 && r.Data[n-1] != '\n' {
		if _, err = r.r.Discard(1); err != nil {
			r.err = fmt.Errorf("journal: truncated entry at %d: %w", r.CurrPos, err)
			return false
		}
		entrySize++
	}
	r.nextPos += int64(entrySize)
	return true
}

// Entry is a copy of a journal entry
type Entry struct {
	Op        string
	Timestamp time.Time
	Data      []byte
	Pos       int64
}

// ReadFile returns all entries in a journal file
func ReadFile(path string) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var res []*Entry
	r := NewReader(f)
	for r.ReadNext() {
		e := &Entry{
			Op:        r.Op,
			Timestamp: r.Timestamp,
			Data:      append([]byte(nil), r.Data...),
			Pos:       r.CurrPos,
		}
		res = append(res, e)
	}
	if err = r.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
