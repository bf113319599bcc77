// Package journal keeps an audit trail of changes made to the store.
//
// Every Save, Update, Delete and restore (ReplaceAll) is appended to a
// daily file
// (journal-YYYY-MM-DD.txt) as a record:
//
//	--- ${size} ${timestamp_in_unix_epoch_ms} ${op}\n
//	${data}\n
//
// data is TOON encoding of the change: a unique op id, the record id
// and the encoded record. A restore only has the largest record id and
// the number of records.
//
// The journal is write-only from the store's point of view. It's not used
// to recover the store, it's for people figuring out what happened.
package journal

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/toon-format/toon-go"

	"github.com/kjk/invoicing/store"
)

var hdrPrefix = []byte("--- ")

type Journal struct {
	file *dailyFile
	// for tests
	now      func() time.Time
	writeBuf bytes.Buffer
	mu       sync.Mutex
}

// Open opens a journal writing to daily files in dir.
// didRotate (optional) is called with path of a file after we
// stopped writing to it.
func Open(dir string, didRotate func(path string)) (*Journal, error) {
	j := &Journal{
		file: &dailyFile{
			dir:       dir,
			prefix:    "journal-",
			didRotate: didRotate,
		},
		now: time.Now,
	}
	if err := j.file.reopenIfNeeded(j.now().UTC()); err != nil {
		return nil, err
	}
	return j, nil
}

// Path returns path of the file currently written to
func (j *Journal) Path() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return ""
	}
	return j.file.path
}

// MarshalEntry serializes data as a journal entry. If t is zero,
// timestamp is not written.
func MarshalEntry(op string, t time.Time, d []byte, wb *bytes.Buffer) []byte {
	if wb == nil {
		wb = &bytes.Buffer{}
	} else {
		wb.Reset()
	}
	wb.Grow(len(hdrPrefix) + len(op) + len(d) + 64)

	// for readability new entry starts with "--- "
	wb.Write(hdrPrefix)
	wb.WriteString(strconv.Itoa(len(d)))
	if !t.IsZero() {
		wb.WriteString(" ")
		wb.WriteString(strconv.FormatInt(t.UnixMilli(), 10))
	}
	if op != "" {
		wb.WriteString(" ")
		wb.WriteString(op)
	}
	wb.WriteByte('\n')
	// for readability, if data doesn't end with newline we add one
	if n := len(d); n > 0 {
		wb.Write(d)
		if d[n-1] != '\n' {
			wb.WriteByte('\n')
		}
	}
	return wb.Bytes()
}

// Record appends a mutation to the journal. Can be used as
// store.Options.OnMutation
func (j *Journal) Record(m *store.Mutation) error {
	v := map[string]any{
		"opid": uuid.NewString(),
		"id":   m.ID,
	}
	if m.Line != "" {
		v["record"] = m.Line
	}
	if m.Op == store.OpRestore {
		v["count"] = m.Count
	}
	d, err := toon.Marshal(v)
	if err != nil {
		return fmt.Errorf("journal: failed to encode %s of %d: %w", m.Op, m.ID, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return fmt.Errorf("journal: already closed")
	}
	now := j.now().UTC()
	// most entries are small. if buffer gets big, don't keep it around
	if j.writeBuf.Cap() > 100*1024 {
		j.writeBuf = bytes.Buffer{}
	}
	entry := MarshalEntry(string(m.Op), now, d, &j.writeBuf)
	if _, err = j.file.write(entry, now); err != nil {
		return fmt.Errorf("journal: failed to write %s of %d: %w", m.Op, m.ID, err)
	}
	return nil
}

// Close closes the journal file. Can be called multiple times.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.close()
	j.file = nil
	return err
}
