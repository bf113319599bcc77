// Package idalloc hands out unique, increasing record identifiers.
//
// The next identifier is persisted in a counter file containing only
// its decimal representation. The counter is written before an id is
// returned, so after a crash an id might be skipped but is never
// issued twice.
package idalloc

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/kjk/invoicing/linestore"
)

// FirstID is the first identifier issued by a new counter
const FirstID int64 = 1

// Allocator is safe for concurrent use
type Allocator struct {
	path string
	next int64
	mu   sync.Mutex
}

func writeCounter(path string, n int64) error {
	return linestore.WriteFile(path, []byte(strconv.FormatInt(n, 10)))
}

// New loads the counter from path. A missing or empty counter file is
// initialized to FirstID.
func New(path string) (*Allocator, error) {
	d, err := linestore.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("idalloc: failed to read counter: %w", err)
	}
	a := &Allocator{
		path: path,
		next: FirstID,
	}
	s := strings.TrimSpace(string(d))
	if s == "" {
		if err = writeCounter(path, a.next); err != nil {
			return nil, fmt.Errorf("idalloc: failed to initialize counter: %w", err)
		}
		return a, nil
	}
	a.next, err = strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("idalloc: invalid counter in '%s': %w", path, err)
	}
	if a.next < FirstID {
		return nil, fmt.Errorf("idalloc: invalid counter %d in '%s'", a.next, path)
	}
	return a, nil
}

// Path returns path of the counter file
func (a *Allocator) Path() string {
	return a.path
}

// Next persists the counter and returns a new identifier.
// If persisting fails, the counter doesn't advance.
func (a *Allocator) Next() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := writeCounter(a.path, a.next+1); err != nil {
		return 0, fmt.Errorf("idalloc: failed to persist counter: %w", err)
	}
	id := a.next
	a.next++
	return id, nil
}

// Peek returns identifier that will be returned by the next call to Next
func (a *Allocator) Peek() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// AdvancePast ensures that identifiers returned by Next are greater
// than id. It never moves the counter backwards.
// Used after restoring records from a snapshot.
func (a *Allocator) AdvancePast(id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id < a.next {
		return nil
	}
	if err := writeCounter(a.path, id+1); err != nil {
		return fmt.Errorf("idalloc: failed to persist counter: %w", err)
	}
	a.next = id + 1
	return nil
}
