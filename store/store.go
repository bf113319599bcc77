package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kjk/invoicing/codec"
	"github.com/kjk/invoicing/idalloc"
	"github.com/kjk/invoicing/linestore"
	"github.com/kjk/invoicing/log"
)

// ErrNotFound is returned by Update and Delete for a missing identifier
var ErrNotFound = errors.New("record not found")

// Record is implemented by types stored in a Store.
// Usually implemented on a pointer to a struct.
type Record interface {
	GetID() int64
	SetID(id int64)
}

// Op describes a mutation
type Op string

const (
	OpSave   Op = "save"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	// all records replaced by ReplaceAll
	OpRestore Op = "restore"
)

// Mutation is passed to Options.OnMutation after a successful change
type Mutation struct {
	Op Op
	ID int64
	// encoded record, empty for OpDelete and OpRestore
	Line string
	// number of records after OpRestore
	Count int
}

type Options struct {
	// defaults to "invoices.txt"
	RecordsFileName string
	// defaults to "id.txt"
	IDsFileName string
	// called after every successful Save, Update, Delete and
	// ReplaceAll while the store is still locked
	OnMutation func(m *Mutation)
}

type Store[T Record] struct {
	path       string
	ids        *idalloc.Allocator
	codec      *codec.JSON[T]
	onMutation func(m *Mutation)

	mu sync.RWMutex
}

func panicIf(cond bool, args ...any) {
	if !cond {
		return
	}
	s := "condition failed"
	if len(args) > 0 {
		s = fmt.Sprintf("%s", args[0])
		if len(args) > 1 {
			s = fmt.Sprintf(s, args[1:]...)
		}
	}
	panic(s)
}

// New creates a store over records file at path
func New[T Record](path string, ids *idalloc.Allocator, c *codec.JSON[T]) *Store[T] {
	panicIf(path == "", "path of records file must be provided")
	panicIf(ids == nil, "id allocator must be provided")
	if c == nil {
		c = codec.NewJSON[T]()
	}
	return &Store[T]{
		path:  path,
		ids:   ids,
		codec: c,
	}
}

// Open opens (creating if needed) a store in dir
func Open[T Record](dir string, opts *Options) (*Store[T], error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory is not set. For current directory, use '.'")
	}
	if opts == nil {
		opts = &Options{}
	}
	recordsName := opts.RecordsFileName
	if recordsName == "" {
		recordsName = "invoices.txt"
	}
	idsName := opts.IDsFileName
	if idsName == "" {
		idsName = "id.txt"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	path, err := filepath.Abs(filepath.Join(dir, recordsName))
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for records file: %w", err)
	}
	ids, err := idalloc.New(filepath.Join(dir, idsName))
	if err != nil {
		return nil, err
	}
	s := New[T](path, ids, nil)
	s.onMutation = opts.OnMutation

	// create empty records file so that it's obvious where data goes
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err = linestore.WriteAllLines(path, nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns path of the records file
func (s *Store[T]) Path() string {
	return s.path
}

// IDs returns the allocator used to assign identifiers
func (s *Store[T]) IDs() *idalloc.Allocator {
	return s.ids
}

// Codec returns the codec used to encode records
func (s *Store[T]) Codec() *codec.JSON[T] {
	return s.codec
}

func (s *Store[T]) notify(m *Mutation) {
	if s.onMutation == nil {
		return
	}
	s.onMutation(m)
}

// blank lines are not records. they can appear when the file is
// edited by hand
func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

func (s *Store[T]) readLines() ([]string, error) {
	lines, err := linestore.ReadAllLines(s.path)
	if err != nil {
		return nil, err
	}
	res := lines[:0]
	for _, line := range lines {
		if !isBlank(line) {
			res = append(res, line)
		}
	}
	return res, nil
}

// Save assigns a new identifier to rec and appends it to the store.
// Identifier already set in rec is ignored.
func (s *Store[T]) Save(rec T) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.ids.Next()
	if err != nil {
		return 0, fmt.Errorf("store: failed to save record: %w", err)
	}
	rec.SetID(id)
	line, err := s.codec.Encode(rec)
	if err != nil {
		return 0, fmt.Errorf("store: failed to save record %d: %w", id, err)
	}
	if err = linestore.AppendLine(s.path, line); err != nil {
		return 0, fmt.Errorf("store: failed to save record %d: %w", id, err)
	}
	log.Verbosef("store: saved record %d\n", id)
	s.notify(&Mutation{Op: OpSave, ID: id, Line: line})
	return id, nil
}

// findLine returns index of the line with record id, -1 if not found
func (s *Store[T]) findLine(lines []string, id int64) (int, error) {
	for i, line := range lines {
		lineID, err := s.codec.DecodeID(line)
		if err != nil {
			return -1, err
		}
		if lineID == id {
			return i, nil
		}
	}
	return -1, nil
}

// GetByID returns record with a given id. ok is false if there's
// no such record.
func (s *Store[T]) GetByID(id int64) (rec T, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var zero T
	lines, err := s.readLines()
	if err != nil {
		return zero, false, fmt.Errorf("store: failed to get record %d: %w", id, err)
	}
	idx, err := s.findLine(lines, id)
	if err != nil {
		return zero, false, fmt.Errorf("store: failed to get record %d: %w", id, err)
	}
	if idx < 0 {
		return zero, false, nil
	}
	rec, err = s.codec.Decode(lines[idx])
	if err != nil {
		return zero, false, fmt.Errorf("store: failed to get record %d: %w", id, err)
	}
	return rec, true, nil
}

// GetAll returns all records in the order they appear in the file
func (s *Store[T]) GetAll() ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines, err := s.readLines()
	if err != nil {
		return nil, fmt.Errorf("store: failed to read records: %w", err)
	}
	res := make([]T, 0, len(lines))
	for _, line := range lines {
		rec, err := s.codec.Decode(line)
		if err != nil {
			return nil, fmt.Errorf("store: failed to read records: %w", err)
		}
		res = append(res, rec)
	}
	return res, nil
}

// Count returns number of records
func (s *Store[T]) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines, err := s.readLines()
	if err != nil {
		return 0, fmt.Errorf("store: failed to read records: %w", err)
	}
	return len(lines), nil
}

// removeLine returns lines without the line of record id.
// Returns ErrNotFound if there's no such record.
func (s *Store[T]) removeLine(id int64) ([]string, error) {
	lines, err := s.readLines()
	if err != nil {
		return nil, err
	}
	idx, err := s.findLine(lines, id)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return nil, ErrNotFound
	}
	return append(lines[:idx], lines[idx+1:]...), nil
}

// Update replaces record id with rec. The record moves to the end
// of the file.
func (s *Store[T]) Update(id int64, rec T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.removeLine(id)
	if err != nil {
		return fmt.Errorf("store: failed to update record %d: %w", id, err)
	}
	rec.SetID(id)
	line, err := s.codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("store: failed to update record %d: %w", id, err)
	}
	lines = append(lines, line)
	if err = linestore.WriteAllLines(s.path, lines); err != nil {
		return fmt.Errorf("store: failed to update record %d: %w", id, err)
	}
	log.Verbosef("store: updated record %d\n", id)
	s.notify(&Mutation{Op: OpUpdate, ID: id, Line: line})
	return nil
}

// Delete removes record id
func (s *Store[T]) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.removeLine(id)
	if err != nil {
		return fmt.Errorf("store: failed to delete record %d: %w", id, err)
	}
	if err = linestore.WriteAllLines(s.path, lines); err != nil {
		return fmt.Errorf("store: failed to delete record %d: %w", id, err)
	}
	log.Verbosef("store: deleted record %d\n", id)
	s.notify(&Mutation{Op: OpDelete, ID: id})
	return nil
}

// ReplaceAll atomically replaces all records with lines, after
// checking that every line decodes and identifiers are unique.
// The identifier counter is moved past the largest identifier.
// OnMutation gets OpRestore with the largest identifier as ID.
func (s *Store[T]) ReplaceAll(lines []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxID int64
	seen := map[int64]bool{}
	res := make([]string, 0, len(lines))
	for _, line := range lines {
		if isBlank(line) {
			continue
		}
		id, err := s.codec.DecodeID(line)
		if err != nil {
			return fmt.Errorf("store: failed to replace records: %w", err)
		}
		if _, err = s.codec.Decode(line); err != nil {
			return fmt.Errorf("store: failed to replace records: %w", err)
		}
		if seen[id] {
			return fmt.Errorf("store: failed to replace records: duplicate id %d", id)
		}
		seen[id] = true
		maxID = max(maxID, id)
		res = append(res, line)
	}
	// advance counter first: a crash in between only skips identifiers
	if err := s.ids.AdvancePast(maxID); err != nil {
		return fmt.Errorf("store: failed to replace records: %w", err)
	}
	if err := linestore.WriteAllLines(s.path, res); err != nil {
		return fmt.Errorf("store: failed to replace records: %w", err)
	}
	log.Verbosef("store: replaced all records, %d records\n", len(res))
	s.notify(&Mutation{Op: OpRestore, ID: maxID, Count: len(res)})
	return nil
}

// Lines returns raw encoded records, for snapshots
func (s *Store[T]) Lines() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines, err := s.readLines()
	if err != nil {
		return nil, fmt.Errorf("store: failed to read records: %w", err)
	}
	return lines, nil
}
