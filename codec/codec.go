// Package codec converts records to single-line JSON and back.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// DefaultIDField is the JSON key holding record identifier
const DefaultIDField = "id"

// ParseError is returned when a line can't be decoded into a record
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	line := e.Line
	if len(line) > 80 {
		// don't cut a multi-byte character
		n := 80
		for n > 0 && !utf8.RuneStart(line[n]) {
			n--
		}
		line = line[:n] + "..."
	}
	return fmt.Sprintf("codec: failed to parse '%s': %s", line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// JSON encodes values of type T as one JSON object per line.
// T is usually a pointer to a struct.
type JSON[T any] struct {
	// IDField is the key of identifier in the JSON object.
	// If empty, DefaultIDField is used
	IDField string
}

// NewJSON returns a codec that uses DefaultIDField
func NewJSON[T any]() *JSON[T] {
	return &JSON[T]{IDField: DefaultIDField}
}

func (c *JSON[T]) idField() string {
	if c.IDField == "" {
		return DefaultIDField
	}
	return c.IDField
}

// Encode returns v as a single line of JSON without trailing newline
func (c *JSON[T]) Encode(v T) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// avoid unnecessary escaping
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("codec: failed to encode %T: %w", v, err)
	}
	// Encode adds a newline. json never emits raw newlines inside
	// strings so this is the only one
	d := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return string(d), nil
}

// Decode parses line created by Encode. The line must hold exactly
// one JSON value, anything after it is an error.
func (c *JSON[T]) Decode(line string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		var zero T
		return zero, &ParseError{Line: line, Err: err}
	}
	if isNull(line) {
		var zero T
		return zero, &ParseError{Line: line, Err: fmt.Errorf("record is null")}
	}
	return v, nil
}

func isNull(line string) bool {
	return string(bytes.TrimSpace([]byte(line))) == "null"
}

// DecodeID returns the identifier of encoded record without
// decoding the whole record. Other fields are skipped, not parsed.
func (c *JSON[T]) DecodeID(line string) (int64, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return 0, &ParseError{Line: line, Err: err}
	}
	raw, ok := fields[c.idField()]
	if !ok {
		return 0, &ParseError{Line: line, Err: fmt.Errorf("missing '%s' field", c.idField())}
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, &ParseError{Line: line, Err: fmt.Errorf("invalid '%s' field: %w", c.idField(), err)}
	}
	return id, nil
}
