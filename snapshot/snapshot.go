// Package snapshot exports records of a store to a (possibly compressed)
// file and restores them.
//
// Compression is picked based on file extension:
//   - .zst, .zstd: zstd
//   - .br: brotli
//   - .gz: gzip
//   - anything else: not compressed
//
// Uncompressed content of a snapshot has the same format as the records
// file, one encoded record per line.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/kjk/invoicing/linestore"
	"github.com/kjk/invoicing/log"
	"github.com/kjk/invoicing/store"
)

type Compression int

const (
	None Compression = iota
	Zstd
	Brotli
	Gzip
)

func (c Compression) String() string {
	switch c {
	case Zstd:
		return "zstd"
	case Brotli:
		return "brotli"
	case Gzip:
		return "gzip"
	}
	return "none"
}

// CompressionForPath returns compression based on extension of path
func CompressionForPath(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return Zstd
	case ".br":
		return Brotli
	case ".gz":
		return Gzip
	}
	return None
}

func getErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func zstdNewWriter(dst io.Writer) (*zstd.Encoder, error) {
	// zstd.SpeedBestCompression is much slower and not much better
	return zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

// Compress compresses d
func Compress(d []byte, c Compression) ([]byte, error) {
	var dst bytes.Buffer
	var w io.WriteCloser
	var err error
	switch c {
	case None:
		return d, nil
	case Zstd:
		w, err = zstdNewWriter(&dst)
	case Brotli:
		w = brotli.NewWriterLevel(&dst, brotli.DefaultCompression)
	case Gzip:
		w, err = gzip.NewWriterLevel(&dst, gzip.BestCompression)
	default:
		err = fmt.Errorf("unknown compression %d", c)
	}
	if err != nil {
		return nil, err
	}
	_, err = w.Write(d)
	err2 := w.Close()
	if err = getErr(err, err2); err != nil {
		return nil, err
	}
	return dst.Bytes(), nil
}

// Decompress decompresses d
func Decompress(d []byte, c Compression) ([]byte, error) {
	r := bytes.NewReader(d)
	switch c {
	case None:
		return d, nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case Brotli:
		return io.ReadAll(brotli.NewReader(r))
	case Gzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		return io.ReadAll(gr)
	}
	return nil, fmt.Errorf("unknown compression %d", c)
}

// WriteLines atomically writes lines to path, compressed based on
// extension of path
func WriteLines(path string, lines []string) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	c := CompressionForPath(path)
	d, err := Compress(buf.Bytes(), c)
	if err != nil {
		return fmt.Errorf("snapshot: %s compression of '%s' failed: %w", c, path, err)
	}
	return linestore.WriteFile(path, d)
}

// ReadLines reads lines from a file written with WriteLines
func ReadLines(path string) ([]string, error) {
	d, err := linestore.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("snapshot: '%s' doesn't exist", path)
	}
	c := CompressionForPath(path)
	d, err = Decompress(d, c)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %s decompression of '%s' failed: %w", c, path, err)
	}
	s := strings.TrimSuffix(string(d), "\n")
	if s == "" {
		return nil, nil
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines, nil
}

// Export writes all records of s to path. Returns number of records.
func Export[T store.Record](s *store.Store[T], path string) (int, error) {
	lines, err := s.Lines()
	if err != nil {
		return 0, err
	}
	if err = WriteLines(path, lines); err != nil {
		return 0, err
	}
	log.Verbosef("snapshot: exported %d records to '%s'\n", len(lines), path)
	return len(lines), nil
}

// Restore replaces all records of s with records from snapshot at path.
// Every record is validated before the store is changed.
func Restore[T store.Record](s *store.Store[T], path string) (int, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return 0, err
	}
	if err = s.ReplaceAll(lines); err != nil {
		return 0, err
	}
	n, err := s.Count()
	if err != nil {
		return 0, err
	}
	log.Verbosef("snapshot: restored %d records from '%s'\n", n, path)
	return n, nil
}
