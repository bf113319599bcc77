package log

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	prev := Stdout
	Stdout = &buf
	t.Cleanup(func() {
		Stdout = prev
	})
	return &buf
}

func todayFile(dir string, prefix string) string {
	return filepath.Join(dir, prefix+time.Now().UTC().Format("2006-01-02")+".txt")
}

func TestLogfWithoutInit(t *testing.T) {
	buf := captureStdout(t)
	Logf("hello %d\n", 5)
	Logf("no args\n")
	assert.Equal(t, "hello 5\nno args\n", buf.String())
}

func TestInitWritesFiles(t *testing.T) {
	_ = captureStdout(t)
	dir := t.TempDir()
	Init(&Config{Dir: dir})
	defer Close()

	Logf("first line\n")
	Verbosef("not logged\n")
	Errorf("bad thing: %s", "oops")

	d, err := os.ReadFile(todayFile(dir, "invoicing-"))
	assert.NoError(t, err)
	s := string(d)
	assert.True(t, strings.HasPrefix(s, "first line\n"))
	assert.False(t, strings.Contains(s, "not logged"))
	assert.True(t, strings.Contains(s, "bad thing: oops"))

	d, err = os.ReadFile(todayFile(filepath.Join(dir, "errors"), "errors-"))
	assert.NoError(t, err)
	assert.True(t, strings.Contains(string(d), "Z bad thing: oops\n"))
	// callstack points at this test
	assert.True(t, strings.Contains(string(d), "log_test.go"))
}

func TestVerbosef(t *testing.T) {
	buf := captureStdout(t)
	Verbose = true
	defer func() { Verbose = false }()
	Verbosef("v %s\n", "on")
	assert.Equal(t, "v on\n", buf.String())
}

func TestIfErrf(t *testing.T) {
	buf := captureStdout(t)
	assert.False(t, IfErrf(nil))
	assert.Equal(t, "", buf.String())

	assert.True(t, IfErrf(os.ErrNotExist, "save of %d failed", 3))
	assert.True(t, strings.HasPrefix(buf.String(), "save of 3 failed\n"))
}

func TestWriteDailyNil(t *testing.T) {
	var w *WriteDaily
	assert.NoError(t, w.Write([]byte("x")))
	assert.NoError(t, w.WriteString("x"))
	assert.NoError(t, w.Close())
}

func TestWriteDailyRotates(t *testing.T) {
	dir := t.TempDir()
	w := NewWriteDaily(dir, "test-")
	defer w.Close()

	day := time.Date(2025, 6, 30, 23, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return day }
	assert.NoError(t, w.WriteString("a\n"))
	assert.NoError(t, w.WriteString("b\n"))
	w.now = func() time.Time { return day.Add(2 * time.Hour) }
	assert.NoError(t, w.WriteString("c\n"))
	assert.NoError(t, w.Close())
	// re-opens and appends
	assert.NoError(t, w.WriteString("d\n"))

	d, err := os.ReadFile(filepath.Join(dir, "test-2025-06-30.txt"))
	assert.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(d))
	d, err = os.ReadFile(w.Path(day.Add(2 * time.Hour)))
	assert.NoError(t, err)
	assert.Equal(t, "c\nd\n", string(d))
}

func TestIfErrfWritesErrorsLog(t *testing.T) {
	_ = captureStdout(t)
	dir := t.TempDir()
	Init(&Config{Dir: dir})
	defer Close()

	assert.True(t, IfErrf(os.ErrPermission))
	d, err := os.ReadFile(todayFile(filepath.Join(dir, "errors"), "errors-"))
	assert.NoError(t, err)
	assert.True(t, strings.Contains(string(d), os.ErrPermission.Error()))
	assert.True(t, strings.Contains(string(d), "log_test.go"))
}

func TestFormatHTTPRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/invoices/3?x=1", nil)
	r.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	r.Header.Set("User-Agent", "test")
	info := &HTTPInfo{Op: "get", Code: 404, Size: 12, Dur: 1500 * time.Microsecond}
	d, err := FormatHTTPRequest(r, info)
	assert.NoError(t, err)
	assert.True(t, bytes.HasSuffix(d, []byte("\n")))

	var m map[string]any
	assert.NoError(t, json.Unmarshal(d, &m))
	assert.Equal(t, "GET", m["method"])
	assert.Equal(t, "/invoices/3", m["url"])
	assert.Equal(t, "x=1", m["query"])
	assert.Equal(t, "10.0.0.1", m["ip"])
	assert.Equal(t, float64(404), m["code"])
	assert.Equal(t, float64(12), m["size"])
	assert.Equal(t, 1.5, m["dur_ms"])
	assert.Equal(t, "get", m["op"])
	assert.Equal(t, "test", m["ua"])

	r = httptest.NewRequest("POST", "/invoices", nil)
	d, err = FormatHTTPRequest(r, &HTTPInfo{Code: 200})
	assert.NoError(t, err)
	m = nil
	assert.NoError(t, json.Unmarshal(d, &m))
	_, hasQuery := m["query"]
	assert.False(t, hasQuery)
	_, hasOp := m["op"]
	assert.False(t, hasOp)
	// httptest requests come from 192.0.2.1:1234
	assert.Equal(t, "192.0.2.1:1234", m["ip"])
}

func TestHTTPRequestWritesHTTPLog(t *testing.T) {
	_ = captureStdout(t)
	dir := t.TempDir()
	Init(&Config{Dir: dir})
	defer Close()

	r := httptest.NewRequest("DELETE", "/invoices/1", nil)
	assert.NoError(t, HTTPRequest(r, &HTTPInfo{Op: "delete", Code: 204}))
	d, err := os.ReadFile(todayFile(filepath.Join(dir, "http"), "http-"))
	assert.NoError(t, err)
	assert.True(t, strings.Contains(string(d), `"op":"delete"`))
}
