package log

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	log       *WriteDaily
	httpLog   *WriteDaily
	errorsLog *WriteDaily

	// if true, Verbosef() will log messages
	Verbose bool

	// where Logf() echoes messages, for tests
	Stdout io.Writer = os.Stdout
)

// WriteDaily appends to ${Dir}/${Prefix}YYYY-MM-DD.txt, starting a new
// file when the day (in UTC) changes. Safe for concurrent use.
// All methods can be called on nil receiver, they do nothing.
type WriteDaily struct {
	Dir    string
	Prefix string

	// for tests
	now  func() time.Time
	day  string
	file *os.File
	mu   sync.Mutex
}

func NewWriteDaily(dir string, prefix string) *WriteDaily {
	return &WriteDaily{
		Dir:    dir,
		Prefix: prefix,
		now:    time.Now,
	}
}

// Path returns path of the file for day of t
func (w *WriteDaily) Path(t time.Time) string {
	return filepath.Join(w.Dir, w.Prefix+t.UTC().Format("2006-01-02")+".txt")
}

// must be called with w.mu held
func (w *WriteDaily) fileForNow() (*os.File, error) {
	now := w.now().UTC()
	day := now.Format("2006-01-02")
	if w.file != nil && w.day == day {
		return w.file, nil
	}
	if err := w.close(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(w.Path(now), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	w.file = f
	w.day = day
	return f, nil
}

func (w *WriteDaily) Write(d []byte) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := w.fileForNow()
	if err != nil {
		return err
	}
	_, err = f.Write(d)
	return err
}

func (w *WriteDaily) WriteString(s string) error {
	return w.Write([]byte(s))
}

func (w *WriteDaily) close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.day = ""
	return err
}

// Close syncs and closes current file. Writing after Close opens
// the file again.
func (w *WriteDaily) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		_ = w.file.Sync()
	}
	return w.close()
}

type Config struct {
	// directory where log files are stored, as:
	// ${Dir}/invoicing-YYYY-MM-DD.txt
	// ${Dir}/errors/errors-YYYY-MM-DD.txt
	// ${Dir}/http/http-YYYY-MM-DD.txt
	// if empty, we only log to stdout
	Dir     string
	Verbose bool
}

// Init starts logging to files. Logging functions can be used
// before Init, they only print to Stdout.
func Init(config *Config) {
	Verbose = config.Verbose
	dir := config.Dir
	if dir == "" {
		return
	}
	// files are created on first write so if there are no errors
	// there's no errors file
	log = NewWriteDaily(dir, "invoicing-")
	errorsLog = NewWriteDaily(filepath.Join(dir, "errors"), "errors-")
	httpLog = NewWriteDaily(filepath.Join(dir, "http"), "http-")
}

// Close closes all log files
func Close() {
	for _, w := range []**WriteDaily{&log, &errorsLog, &httpLog} {
		_ = (*w).Close()
		*w = nil
	}
}

func Logf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	fmt.Fprint(Stdout, s)
	_ = log.WriteString(s)
}

func Verbosef(format string, args ...any) {
	if !Verbose {
		return
	}
	Logf(format, args...)
}

// callstack returns file:line of callers, skipping skip frames
func callstack(skip int) string {
	var callers [32]uintptr
	n := runtime.Callers(skip+2, callers[:])
	frames := runtime.CallersFrames(callers[:n])
	var sb strings.Builder
	for {
		frame, more := frames.Next()
		if !more {
			break
		}
		sb.WriteString(frame.File)
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(frame.Line))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Errorf logs an error message. Errors log also gets time and callstack.
func Errorf(s string, args ...any) {
	errorf(1, s, args...)
}

func errorf(skip int, s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	Logf("%s", s)
	ts := time.Now().UTC().Format(time.RFC3339)
	_ = errorsLog.WriteString(ts + " " + s + callstack(skip+1))
}

// if err != nil, log and return true
// IfErrf(err) => logs err.Error()
// IfErrf(err, "error is: %v", err) => logs message formatted
func IfErrf(err error, a ...any) bool {
	if err == nil {
		return false
	}
	if len(a) == 0 {
		errorf(1, "%s", err.Error())
		return true
	}
	s, ok := a[0].(string)
	if !ok {
		s = fmt.Sprintf("%s", a[0])
	}
	errorf(1, s, a[1:]...)
	return true
}

func pickFirst(s string) string {
	s, _, _ = strings.Cut(s, ",")
	return strings.TrimSpace(s)
}

// BestRemoteAddress picks the most accurate IP address from client request
// needed because of proxies
func BestRemoteAddress(r *http.Request) string {
	h := r.Header
	for _, hdr := range []string{"CF-Connecting-IP", "X-Real-Ip", "X-Forwarded-For"} {
		if val := h.Get(hdr); val != "" {
			return pickFirst(val)
		}
	}
	return pickFirst(r.RemoteAddr)
}

// HTTPInfo describes how a request was handled
type HTTPInfo struct {
	// API operation, e.g. "get" or "delete"
	Op   string
	Code int
	Size int64
	Dur  time.Duration
}

// FormatHTTPRequest returns a single JSON line (with trailing newline)
// describing the request
func FormatHTTPRequest(r *http.Request, info *HTTPInfo) ([]byte, error) {
	rawQuery := r.URL.RawQuery
	if len(rawQuery) > 128 {
		rawQuery = rawQuery[:128]
	}
	entry := map[string]any{
		"ts":     time.Now().UTC().Unix(),
		"method": r.Method,
		"url":    r.URL.Path,
		"ip":     BestRemoteAddress(r),
		"code":   info.Code,
		"size":   info.Size,
		"dur_ms": float64(info.Dur.Microseconds()) / 1000.0,
	}
	if rawQuery != "" {
		entry["query"] = rawQuery
	}
	if info.Op != "" {
		entry["op"] = info.Op
	}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		entry["ua"] = ua
	}

	buf := &strings.Builder{}
	encoder := json.NewEncoder(buf)
	// avoid unnecessary escaping
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(entry); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// HTTPRequest logs the request to http log
func HTTPRequest(r *http.Request, info *HTTPInfo) error {
	d, err := FormatHTTPRequest(r, info)
	if err != nil {
		return err
	}
	Verbosef("%s", d)
	return httpLog.Write(d)
}
