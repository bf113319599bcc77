// Package httpapi exposes invoices over HTTP:
//
//	GET    /invoices       all invoices
//	POST   /invoices       add invoice, responds with its id
//	GET    /invoices/{id}  one invoice, 404 if missing
//	PUT    /invoices/{id}  replace invoice, 204 or 404
//	DELETE /invoices/{id}  delete invoice, 204 or 404
//	GET    /metrics        prometheus metrics
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjk/invoicing/invoice"
	"github.com/kjk/invoicing/log"
	"github.com/kjk/invoicing/store"
)

const maxBodySize = 1 << 20

type Server struct {
	store    *store.Store[*invoice.Invoice]
	mux      *http.ServeMux
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New returns a server for invoices in st. Every server has its own
// metrics registry.
func New(st *store.Store[*invoice.Invoice]) *Server {
	s := &Server{
		store:    st,
		mux:      http.NewServeMux(),
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoicing_http_requests_total",
			Help: "Number of HTTP requests by operation and status code.",
		}, []string{"op", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "invoicing_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	s.registry.MustRegister(
		s.requests,
		s.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s.handle("GET /invoices", "list", s.handleList)
	s.handle("POST /invoices", "add", s.handleAdd)
	s.handle("GET /invoices/{id}", "get", s.handleGet)
	s.handle("PUT /invoices/{id}", "update", s.handleUpdate)
	s.handle("DELETE /invoices/{id}", "delete", s.handleDelete)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return s
}

// Registry returns registry with metrics of this server
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handle registers fn for pattern. Requests are logged and counted
// under op.
func (s *Server) handle(pattern string, op string, fn http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		timeStart := time.Now()
		cw := &CapturingResponseWriter{ResponseWriter: w}
		fn(cw, r)
		dur := time.Since(timeStart)
		code := cw.Code()
		s.requests.WithLabelValues(op, strconv.Itoa(code)).Inc()
		s.duration.WithLabelValues(op).Observe(dur.Seconds())
		log.IfErrf(log.HTTPRequest(r, &log.HTTPInfo{
			Op:   op,
			Code: code,
			Size: cw.Size,
			Dur:  dur,
		}))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Errorf("httpapi: failed to encode response: %s\n", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeStoreError maps store errors to status codes. Failures to
// read or parse the records file are internal errors.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "invoice not found")
		return
	}
	log.Errorf("httpapi: %s %s failed: %s\n", r.Method, r.URL.Path, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	s := r.PathValue("id")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid id '%s'", s))
		return 0, false
	}
	return id, true
}

func readInvoice(w http.ResponseWriter, r *http.Request) (*invoice.Invoice, bool) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	var inv invoice.Invoice
	if err := dec.Decode(&inv); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid invoice: %s", err))
		return nil, false
	}
	if err := inv.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid invoice: %s", err))
		return nil, false
	}
	return &inv, true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.store.GetAll()
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	inv, ok := readInvoice(w, r)
	if !ok {
		return
	}
	id, err := s.store.Save(inv)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	inv, found, err := s.store.GetByID(id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "invoice not found")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	inv, ok := readInvoice(w, r)
	if !ok {
		return
	}
	if err := s.store.Update(id, inv); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.store.Delete(id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListenAndServe serves s on addr until ctx is cancelled, then shuts
// down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      s,
	}
	chServerClosed := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		// mute error caused by Shutdown()
		if err == http.ErrServerClosed {
			err = nil
		}
		chServerClosed <- err
	}()
	log.Logf("httpapi: listening on %s\n", addr)

	select {
	case err := <-chServerClosed:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := httpSrv.Shutdown(shutdownCtx)
	select {
	case err2 := <-chServerClosed:
		if err == nil {
			err = err2
		}
	case <-shutdownCtx.Done():
		// timeout
	}
	log.Logf("httpapi: stopped\n")
	return err
}
