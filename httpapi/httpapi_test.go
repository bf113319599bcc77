package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert"
	"github.com/carlmjohnson/requests"
	"github.com/shopspring/decimal"

	"github.com/kjk/invoicing/invoice"
	"github.com/kjk/invoicing/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store[*invoice.Invoice]) {
	t.Helper()
	st, err := store.Open[*invoice.Invoice](t.TempDir(), nil)
	assert.NoError(t, err)
	srv := httptest.NewServer(New(st))
	t.Cleanup(srv.Close)
	return srv, st
}

func testInvoice(number string) *invoice.Invoice {
	return &invoice.Invoice{
		Number: number,
		Date:   time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Buyer: invoice.Company{
			TaxIdentificationNumber: "552-666-99-11",
			Name:                    "Buyer Sp. z o.o.",
			Address:                 "ul. Kwiatowa 1, Warszawa",
		},
		Seller: invoice.Company{
			TaxIdentificationNumber: "123-456-78-90",
			Name:                    "Seller S.A.",
			Address:                 "ul. Polna 2, Kraków",
		},
		Entries: []invoice.Entry{
			{
				Description: "Consulting",
				Quantity:    invoice.NewAmount(decimal.NewFromInt(1)),
				NetPrice:    invoice.RequireAmount("1000.00"),
				VatValue:    invoice.RequireAmount("230.00"),
				VatRate:     invoice.Vat23,
			},
		},
	}
}

func TestInvoicesCRUD(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	var all []*invoice.Invoice
	err := requests.URL(srv.URL).Path("/invoices").ToJSON(&all).Fetch(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(all))

	var id1, id2 int64
	err = requests.URL(srv.URL).Path("/invoices").BodyJSON(testInvoice("FV/1")).ToJSON(&id1).Fetch(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), id1)
	err = requests.URL(srv.URL).Path("/invoices").BodyJSON(testInvoice("FV/2")).ToJSON(&id2).Fetch(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), id2)

	var got invoice.Invoice
	err = requests.URL(srv.URL).Path("/invoices/2").ToJSON(&got).Fetch(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)
	assert.Equal(t, "FV/2", got.Number)
	assert.Equal(t, "1000.00", got.Entries[0].NetPrice.String())
	assert.True(t, got.Date.Equal(time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)))

	updated := testInvoice("FV/1-corrected")
	err = requests.URL(srv.URL).Path("/invoices/1").Method(http.MethodPut).BodyJSON(updated).CheckStatus(http.StatusNoContent).Fetch(ctx)
	assert.NoError(t, err)
	inv, ok, err := st.GetByID(1)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "FV/1-corrected", inv.Number)

	err = requests.URL(srv.URL).Path("/invoices/2").Method(http.MethodDelete).CheckStatus(http.StatusNoContent).Fetch(ctx)
	assert.NoError(t, err)

	err = requests.URL(srv.URL).Path("/invoices").ToJSON(&all).Fetch(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(all))
	assert.Equal(t, int64(1), all[0].ID)
}

func TestNotFound(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()
	_, err := st.Save(testInvoice("FV/1"))
	assert.NoError(t, err)
	before, err := os.ReadFile(st.Path())
	assert.NoError(t, err)

	err = requests.URL(srv.URL).Path("/invoices/42").CheckStatus(http.StatusNotFound).Fetch(ctx)
	assert.NoError(t, err)
	err = requests.URL(srv.URL).Path("/invoices/42").Method(http.MethodPut).BodyJSON(testInvoice("x")).CheckStatus(http.StatusNotFound).Fetch(ctx)
	assert.NoError(t, err)
	err = requests.URL(srv.URL).Path("/invoices/42").Method(http.MethodDelete).CheckStatus(http.StatusNotFound).Fetch(ctx)
	assert.NoError(t, err)

	after, err := os.ReadFile(st.Path())
	assert.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestBadRequests(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	err := requests.URL(srv.URL).Path("/invoices/abc").CheckStatus(http.StatusBadRequest).Fetch(ctx)
	assert.NoError(t, err)

	err = requests.URL(srv.URL).Path("/invoices").BodyBytes([]byte("{not json")).CheckStatus(http.StatusBadRequest).Fetch(ctx)
	assert.NoError(t, err)

	invalid := testInvoice("FV/1")
	invalid.Buyer.Name = ""
	var body string
	err = requests.URL(srv.URL).Path("/invoices").BodyJSON(invalid).CheckStatus(http.StatusBadRequest).ToString(&body).Fetch(ctx)
	assert.NoError(t, err)
	assert.True(t, strings.Contains(body, "buyer.name"), body)

	err = requests.URL(srv.URL).Path("/invoices").BodyBytes([]byte(`{"entries":[{"vatRate":"VAT_99"}]}`)).CheckStatus(http.StatusBadRequest).Fetch(ctx)
	assert.NoError(t, err)

	n, err := st.Count()
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(1), st.IDs().Peek())
}

func TestCorruptStoreIsInternalError(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()
	err := os.WriteFile(st.Path(), []byte("{\"id\":1}\nnot json\n"), 0644)
	assert.NoError(t, err)

	err = requests.URL(srv.URL).Path("/invoices").CheckStatus(http.StatusInternalServerError).Fetch(ctx)
	assert.NoError(t, err)
	err = requests.URL(srv.URL).Path("/invoices/5").CheckStatus(http.StatusInternalServerError).Fetch(ctx)
	assert.NoError(t, err)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	err := requests.URL(srv.URL).Path("/invoices").Method(http.MethodPatch).CheckStatus(http.StatusMethodNotAllowed).Fetch(context.Background())
	assert.NoError(t, err)
}

func TestMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	err := requests.URL(srv.URL).Path("/invoices").Fetch(ctx)
	assert.NoError(t, err)
	err = requests.URL(srv.URL).Path("/invoices/7").CheckStatus(http.StatusNotFound).Fetch(ctx)
	assert.NoError(t, err)

	var metrics string
	err = requests.URL(srv.URL).Path("/metrics").ToString(&metrics).Fetch(ctx)
	assert.NoError(t, err)
	assert.True(t, strings.Contains(metrics, `invoicing_http_requests_total{code="200",op="list"} 1`), metrics)
	assert.True(t, strings.Contains(metrics, `invoicing_http_requests_total{code="404",op="get"} 1`), metrics)
	assert.True(t, strings.Contains(metrics, `invoicing_http_request_duration_seconds_count{op="list"} 1`), metrics)
}

func TestCapturingResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &CapturingResponseWriter{ResponseWriter: rec}
	assert.Equal(t, http.StatusOK, w.Code())
	_, err := w.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code())
	assert.Equal(t, int64(5), w.Size)

	rec = httptest.NewRecorder()
	w = &CapturingResponseWriter{ResponseWriter: rec}
	w.WriteHeader(http.StatusNoContent)
	assert.Equal(t, http.StatusNoContent, w.Code())
	assert.Equal(t, int64(0), w.Size)
}

func TestListenAndServeShutdown(t *testing.T) {
	st, err := store.Open[*invoice.Invoice](t.TempDir(), nil)
	assert.NoError(t, err)
	s := New(st)
	ctx, cancel := context.WithCancel(context.Background())
	chErr := make(chan error, 1)
	go func() {
		chErr <- s.ListenAndServe(ctx, "127.0.0.1:0")
	}()
	cancel()
	select {
	case err = <-chErr:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server didn't stop")
	}
}
