package middleware

import (
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	apiContext "grip/internal/api/context"
	"grip/internal/platform/metrics"
)

func TestObserve(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	handler := Observe("/api/v1/things/:id", m)(func(w http.ResponseWriter, r *http.Request) {
		if r.Context().Value(apiContext.RequestID) != "req-1" {
			t.Errorf("request id not propagated")
		}
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest("GET", "/api/v1/things/42", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rr := httptest.NewRecorder()
	handler(rr, req)

	if rr.Header().Get("X-Request-ID") != "req-1" {
		t.Errorf("expected request id echoed, got %q", rr.Header().Get("X-Request-ID"))
	}
	if got := testutil.ToFloat64(m.RequestTotal.WithLabelValues("GET", "/api/v1/things/:id", "4xx")); got != 1 {
		t.Errorf("requests_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestErrors.WithLabelValues("GET", "/api/v1/things/:id", "404")); got != 1 {
		t.Errorf("errors_total = %v, want 1", got)
	}
}

func TestLimitBody(t *testing.T) {
	var readErr error
	handler := LimitBody(8)(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	})

	handler(httptest.NewRecorder(), httptest.NewRequest("POST", "/", strings.NewReader("12345678")))
	if readErr != nil {
		t.Errorf("body at the limit should be readable, got %v", readErr)
	}

	handler(httptest.NewRecorder(), httptest.NewRequest("POST", "/", strings.NewReader("123456789")))
	var tooLarge *http.MaxBytesError
	if !stderrors.As(readErr, &tooLarge) {
		t.Errorf("expected MaxBytesError past the limit, got %v", readErr)
	}
}
