package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCorrelationMiddlewareEchoesClientID(t *testing.T) {
	var seen string
	handler := CorrelationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "device-trace-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != "device-trace-1" {
		t.Errorf("context correlation id = %q, want device-trace-1", seen)
	}
	if got := rr.Header().Get("X-Correlation-ID"); got != "device-trace-1" {
		t.Errorf("response header = %q, want device-trace-1", got)
	}
}

func TestCorrelationMiddlewareGeneratesID(t *testing.T) {
	var seen string
	handler := CorrelationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen == "" {
		t.Errorf("no correlation id generated for bare request")
	}
	if rr.Header().Get("X-Correlation-ID") != seen {
		t.Errorf("response header %q does not match context id %q",
			rr.Header().Get("X-Correlation-ID"), seen)
	}
}
