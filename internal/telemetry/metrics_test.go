package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveAuth(t *testing.T) {
	m := New()
	m.ObserveAuth("api_key", "authenticated", 2*time.Millisecond)
	m.ObserveAuth("api_key", "authenticated", time.Millisecond)
	m.ObserveAuth("api_key", "store_unavailable", time.Millisecond)

	if got := testutil.ToFloat64(m.authAttempts.WithLabelValues("api_key", "authenticated")); got != 2 {
		t.Errorf("authenticated = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.authAttempts.WithLabelValues("api_key", "store_unavailable")); got != 1 {
		t.Errorf("store_unavailable = %v, want 1", got)
	}
}

func TestTouchFailed(t *testing.T) {
	m := New()
	m.TouchFailed()
	if got := testutil.ToFloat64(m.touchFailures); got != 1 {
		t.Errorf("touch failures = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveAuth("session", "invalid_credential", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `keygate_auth_attempts_total{method="session",outcome="invalid_credential"} 1`) {
		t.Errorf("metrics output missing auth counter:\n%s", body)
	}
}

func TestInstrumentUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/"+id, nil))
	}

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/users/{id}", "418")); got != 3 {
		t.Errorf("requests for /users/{id} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.httpInFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
}
