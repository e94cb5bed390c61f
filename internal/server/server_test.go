package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leetstack/keygate/internal/config"
	"github.com/leetstack/keygate/internal/model"
	"github.com/leetstack/keygate/internal/server/middleware"
	"github.com/leetstack/keygate/internal/service"
	"github.com/leetstack/keygate/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const testSessionSecret = "test-secret-for-jwt-integration-tests"

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server   *Server
	store    *config.Store
	keys     *service.KeyManager
	verifier *service.Verifier
	metrics  *telemetry.Metrics
}

// newTestEnv creates a fresh test environment with an in-memory store and a
// fully wired Server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, DefaultConfig())
}

func newTestEnvWithConfig(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	store, err := config.NewStore(config.StoreOptions{}) // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hasher, err := service.NewHasher()
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := telemetry.New()

	verifier := service.NewVerifier(store, hasher, logger, service.VerifierConfig{Observer: metrics})
	t.Cleanup(verifier.Wait)

	issuer, err := service.NewSessionIssuer(testSessionSecret, 0, logger)
	if err != nil {
		t.Fatalf("NewSessionIssuer: %v", err)
	}

	return &testEnv{
		server:   New(cfg, store, verifier, issuer, metrics, logger),
		store:    store,
		keys:     service.NewKeyManager(store, hasher),
		verifier: verifier,
		metrics:  metrics,
	}
}

// seedKey creates a user with one active key and returns both.
func (e *testEnv) seedKey(t *testing.T, email string) (*model.User, string) {
	t.Helper()
	u := &model.User{Email: email}
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	issued, err := e.keys.Issue(context.Background(), u.ID, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return u, issued.RawKey
}

// do executes an HTTP request against the test server and returns the recorder.
// headers is an optional map of header key-value pairs.
func (e *testEnv) do(t *testing.T, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// login exchanges raw for a session token.
func (e *testEnv) login(t *testing.T, raw string) model.LoginResponse {
	t.Helper()
	rr := e.do(t, "POST", "/api/auth-by-api-key", map[string]string{"X-API-Key": raw})
	assertStatus(t, rr, http.StatusOK)
	var resp model.LoginResponse
	decodeJSON(t, rr, &resp)
	return resp
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	return resp.Error.Message
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/healthz", nil)
	assertStatus(t, rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/readyz", nil)
	assertStatus(t, rr, http.StatusOK)

	env.store.Close()
	rr = env.do(t, "GET", "/readyz", nil)
	assertStatus(t, rr, http.StatusServiceUnavailable)
}

// ---------------------------------------------------------------------------
// Login and session flow
// ---------------------------------------------------------------------------

func TestLoginThenCurrentPrincipal(t *testing.T) {
	env := newTestEnv(t)
	user, raw := env.seedKey(t, "abc@example.com")

	resp := env.login(t, raw)
	if resp.User.ID != user.ID {
		t.Fatalf("user.id = %q, want %q", resp.User.ID, user.ID)
	}
	if resp.ExpiresIn != int(service.DefaultSessionTTL.Seconds()) {
		t.Errorf("expires_in = %d", resp.ExpiresIn)
	}

	rr := env.do(t, "GET", "/api/current-principal", map[string]string{
		"Authorization": "Bearer " + resp.Token,
	})
	assertStatus(t, rr, http.StatusOK)

	var got model.User
	decodeJSON(t, rr, &got)
	if got.Email != "abc@example.com" {
		t.Errorf("email = %q", got.Email)
	}
}

func TestLoginRejections(t *testing.T) {
	env := newTestEnv(t)
	env.seedKey(t, "abc@example.com")

	tests := []struct {
		name    string
		headers map[string]string
		wantMsg string
	}{
		{"missing header", nil, "API key credentials are missing"},
		{"blank header", map[string]string{"X-API-Key": "   "}, "API key credentials are missing"},
		{"unknown key", map[string]string{"X-API-Key": "abc123"}, "Invalid API key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/auth-by-api-key", tt.headers)
			assertStatus(t, rr, http.StatusUnauthorized)
			if msg := errorMessage(t, rr); msg != tt.wantMsg {
				t.Errorf("message = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestLoginRouteOnlyAcceptsPost(t *testing.T) {
	env := newTestEnv(t)
	_, raw := env.seedKey(t, "abc@example.com")

	rr := env.do(t, "GET", "/api/auth-by-api-key", map[string]string{"X-API-Key": raw})
	assertStatus(t, rr, http.StatusMethodNotAllowed)
}

func TestAPIKeyNotAcceptedOutsideLogin(t *testing.T) {
	env := newTestEnv(t)
	_, raw := env.seedKey(t, "abc@example.com")

	rr := env.do(t, "GET", "/api/current-principal", map[string]string{"X-API-Key": raw})
	assertStatus(t, rr, http.StatusUnauthorized)
	if msg := errorMessage(t, rr); msg != "No authenticated principal available" {
		t.Errorf("message = %q", msg)
	}
}

func TestRevocationEndsSession(t *testing.T) {
	env := newTestEnv(t)
	user, raw := env.seedKey(t, "abc@example.com")
	token := env.login(t, raw).Token

	if _, _, err := env.keys.Rotate(context.Background(), user.ID, ""); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	rr := env.do(t, "GET", "/api/current-principal", map[string]string{"Authorization": "Bearer " + token})
	assertStatus(t, rr, http.StatusUnauthorized)

	rr = env.do(t, "POST", "/api/auth-by-api-key", map[string]string{"X-API-Key": raw})
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestCustomLoginRoute(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoginRoute = middleware.LoginRoute{Method: http.MethodPost, Path: "/auth/key", Header: "X-Keygate-Key"}
	env := newTestEnvWithConfig(t, cfg)
	_, raw := env.seedKey(t, "abc@example.com")

	rr := env.do(t, "POST", "/auth/key", map[string]string{"X-Keygate-Key": raw})
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "POST", "/api/auth-by-api-key", map[string]string{"X-API-Key": raw})
	assertStatus(t, rr, http.StatusNotFound)
}

func TestConcurrentLogins(t *testing.T) {
	env := newTestEnv(t)
	_, rawA := env.seedKey(t, "a@example.com")
	_, rawB := env.seedKey(t, "b@example.com")

	var wg sync.WaitGroup
	codes := make(chan int, 20)
	for i := 0; i < 10; i++ {
		for _, raw := range []string{rawA, rawB} {
			wg.Add(1)
			go func(raw string) {
				defer wg.Done()
				req := httptest.NewRequest("POST", "/api/auth-by-api-key", nil)
				req.Header.Set("X-API-Key", raw)
				rr := httptest.NewRecorder()
				env.server.ServeHTTP(rr, req)
				codes <- rr.Code
			}(raw)
		}
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		if code != http.StatusOK {
			t.Errorf("status = %d, want 200", code)
		}
	}
}

// ---------------------------------------------------------------------------
// Metrics and OpenAPI
// ---------------------------------------------------------------------------

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	_, raw := env.seedKey(t, "abc@example.com")
	env.login(t, raw)
	env.do(t, "POST", "/api/auth-by-api-key", map[string]string{"X-API-Key": "abc123"})

	rr := env.do(t, "GET", "/metrics", nil)
	assertStatus(t, rr, http.StatusOK)

	body := rr.Body.String()
	for _, want := range []string{
		`keygate_auth_attempts_total{method="api_key",outcome="authenticated"} 1`,
		`keygate_auth_attempts_total{method="api_key",outcome="invalid_credential"} 1`,
		`keygate_http_requests_total{method="POST",route="/api/auth-by-api-key",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestMetricsDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricsEnabled = false
	env := newTestEnvWithConfig(t, cfg)

	rr := env.do(t, "GET", "/metrics", nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestOpenAPIEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/openapi.json", nil)
	assertStatus(t, rr, http.StatusOK)

	var doc struct {
		Paths map[string]interface{} `json:"paths"`
	}
	decodeJSON(t, rr, &doc)
	for _, p := range []string{"/api/auth-by-api-key", "/api/current-principal", "/healthz", "/readyz"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Errorf("openapi document missing path %s", p)
		}
	}
}

func TestCORSPreflightAllowsKeyHeader(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("OPTIONS", "/api/auth-by-api-key", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "X-API-Key")
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)

	allowed := strings.ToLower(rr.Header().Get("Access-Control-Allow-Headers"))
	if !strings.Contains(allowed, "x-api-key") {
		t.Errorf("Access-Control-Allow-Headers = %q", allowed)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestServeShutsDownOnCancel(t *testing.T) {
	env := newTestEnv(t)
	_, raw := env.seedKey(t, "abc@example.com")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, ln) }()

	req, _ := http.NewRequest("POST", "http://"+ln.Addr().String()+"/api/auth-by-api-key", nil)
	req.Header.Set("X-API-Key", raw)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if err := env.store.Ping(context.Background()); err == nil {
		t.Error("store still open after shutdown")
	}
}

// slowTouchStore delays last-used updates so they are still pending when
// shutdown begins.
type slowTouchStore struct {
	*config.Store
	delay   time.Duration
	touched atomic.Bool
}

func (s *slowTouchStore) TouchAPIKeyLastUsed(ctx context.Context, id string) error {
	time.Sleep(s.delay)
	err := s.Store.TouchAPIKeyLastUsed(ctx, id)
	s.touched.Store(true)
	return err
}

func TestServeWaitsForTouchesWhenShutdownTimesOut(t *testing.T) {
	env := newTestEnv(t)
	_, raw := env.seedKey(t, "abc@example.com")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hasher, _ := service.NewHasher()
	slow := &slowTouchStore{Store: env.store, delay: 300 * time.Millisecond}
	verifier := service.NewVerifier(slow, hasher, logger, service.VerifierConfig{})
	issuer, err := service.NewSessionIssuer(testSessionSecret, 0, logger)
	if err != nil {
		t.Fatalf("NewSessionIssuer: %v", err)
	}
	cfg := DefaultConfig()
	cfg.ShutdownTimeout = 20 * time.Millisecond
	srv := New(cfg, env.store, verifier, issuer, nil, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	req, _ := http.NewRequest("POST", "http://"+ln.Addr().String()+"/api/auth-by-api-key", nil)
	req.Header.Set("X-API-Key", raw)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	// A half-written request keeps its connection active past the timeout.
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := io.WriteString(conn, "GET /healthz HTTP/1.1\r\nHost: keygate\r\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected shutdown timeout error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if !slow.touched.Load() {
		t.Error("Serve returned before the pending last-used update finished")
	}
}
