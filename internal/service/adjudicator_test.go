package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/leetstack/keygate/internal/model"
)

// fakeVerifier returns a fixed result and counts calls.
type fakeVerifier struct {
	principal Principal
	ok        bool
	err       error
	calls     int
	lastRaw   string
}

func (f *fakeVerifier) Verify(_ context.Context, raw string) (Principal, bool, error) {
	f.calls++
	f.lastRaw = raw
	return f.principal, f.ok, f.err
}

func testPrincipal() Principal {
	return newPrincipal(
		&model.User{ID: "u-1", Email: "ada@example.com", Username: "ada"},
		&model.APIKey{ID: "k-1", UserID: "u-1"},
	)
}

func TestAPIKeyAuthenticatorSuccess(t *testing.T) {
	fv := &fakeVerifier{principal: testPrincipal(), ok: true}
	obs := &recordingObserver{}
	auth := NewAPIKeyAuthenticator(fv, obs)

	out := auth.Authenticate(context.Background(), NewAPIKeyCredential("abc123"))
	p, ok := out.Principal()
	if !ok {
		t.Fatalf("expected authenticated outcome, got %s", out.Label())
	}
	if p.Username() != "ada" {
		t.Errorf("Username() = %q, want ada", p.Username())
	}
	if got := p.Authorities(); len(got) != 1 || got[0] != RoleUser {
		t.Errorf("Authorities() = %v, want [%s]", got, RoleUser)
	}
	if fv.lastRaw != "abc123" {
		t.Errorf("verifier got %q, want abc123", fv.lastRaw)
	}
	if outcomes, _ := obs.snapshot(); len(outcomes) != 1 || outcomes[0] != "api_key:authenticated" {
		t.Errorf("observed %v", outcomes)
	}
}

func TestAPIKeyAuthenticatorRejections(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		verifier   *fakeVerifier
		wantReason Reason
		wantCalls  int
		wantMsg    string
	}{
		{"blank", "   ", &fakeVerifier{}, ReasonMissingCredential, 0, "API key credentials are missing"},
		{"empty", "", &fakeVerifier{}, ReasonMissingCredential, 0, "API key credentials are missing"},
		{"unknown", "nope", &fakeVerifier{}, ReasonInvalidCredential, 1, "Invalid API key"},
		{"store down", "abc123", &fakeVerifier{err: fmt.Errorf("%w: boom", ErrStoreUnavailable)}, ReasonStoreUnavailable, 1, "Invalid API key"},
		{"canceled", "abc123", &fakeVerifier{err: fmt.Errorf("%w: %w", ErrCanceled, context.Canceled)}, ReasonCanceled, 1, "Invalid API key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := NewAPIKeyAuthenticator(tt.verifier, nil)
			out := auth.Authenticate(context.Background(), NewAPIKeyCredential(tt.raw))

			if _, ok := out.Principal(); ok {
				t.Fatal("expected rejection")
			}
			reason, ok := out.Rejection()
			if !ok {
				t.Fatalf("expected rejected outcome, got %s", out.Label())
			}
			if reason != tt.wantReason {
				t.Errorf("reason = %s, want %s", reason, tt.wantReason)
			}
			if reason.Message() != tt.wantMsg {
				t.Errorf("message = %q, want %q", reason.Message(), tt.wantMsg)
			}
			if tt.verifier.calls != tt.wantCalls {
				t.Errorf("verifier calls = %d, want %d", tt.verifier.calls, tt.wantCalls)
			}
		})
	}
}

func TestAPIKeyAuthenticatorStoreCause(t *testing.T) {
	cause := fmt.Errorf("%w: dial tcp", ErrStoreUnavailable)
	auth := NewAPIKeyAuthenticator(&fakeVerifier{err: cause}, nil)

	out := auth.Authenticate(context.Background(), NewAPIKeyCredential("abc123"))
	if !errors.Is(out.Err(), ErrStoreUnavailable) {
		t.Errorf("Err() = %v, want ErrStoreUnavailable", out.Err())
	}
	if out.Label() != "store_unavailable" {
		t.Errorf("Label() = %q", out.Label())
	}
}

func TestAPIKeyAuthenticatorNotApplicable(t *testing.T) {
	fv := &fakeVerifier{ok: true, principal: testPrincipal()}
	auth := NewAPIKeyAuthenticator(fv, nil)

	out := auth.Authenticate(context.Background(), NewSessionCredential("token"))
	if out.Applicable() {
		t.Fatalf("expected not applicable, got %s", out.Label())
	}
	if _, ok := out.Rejection(); ok {
		t.Error("not-applicable outcome must not be a rejection")
	}
	if fv.calls != 0 {
		t.Errorf("verifier called %d times for foreign credential", fv.calls)
	}

	if out := auth.Authenticate(context.Background(), nil); out.Applicable() {
		t.Error("nil credential should be not applicable")
	}
}

func TestAPIKeyAuthenticatorErasesCredential(t *testing.T) {
	for _, fv := range []*fakeVerifier{
		{ok: true, principal: testPrincipal()},
		{},
		{err: ErrStoreUnavailable},
	} {
		cred := NewAPIKeyCredential("abc123")
		NewAPIKeyAuthenticator(fv, nil).Authenticate(context.Background(), cred)
		if !cred.Blank() {
			t.Error("credential not erased after authentication")
		}
	}
}

func TestChain(t *testing.T) {
	store := newFakeStore()
	seedFake(store)
	h, _ := NewHasher()
	v := NewVerifier(store, h, discardLogger(), VerifierConfig{})
	issuer, _ := NewSessionIssuer("secret", 0, nil)

	chain := Chain{
		NewAPIKeyAuthenticator(v, nil),
		NewSessionAuthenticator(issuer, store, nil),
	}

	out := chain.Authenticate(context.Background(), NewAPIKeyCredential("abc123"))
	p, ok := out.Principal()
	if !ok {
		t.Fatalf("api key through chain: %s", out.Label())
	}
	v.Wait()

	token, err := issuer.Issue(p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	out = chain.Authenticate(context.Background(), NewSessionCredential(token))
	if _, ok := out.Principal(); !ok {
		t.Fatalf("session through chain: %s", out.Label())
	}

	if out := (Chain{}).Authenticate(context.Background(), NewAPIKeyCredential("x")); out.Applicable() {
		t.Error("empty chain should be not applicable")
	}
}

func TestCredentialRedaction(t *testing.T) {
	const secret = "lsk_supersecretvalue"
	creds := []Credential{NewAPIKeyCredential(secret), NewSessionCredential(secret)}
	for _, c := range creds {
		if s := fmt.Sprint(c); strings.Contains(s, secret) {
			t.Errorf("%s: fmt output leaks secret: %s", c.Kind(), s)
		}
		if s := fmt.Sprintf("%+v", c); strings.Contains(s, secret) {
			t.Errorf("%s: %%+v output leaks secret: %s", c.Kind(), s)
		}

		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		logger.Info("attempt", "credential", c)
		if strings.Contains(buf.String(), secret) {
			t.Errorf("%s: log output leaks secret: %s", c.Kind(), buf.String())
		}
	}
}

func TestPrincipalImmutable(t *testing.T) {
	p := testPrincipal()
	u := p.User()
	u.Email = "mallory@example.com"
	if p.User().Email != "ada@example.com" {
		t.Error("mutating returned user changed the principal")
	}

	auth := p.Authorities()
	auth[0] = "ROLE_ADMIN"
	if p.Authorities()[0] != RoleUser {
		t.Error("mutating returned authorities changed the principal")
	}

	if !(Principal{}).IsZero() {
		t.Error("zero principal should report IsZero")
	}
}
