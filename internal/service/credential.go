package service

import (
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

// Credential is a caller-presented secret awaiting adjudication. The set of
// implementations is closed: only this package can add one, and only this
// package can read the secret back.
type Credential interface {
	// Kind names the credential type for logs and metrics.
	Kind() string
	// Erase drops the secret. Authenticators call it once they are done.
	Erase()

	sealed()
}

// APIKeyCredential carries a raw API key taken from a request header.
type APIKeyCredential struct {
	secret string
}

// NewAPIKeyCredential wraps a raw API key.
func NewAPIKeyCredential(raw string) *APIKeyCredential {
	return &APIKeyCredential{secret: raw}
}

func (c *APIKeyCredential) Kind() string { return "api_key" }

func (c *APIKeyCredential) Erase() { c.secret = "" }

// Blank reports whether the credential carries no usable secret.
func (c *APIKeyCredential) Blank() bool { return strings.TrimSpace(c.secret) == "" }

func (c *APIKeyCredential) String() string { return "api_key(" + redacted + ")" }

func (c *APIKeyCredential) LogValue() slog.Value { return slog.StringValue(redacted) }

func (c *APIKeyCredential) sealed() {}

// SessionCredential carries a session token issued by the login exchange.
type SessionCredential struct {
	token string
}

// NewSessionCredential wraps a bearer session token.
func NewSessionCredential(token string) *SessionCredential {
	return &SessionCredential{token: token}
}

func (c *SessionCredential) Kind() string { return "session" }

func (c *SessionCredential) Erase() { c.token = "" }

// Blank reports whether the credential carries no usable token.
func (c *SessionCredential) Blank() bool { return strings.TrimSpace(c.token) == "" }

func (c *SessionCredential) String() string { return "session(" + redacted + ")" }

func (c *SessionCredential) LogValue() slog.Value { return slog.StringValue(redacted) }

func (c *SessionCredential) sealed() {}
