package service

import (
	"context"
	"time"
)

// Authenticator adjudicates one credential. Implementations return a
// NotApplicable outcome for credential types they do not handle, so several
// can be chained.
type Authenticator interface {
	Authenticate(ctx context.Context, cred Credential) Outcome
}

// KeyVerifier is the lookup APIKeyAuthenticator delegates to. *Verifier
// implements it.
type KeyVerifier interface {
	Verify(ctx context.Context, raw string) (Principal, bool, error)
}

// APIKeyAuthenticator adjudicates APIKeyCredentials.
type APIKeyAuthenticator struct {
	verifier KeyVerifier
	observer Observer
}

// NewAPIKeyAuthenticator creates an authenticator backed by v. obs may be nil.
func NewAPIKeyAuthenticator(v KeyVerifier, obs Observer) *APIKeyAuthenticator {
	if obs == nil {
		obs = nopObserver{}
	}
	return &APIKeyAuthenticator{verifier: v, observer: obs}
}

// Authenticate verifies an API-key credential and erases it before
// returning, whatever the outcome.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, cred Credential) Outcome {
	c, ok := cred.(*APIKeyCredential)
	if !ok || c == nil {
		return notApplicable()
	}
	defer c.Erase()

	start := time.Now()
	out := a.adjudicate(ctx, c)
	a.observer.ObserveAuth(c.Kind(), out.Label(), time.Since(start))
	return out
}

func (a *APIKeyAuthenticator) adjudicate(ctx context.Context, c *APIKeyCredential) Outcome {
	if c.Blank() {
		return rejected(ReasonMissingCredential, nil)
	}
	p, ok, err := a.verifier.Verify(ctx, c.secret)
	switch {
	case err != nil:
		return lookupFailure(err)
	case !ok:
		return rejected(ReasonInvalidCredential, nil)
	default:
		return authenticated(p)
	}
}

// Chain tries each authenticator in order and returns the first applicable
// outcome.
type Chain []Authenticator

func (c Chain) Authenticate(ctx context.Context, cred Credential) Outcome {
	for _, a := range c {
		if out := a.Authenticate(ctx, cred); out.Applicable() {
			return out
		}
	}
	return notApplicable()
}
