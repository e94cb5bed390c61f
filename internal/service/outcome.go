package service

import (
	"context"
	"errors"
	"fmt"
)

// ErrStoreUnavailable marks verification failures caused by the credential
// store rather than by the credential.
var ErrStoreUnavailable = errors.New("credential store unavailable")

// ErrCanceled marks lookups abandoned because the caller's context ended.
var ErrCanceled = errors.New("authentication canceled")

// lookupError wraps a store failure. Failures after ctx ended are the
// caller's doing and are not reported as outages.
func lookupError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// lookupFailure turns a wrapped lookup error into a rejection.
func lookupFailure(err error) Outcome {
	if errors.Is(err, ErrCanceled) {
		return rejected(ReasonCanceled, err)
	}
	return rejected(ReasonStoreUnavailable, err)
}

// Reason classifies a rejected authentication attempt.
type Reason int

const (
	// ReasonMissingCredential: nothing usable was presented.
	ReasonMissingCredential Reason = iota + 1
	// ReasonInvalidCredential: unknown, revoked, or orphaned key.
	ReasonInvalidCredential
	// ReasonStoreUnavailable: the store failed; the caller still gets a 401.
	ReasonStoreUnavailable
	// ReasonCanceled: the request ended before the lookup finished.
	ReasonCanceled
)

func (r Reason) String() string {
	switch r {
	case ReasonMissingCredential:
		return "missing_credential"
	case ReasonInvalidCredential:
		return "invalid_credential"
	case ReasonStoreUnavailable:
		return "store_unavailable"
	case ReasonCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Message is the client-facing text for the reason. Store outages read the
// same as bad keys.
func (r Reason) Message() string {
	if r == ReasonMissingCredential {
		return "API key credentials are missing"
	}
	return "Invalid API key"
}

type outcomeKind int

const (
	outcomeNotApplicable outcomeKind = iota
	outcomeAuthenticated
	outcomeRejected
)

// Outcome is the result of adjudicating one credential: authenticated with a
// principal, rejected with a reason, or not applicable to the authenticator.
// The zero Outcome is NotApplicable.
type Outcome struct {
	kind      outcomeKind
	principal Principal
	reason    Reason
	cause     error
}

func authenticated(p Principal) Outcome {
	return Outcome{kind: outcomeAuthenticated, principal: p}
}

func rejected(reason Reason, cause error) Outcome {
	return Outcome{kind: outcomeRejected, reason: reason, cause: cause}
}

func notApplicable() Outcome {
	return Outcome{kind: outcomeNotApplicable}
}

// Principal returns the authenticated principal, if any.
func (o Outcome) Principal() (Principal, bool) {
	return o.principal, o.kind == outcomeAuthenticated
}

// Rejection returns the rejection reason, if the credential was rejected.
func (o Outcome) Rejection() (Reason, bool) {
	return o.reason, o.kind == outcomeRejected
}

// Applicable reports whether the authenticator handled the credential type.
func (o Outcome) Applicable() bool {
	return o.kind != outcomeNotApplicable
}

// Err returns the infrastructure error behind a rejection, or nil.
func (o Outcome) Err() error {
	return o.cause
}

// Label is a low-cardinality name for logs and metrics.
func (o Outcome) Label() string {
	switch o.kind {
	case outcomeAuthenticated:
		return "authenticated"
	case outcomeRejected:
		return o.reason.String()
	default:
		return "not_applicable"
	}
}
