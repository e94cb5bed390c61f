package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/leetstack/keygate/internal/config"
)

// DefaultSessionTTL is the lifetime of a session token issued at login.
const DefaultSessionTTL = 15 * time.Minute

const sessionIssuer = "keygate"

// ErrInvalidSession is returned when a session token fails verification.
var ErrInvalidSession = errors.New("invalid session token")

// SessionIssuer mints and verifies the short-lived session tokens handed out
// by the login exchange. Tokens carry only identifiers; each use is checked
// against the store again by SessionAuthenticator.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionIssuer creates an issuer signing with secret. An empty secret
// gets a random per-process key, so tokens do not survive a restart.
func NewSessionIssuer(secret string, ttl time.Duration, logger *slog.Logger) (*SessionIssuer, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	key := []byte(secret)
	if secret == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		if logger != nil {
			logger.Warn("auth.session_secret not set; using a random key, sessions end on restart")
		}
	}
	return &SessionIssuer{secret: key, ttl: ttl, now: time.Now}, nil
}

// TTL returns the lifetime of issued tokens.
func (s *SessionIssuer) TTL() time.Duration {
	return s.ttl
}

type sessionClaims struct {
	KeyID string `json:"kid"`
	jwt.RegisteredClaims
}

// Issue signs a session token for p.
func (s *SessionIssuer) Issue(p Principal) (string, error) {
	if p.IsZero() {
		return "", errors.New("issue session: empty principal")
	}
	now := s.now()
	claims := sessionClaims{
		KeyID: p.apiKey.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    sessionIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// parse verifies the token signature and lifetime and returns its claims.
func (s *SessionIssuer) parse(tokenStr string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	},
		jwt.WithIssuer(sessionIssuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidSession
	}
	if claims.Subject == "" || claims.KeyID == "" {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

// SessionAuthenticator adjudicates SessionCredentials. A session is only as
// good as the key that opened it: revoking the key, or deleting its owner,
// ends the session at the next request.
type SessionAuthenticator struct {
	issuer   *SessionIssuer
	store    CredentialStore
	observer Observer
}

// NewSessionAuthenticator creates an authenticator for tokens minted by issuer.
func NewSessionAuthenticator(issuer *SessionIssuer, store CredentialStore, obs Observer) *SessionAuthenticator {
	if obs == nil {
		obs = nopObserver{}
	}
	return &SessionAuthenticator{issuer: issuer, store: store, observer: obs}
}

func (a *SessionAuthenticator) Authenticate(ctx context.Context, cred Credential) Outcome {
	c, ok := cred.(*SessionCredential)
	if !ok || c == nil {
		return notApplicable()
	}
	defer c.Erase()

	start := time.Now()
	out := a.adjudicate(ctx, c)
	a.observer.ObserveAuth(c.Kind(), out.Label(), time.Since(start))
	return out
}

func (a *SessionAuthenticator) adjudicate(ctx context.Context, c *SessionCredential) Outcome {
	if c.Blank() {
		return rejected(ReasonMissingCredential, nil)
	}
	claims, err := a.issuer.parse(c.token)
	if err != nil {
		return rejected(ReasonInvalidCredential, nil)
	}

	key, err := a.store.GetActiveAPIKey(ctx, claims.KeyID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return rejected(ReasonInvalidCredential, nil)
		}
		return lookupFailure(lookupError(ctx, err))
	}
	if key.UserID != claims.Subject {
		return rejected(ReasonInvalidCredential, nil)
	}

	user, err := a.store.GetUser(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return rejected(ReasonInvalidCredential, nil)
		}
		return lookupFailure(lookupError(ctx, err))
	}
	return authenticated(newPrincipal(user, key))
}
