package handler

import (
	"log/slog"
	"net/http"

	"github.com/leetstack/keygate/internal/model"
	"github.com/leetstack/keygate/internal/server/middleware"
	"github.com/leetstack/keygate/internal/service"
)

// AuthHandler serves the API-key login exchange and the principal lookup.
// Both rely on middleware having placed a principal in the request context.
type AuthHandler struct {
	issuer *service.SessionIssuer
	logger *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(issuer *service.SessionIssuer, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		issuer: issuer,
		logger: logger,
	}
}

// Login returns the authenticated user together with a session token for
// follow-up requests.
// POST /api/auth-by-api-key
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, service.ReasonInvalidCredential.Message())
		return
	}

	token, err := h.issuer.Issue(p)
	if err != nil {
		h.logger.Error("issue session token failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"user_id", p.UserID(),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Failed to issue session token")
		return
	}

	writeJSON(w, http.StatusOK, model.LoginResponse{
		User:        p.User(),
		Token:       token,
		TokenType:   "bearer",
		ExpiresIn:   int(h.issuer.TTL().Seconds()),
		Authorities: p.Authorities(),
	})
}

// CurrentPrincipal returns the user behind the current session.
// GET /api/current-principal
func (h *AuthHandler) CurrentPrincipal(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "No authenticated principal available")
		return
	}
	writeJSON(w, http.StatusOK, p.User())
}
