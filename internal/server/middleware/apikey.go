package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/leetstack/keygate/internal/service"
)

// LoginRoute identifies the one request that triggers the API-key exchange
// and the header the key is read from.
type LoginRoute struct {
	Method string
	Path   string
	Header string
}

// DefaultLoginRoute is POST /api/auth-by-api-key with the key in X-API-Key.
func DefaultLoginRoute() LoginRoute {
	return LoginRoute{
		Method: http.MethodPost,
		Path:   "/api/auth-by-api-key",
		Header: "X-API-Key",
	}
}

// Matches reports whether r is the login request. Only an exact method and
// path match counts; query strings are ignored.
func (lr LoginRoute) Matches(r *http.Request) bool {
	return r.Method == lr.Method && r.URL.Path == lr.Path
}

// APIKeyLogin returns middleware that authenticates the login request with
// the API key in route.Header. Every other request passes through untouched.
//
// A missing or blank header is rejected without consulting auth. Any
// rejection is a 401 and the downstream handler is not invoked; store
// outages are logged at error level but look like a bad key to the client.
// On success the principal is attached to the request context and the key
// header is stripped from the request passed downstream.
func APIKeyLogin(auth service.Authenticator, route LoginRoute, logger *slog.Logger) func(http.Handler) http.Handler {
	if route.Header == "" {
		route.Header = DefaultLoginRoute().Header
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !route.Matches(r) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			raw := r.Header.Get(route.Header)
			if strings.TrimSpace(raw) == "" {
				reason := service.ReasonMissingCredential
				logger.WarnContext(ctx, "api key login rejected",
					"reason", reason.String(),
					"request_id", GetRequestID(ctx),
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusUnauthorized, reason.Message())
				return
			}

			out := auth.Authenticate(ctx, service.NewAPIKeyCredential(raw))
			p, ok := out.Principal()
			if !ok {
				logRejection(logger, r, "api key login rejected", out)
				writeAuthError(w, http.StatusUnauthorized, rejectionMessage(out))
				return
			}

			logger.InfoContext(ctx, "api key login",
				"principal", p,
				"request_id", GetRequestID(ctx),
			)

			r = r.Clone(WithPrincipal(ctx, p))
			r.Header.Del(route.Header)
			next.ServeHTTP(w, r)
		})
	}
}

func rejectionMessage(out service.Outcome) string {
	if reason, ok := out.Rejection(); ok {
		return reason.Message()
	}
	return service.ReasonInvalidCredential.Message()
}

func logRejection(logger *slog.Logger, r *http.Request, msg string, out service.Outcome) {
	ctx := r.Context()
	attrs := []any{
		"reason", out.Label(),
		"request_id", GetRequestID(ctx),
		"remote_addr", r.RemoteAddr,
	}
	reason, rejected := out.Rejection()
	switch {
	case !rejected:
		// No authenticator accepted the credential type: a wiring fault.
		logger.ErrorContext(ctx, msg, attrs...)
	case reason == service.ReasonStoreUnavailable:
		logger.ErrorContext(ctx, msg, append(attrs, "error", out.Err())...)
	case reason == service.ReasonCanceled:
		logger.WarnContext(ctx, msg, append(attrs, "error", out.Err())...)
	default:
		logger.WarnContext(ctx, msg, attrs...)
	}
}
