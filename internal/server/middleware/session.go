package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/leetstack/keygate/internal/service"
)

const noPrincipalMessage = "No authenticated principal available"

// RequireSession returns middleware that admits only requests carrying a
// valid session token in "Authorization: Bearer <token>". Requests that
// already carry a principal pass through.
func RequireSession(auth service.Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, ok := GetPrincipal(ctx); ok {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="keygate"`)
				writeAuthError(w, http.StatusUnauthorized, noPrincipalMessage)
				return
			}

			out := auth.Authenticate(ctx, service.NewSessionCredential(token))
			p, ok := out.Principal()
			if !ok {
				logRejection(logger, r, "session rejected", out)
				w.Header().Set("WWW-Authenticate", `Bearer realm="keygate", error="invalid_token"`)
				writeAuthError(w, http.StatusUnauthorized, "Invalid session token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, p)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}
