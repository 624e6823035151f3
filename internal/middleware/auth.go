package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/templui/kickstart/internal/ctxkeys"
	"github.com/templui/kickstart/internal/service"
)

// RequireToken rejects requests without a known bearer token before the
// wrapped handler runs. The token's label is added to the context.
func RequireToken(gate *service.AccessGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			label, ok := gate.Authenticate(bearerToken(r))
			if !ok {
				slog.Warn("rejected request without valid token",
					"path", r.URL.Path,
					"peer", PeerIP(r),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="kickstart"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := ctxkeys.WithTokenLabel(r.Context(), label)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
