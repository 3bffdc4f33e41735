package httptransport

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"custodia/internal/identity"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
)

// TokenVerifier validates a bearer token and returns the actor behind it.
type TokenVerifier interface {
	Verify(token string) (identity.Actor, error)
}

// requireAuth rejects requests without a valid bearer token and places the
// actor in the request context for handlers.
func requireAuth(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeNotAuthorized, "missing bearer token"))
				return
			}
			actor, err := verifier.Verify(token)
			if err != nil {
				logger.WarnContext(r.Context(), "token rejected",
					"request_id", chimiddleware.GetReqID(r.Context()),
					"error", err,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeNotAuthorized, "invalid token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithActor(r.Context(), actor)))
		})
	}
}

// requestLogger emits one structured line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"request_id", chimiddleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// actorOr500 fetches the authenticated actor; requireAuth guarantees it, so a
// miss is a wiring bug reported as an internal error.
func actorOr500(w http.ResponseWriter, r *http.Request) (identity.Actor, bool) {
	actor, ok := identity.ActorFrom(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return identity.Actor{}, false
	}
	return actor, true
}
