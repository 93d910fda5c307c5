package middleware

import (
	"context"
	"log/slog"
	"net/http"
)

// KeyRefresher is satisfied by *secretkey.Provider.
type KeyRefresher interface {
	MaybeRefresh(ctx context.Context) bool
}

// SecretKeyRefresh gives the signing key provider a chance to refresh before
// each request. The provider decides whether its interval has elapsed and
// never fails the request.
func SecretKeyRefresh(p KeyRefresher, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p.MaybeRefresh(r.Context()) && logger != nil {
				logger.InfoContext(r.Context(), "signing key rotated during request",
					"request_id", GetRequestID(r.Context()),
					"path", r.URL.Path)
			}
			next.ServeHTTP(w, r)
		})
	}
}
