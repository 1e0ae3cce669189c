package peer

import (
	"context"
	"net/http"
)

type contextKey string

const identityContextKey contextKey = "peer_identity"

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// FromContext returns the identity stored by Middleware, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey).(*Identity)
	return id
}

// Middleware stores the TLS peer identity of each request in its context.
// Requests that did not arrive over TLS pass through unchanged.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := NewContext(r.Context(), FromConnectionState(*r.TLS))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireVerified rejects requests without a verified client certificate.
// It must run after Middleware.
func RequireVerified() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil || !id.Verified {
				http.Error(w, "client certificate required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
