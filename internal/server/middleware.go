package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Identity is the caller as resolved by the upstream auth layer.
type Identity struct {
	ClientID string
	UserID   string
}

type identityKey struct{}

func identityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

// identityMiddleware trusts the X-Client-ID and X-User-ID headers set by the
// auth proxy in front of the service.
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Identity{
			ClientID: strings.TrimSpace(r.Header.Get("X-Client-ID")),
			UserID:   strings.TrimSpace(r.Header.Get("X-User-ID")),
		}
		if id.ClientID == "" || id.UserID == "" {
			writeErrorJSON(w, http.StatusUnauthorized, "unauthenticated", "client and user identity required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// requestIDMiddleware ensures X-Request-ID is set on the response.
// If provided in the request header, it is propagated; otherwise a UUID is generated.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" {
			rid = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r)
	})
}
