// Package middleware wraps registry endpoints with HTTP Basic
// authentication against the user store, injecting the authenticated user
// into the request context for downstream authorization checks.
package middleware

import (
	"context"
	"net/http"

	"github.com/registryx/grain/internal/rlog"
	"github.com/registryx/grain/pkg/apierr"
	"github.com/registryx/grain/pkg/users"
)

// ContextKey avoids collisions on values stashed in request context.
type ContextKey string

// UserKey is the context key the authenticated *users.User is stored under.
const UserKey ContextKey = "user"

// BasicAuth requires a valid username/password on every request. On
// success it calls next with the *users.User in context; on failure it
// writes the OCI 401 envelope with the required WWW-Authenticate challenge.
func BasicAuth(store *users.Store, host string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				apierr.Write(w, host, apierr.CodeUnauthorized, "authentication required", "")
				return
			}

			u := store.Authenticate(username, password)
			if u == nil {
				rlog.Server.Printf("rejected credentials for %q", username)
				apierr.Write(w, host, apierr.CodeUnauthorized, "invalid credentials", "")
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, u)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext retrieves the authenticated user stashed by BasicAuth.
func UserFromContext(r *http.Request) *users.User {
	u, _ := r.Context().Value(UserKey).(*users.User)
	return u
}
