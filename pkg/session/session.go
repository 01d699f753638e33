// Package session extracts the authenticated user from verified JWT claims
// and makes it available to request handlers and the enforcement gate.
package session

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/jwtauth/v5"
)

const accessTokenCookie = "access_token"

// AuthUser is the authenticated account as carried in the session token.
type AuthUser struct {
	ID    string
	Token string
	Roles []string
}

func (u AuthUser) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user", u.ID),
		slog.Any("roles", u.Roles),
	)
}

// contextKey is a value for use with context.WithValue, defined as a pointer
// so it fits in an interface{} without allocation.
type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "session context value " + k.name
}

var authUserKey = &contextKey{"AuthUser"}

// FromContext returns the authenticated user placed by Middleware.
func FromContext(ctx context.Context) (AuthUser, bool) {
	user, ok := ctx.Value(authUserKey).(AuthUser)
	return user, ok
}

// WithUser returns a context carrying the user. Exposed for tests.
func WithUser(ctx context.Context, user AuthUser) context.Context {
	return context.WithValue(ctx, authUserKey, user)
}

// Verifier verifies the session JWT from the Authorization header or the
// access_token cookie.
func Verifier(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return jwtauth.Verify(ja, jwtauth.TokenFromHeader, tokenFromCookie)(next)
	}
}

func tokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(accessTokenCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Middleware builds an AuthUser from the verified claims and stores it in
// the request context. Requests without a valid token pass through with no
// user; route guards decide whether that is acceptable.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			next.ServeHTTP(w, r)
			return
		}

		user := AuthUser{Token: token.JwtID()}
		if sub, ok := claims["sub"].(string); ok {
			user.ID = sub
		}
		if raw, ok := claims["roles"].([]interface{}); ok {
			for _, role := range raw {
				if s, ok := role.(string); ok {
					user.Roles = append(user.Roles, s)
				}
			}
		}
		if user.ID == "" {
			slog.Warn("Session token without subject claim")
			next.ServeHTTP(w, r)
			return
		}

		// Keep the raw token for upstream calls made on the user's behalf.
		if header := r.Header.Get("Authorization"); len(header) > 7 {
			user.Token = header[7:]
		} else if cookie := tokenFromCookie(r); cookie != "" {
			user.Token = cookie
		}

		slog.Debug("authenticated user", "user", user)
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// IsAdmin reports whether the user holds any of the configured admin roles.
func IsAdmin(user AuthUser, adminRoles []string) bool {
	for _, role := range user.Roles {
		for _, admin := range adminRoles {
			if role == admin {
				return true
			}
		}
	}
	return false
}
