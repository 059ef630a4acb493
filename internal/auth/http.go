// ABOUTME: HTTP middleware guarding operator endpoints
// ABOUTME: Accepts a bearer token or the session cookie and adds the operator to context

package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/2389/dispatch-gateway/internal/store"
)

// SessionCookieName is the cookie carrying the operator's session token.
const SessionCookieName = "session_id"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// requestToken returns the session token from the Authorization header, or
// from the session cookie when no header is sent.
func requestToken(r *http.Request) (string, string) {
	if h := r.Header.Get("Authorization"); h != "" {
		return extractBearerToken(h)
	}
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, ""
	}
	return "", "not authenticated"
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// authenticate resolves the request's operator. Returns an error message on failure.
func authenticate(r *http.Request, users store.UserStore, verifier TokenVerifier) (*AuthContext, string) {
	token, errMsg := requestToken(r)
	if errMsg != "" {
		return nil, errMsg
	}

	userID, err := verifier.Verify(token)
	if err != nil {
		return nil, "invalid token"
	}

	user, err := users.FindByID(r.Context(), userID)
	if err != nil {
		return nil, "user not found"
	}

	return &AuthContext{UserID: user.ID, Username: user.Username, Role: user.Role}, ""
}

// HTTPAuthMiddleware rejects requests without a valid operator session with
// 401 and otherwise adds the AuthContext to the request context.
func HTTPAuthMiddleware(users store.UserStore, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, errMsg := authenticate(r, users, verifier)
			if errMsg != "" {
				writeAuthError(w, http.StatusUnauthorized, errMsg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// RequireAdminHTTP rejects operators without the admin role.
// Must be used after HTTPAuthMiddleware.
func RequireAdminHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				writeAuthError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !authCtx.IsAdmin() {
				writeAuthError(w, http.StatusForbidden, "admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
