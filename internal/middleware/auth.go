package middleware

import (
	"context"
	"net/http"
	"strings"
)

// TokenVerifier turns a bearer token into the user ID it was issued to.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

const userIDKey contextKey = "user_id"

// Authenticate requires a valid bearer token. Browsers cannot set headers on a
// websocket handshake, so a "token" query parameter is accepted as well.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}

			userID, err := verifier.VerifyToken(token)
			if err != nil {
				AddSpanError(r.Context(), err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// BearerToken extracts the token from the Authorization header or the query string.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated user, or "" outside Authenticate.
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}
