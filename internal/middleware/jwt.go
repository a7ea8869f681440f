package myMiddleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go-chat-gateway/internal/auth"
)

// 1. Define Context Keys (Exported so other packages can read them)
type contextKey string

const (
	IdentityKey contextKey = "identity"
	TokenKey    contextKey = "token"
)

// 2. Define what we need from the Authenticator
// This interface decouples 'middleware' from 'auth'
type TokenVerifier interface {
	Verify(tokenString string) (*auth.Identity, error)
}

// 3. The Middleware Structure
type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(v TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: v}
}

// 4. The actual Handler. It runs before the websocket upgrade, so a bad
// credential is a rejected handshake and no other handler ever sees it.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := BearerToken(r)

		identity, err := am.verifier.Verify(tokenString)
		if err != nil {
			msg := "Invalid token"
			switch {
			case errors.Is(err, auth.ErrMissingToken):
				msg = "Missing authentication token"
			case errors.Is(err, auth.ErrTokenExpired):
				msg = "Token expired"
			}
			writeUnauthorized(w, msg)
			return
		}

		// Inject into Context
		ctx := context.WithValue(r.Context(), IdentityKey, identity)
		ctx = context.WithValue(ctx, TokenKey, tokenString)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken pulls the credential from the Authorization header, falling
// back to the token query param for browsers that cannot set headers on
// a websocket handshake.
func BearerToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}

// IdentityFrom returns the identity and raw token attached by Handle.
func IdentityFrom(ctx context.Context) (*auth.Identity, string, bool) {
	identity, ok := ctx.Value(IdentityKey).(*auth.Identity)
	token, ok2 := ctx.Value(TokenKey).(string)
	return identity, token, ok && ok2
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"event": "unauthorized",
		"data":  map[string]string{"message": msg},
	})
}
