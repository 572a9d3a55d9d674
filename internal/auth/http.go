// ABOUTME: HTTP middleware for JWT authentication on API and WebSocket endpoints
// ABOUTME: Resolves the token to a stored user and adds an AuthContext to the request

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/homedecor/support-gateway/internal/store"
)

var (
	// ErrRevokedToken is returned for tokens on the denylist
	ErrRevokedToken = errors.New("token revoked")

	// ErrUnknownUser is returned when a valid token names a user that does not exist
	ErrUnknownUser = errors.New("user not found")
)

// UserStore is the lookup the authenticator needs.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
}

// Authenticator turns bearer tokens into AuthContexts.
type Authenticator struct {
	users    UserStore
	verifier TokenVerifier
	denylist Denylist
	logger   *slog.Logger
}

// NewAuthenticator creates an Authenticator. denylist may be nil. Pass nil
// logger for default.
func NewAuthenticator(users UserStore, verifier TokenVerifier, denylist Denylist, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		users:    users,
		verifier: verifier,
		denylist: denylist,
		logger:   logger.With("component", "auth"),
	}
}

// Authenticate verifies token and loads the user it names.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*AuthContext, error) {
	userID, err := a.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	if a.denylist != nil {
		revoked, err := a.denylist.IsRevoked(ctx, token)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrRevokedToken
		}
	}

	user, err := a.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownUser, userID)
	}
	if err != nil {
		return nil, err
	}
	return newAuthContext(user), nil
}

// isAuthFailure reports whether err is the caller's fault rather than ours.
func isAuthFailure(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrMissingClaim) ||
		errors.Is(err, ErrRevokedToken) ||
		errors.Is(err, ErrUnknownUser)
}

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

// tokenFromRequest reads the bearer header, or the "token" query parameter
// when allowQuery is set. Browsers cannot set headers on WebSocket upgrades.
func tokenFromRequest(r *http.Request, allowQuery bool) (string, string) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" && allowQuery && r.Header.Get("Authorization") == "" {
		if q := r.URL.Query().Get("token"); q != "" {
			return q, ""
		}
	}
	return token, errMsg
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (a *Authenticator) middleware(allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := tokenFromRequest(r, allowQuery)
			if errMsg != "" {
				writeError(w, http.StatusUnauthorized, errMsg)
				return
			}

			authCtx, err := a.Authenticate(r.Context(), token)
			if err != nil {
				if isAuthFailure(err) {
					writeError(w, http.StatusUnauthorized, "invalid token")
					return
				}
				a.logger.Error("authentication failed", "error", err)
				writeError(w, http.StatusServiceUnavailable, "authentication unavailable")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// HTTPAuthMiddleware requires a valid bearer token in the Authorization header.
func HTTPAuthMiddleware(a *Authenticator) func(http.Handler) http.Handler {
	return a.middleware(false)
}

// WebSocketAuthMiddleware is HTTPAuthMiddleware that also accepts ?token=.
func WebSocketAuthMiddleware(a *Authenticator) func(http.Handler) http.Handler {
	return a.middleware(true)
}
