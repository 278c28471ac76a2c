package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

const userContextKey contextKey = "user"

// ErrNoUserContext is returned when a request carries no authenticated caller.
var ErrNoUserContext = errors.New("missing user context")

// devUser is attached to every request when authentication is disabled.
var devUser = &UserContext{
	Subject:   "dev",
	Username:  "dev",
	Scopes:    []string{ScopeResearchRead, ScopeResearchWrite},
	TokenType: "none",
}

// Middleware authenticates HTTP requests with bearer tokens.
type Middleware struct {
	jwtManager *JWTManager
	skipAuth   bool
	logger     *zap.Logger
}

// NewMiddleware creates the middleware. With skipAuth every request runs as a
// development user holding all scopes.
func NewMiddleware(jwtManager *JWTManager, skipAuth bool, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{jwtManager: jwtManager, skipAuth: skipAuth, logger: logger}
}

// HTTPMiddleware attaches the caller to the request context or rejects it.
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), devUser)))
			return
		}

		var token string
		if header := r.Header.Get("Authorization"); header != "" {
			t, err := ExtractBearerToken(header)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid authorization header")
				return
			}
			token = t
		} else if strings.Contains(r.URL.Path, "/events") {
			// EventSource and WebSocket clients cannot set headers.
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		user, err := m.jwtManager.ValidateAccessToken(token)
		if err != nil {
			m.logger.Debug("Rejected token", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), user)))
	})
}

// RequireScope rejects callers without scope.
func RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := GetUserContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !user.HasScope(scope) {
			writeError(w, http.StatusForbidden, "Missing required scope: "+scope)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithUserContext attaches user to ctx.
func WithUserContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// GetUserContext extracts the caller from ctx.
func GetUserContext(ctx context.Context) (*UserContext, error) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	if !ok || user == nil {
		return nil, ErrNoUserContext
	}
	return user, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
