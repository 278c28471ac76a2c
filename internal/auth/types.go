package auth

import "slices"

// Scopes granted to API callers.
const (
	ScopeResearchRead  = "research:read"
	ScopeResearchWrite = "research:write"
)

// UserContext is the authenticated caller attached to a request context.
type UserContext struct {
	Subject   string   `json:"sub"`
	Username  string   `json:"username"`
	Scopes    []string `json:"scopes"`
	TokenType string   `json:"token_type"`
}

// HasScope reports whether the caller was granted scope.
func (u *UserContext) HasScope(scope string) bool {
	return u != nil && slices.Contains(u.Scopes, scope)
}
