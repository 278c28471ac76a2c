package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	m := NewJWTManager("secret", "deep-research", time.Hour)
	token, err := m.IssueToken("user-1", "alice", ScopeResearchRead)
	require.NoError(t, err)

	user, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.Subject)
	assert.Equal(t, "alice", user.Username)
	assert.True(t, user.HasScope(ScopeResearchRead))
	assert.False(t, user.HasScope(ScopeResearchWrite))
}

func TestValidateRejects(t *testing.T) {
	m := NewJWTManager("secret", "deep-research", time.Hour)
	good, err := m.IssueToken("user-1", "alice")
	require.NoError(t, err)

	otherKey := NewJWTManager("other", "deep-research", time.Hour)
	_, err = otherKey.ValidateAccessToken(good)
	assert.ErrorIs(t, err, ErrInvalidToken)

	otherIssuer := NewJWTManager("secret", "someone-else", time.Hour)
	_, err = otherIssuer.ValidateAccessToken(good)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewJWTManager("secret", "deep-research", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.IssueToken("user-1", "alice")
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ValidateAccessToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.IssueToken("", "nobody")
	assert.Error(t, err)
}

func TestExtractBearerToken(t *testing.T) {
	tok, err := ExtractBearerToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	for _, h := range []string{"", "Basic abc", "Bearer ", "bearer abc"} {
		_, err := ExtractBearerToken(h)
		assert.Error(t, err, h)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	jwtm := NewJWTManager("secret", "deep-research", time.Hour)
	token, err := jwtm.IssueToken("user-1", "alice", ScopeResearchRead)
	require.NoError(t, err)

	var seen *UserContext
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := NewMiddleware(jwtm, false, nil).HTTPMiddleware(RequireScope(ScopeResearchRead, final))

	do := func(req *http.Request) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/research/x", nil)
	assert.Equal(t, http.StatusUnauthorized, do(req))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/research/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusNoContent, do(req))
	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.Subject)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/research/x/events?access_token="+token, nil)
	assert.Equal(t, http.StatusNoContent, do(req))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/research/x?access_token="+token, nil)
	assert.Equal(t, http.StatusUnauthorized, do(req), "query tokens only on event streams")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/research/x", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, do(req))

	writeOnly := NewMiddleware(jwtm, false, nil).HTTPMiddleware(RequireScope(ScopeResearchWrite, final))
	req = httptest.NewRequest(http.MethodPost, "/api/v1/research", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	writeOnly.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSkipAuth(t *testing.T) {
	h := NewMiddleware(nil, true, nil).HTTPMiddleware(RequireScope(ScopeResearchWrite, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/research", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
