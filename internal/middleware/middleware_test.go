package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queuewatch/internal/logger"
	"queuewatch/internal/session"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	h := AuthMiddleware("secret")(okHandler())

	tests := []struct {
		name     string
		path     string
		cookie   string
		wantCode int
	}{
		{"login page is public", "/login", "", http.StatusOK},
		{"static assets are public", "/static/app.js", "", http.StatusOK},
		{"metrics are public", "/metrics", "", http.StatusOK},
		{"api without cookie", "/api/session", "", http.StatusUnauthorized},
		{"page without cookie redirects", "/", "", http.StatusSeeOther},
		{"api with cookie", "/api/session", "true", http.StatusOK},
		{"forged cookie value", "/api/session", "yes", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: AuthCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestAuthMiddleware_DisabledWithoutPassword(t *testing.T) {
	rec := httptest.NewRecorder()
	AuthMiddleware("")(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionMiddleware_ReusesSessionFromCookie(t *testing.T) {
	manager := session.NewManager(session.ManagerConfig{Defaults: session.DefaultSettings(), LogCapacity: 10}, logger.Discard())
	mw := NewSessionMiddleware("test-secret", time.Hour, manager, logger.Discard())

	var seen []string
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := SessionFrom(r.Context())
		require.NotNil(t, s)
		seen = append(seen, s.ID)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	cookies := first.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(cookies[0])
	second := httptest.NewRecorder()
	h.ServeHTTP(second, req)

	require.Len(t, seen, 2)
	assert.Equal(t, seen[0], seen[1])
	assert.Empty(t, second.Result().Cookies(), "cookie is only issued for new sessions")
	assert.Equal(t, 1, manager.Count())
}

func TestSessionMiddleware_TamperedCookieGetsNewSession(t *testing.T) {
	manager := session.NewManager(session.ManagerConfig{Defaults: session.DefaultSettings(), LogCapacity: 10}, logger.Discard())
	mw := NewSessionMiddleware("test-secret", time.Hour, manager, logger.Discard())

	var got *session.Session
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = SessionFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "not-a-signed-value"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.NotNil(t, got)
	assert.NotEmpty(t, rec.Result().Cookies())
	assert.Equal(t, 1, manager.Count())
}

func TestSessionFrom_Empty(t *testing.T) {
	assert.Nil(t, SessionFrom(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
