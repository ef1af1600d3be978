package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"queuewatch/internal/logger"
	"queuewatch/internal/session"
)

const (
	// SessionCookie carries the signed session id.
	SessionCookie = "queuewatch_session"
	sessionIDKey  = "id"
)

type contextKey int

const sessionKey contextKey = iota

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFrom returns the session attached by SessionMiddleware, or nil.
func SessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey).(*session.Session)
	return s
}

// SessionMiddleware resolves the caller's dashboard session from a signed
// cookie, creating a new session when the cookie is absent, tampered with or
// points at an expired session.
type SessionMiddleware struct {
	store    *sessions.CookieStore
	sessions *session.Manager
	logger   *logger.Logger
}

func NewSessionMiddleware(secret string, ttl time.Duration, manager *session.Manager, log *logger.Logger) *SessionMiddleware {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionMiddleware{store: store, sessions: manager, logger: log.With("session")}
}

func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A cookie that fails to decode still yields a fresh, empty session.
		cookie, err := m.store.Get(r, SessionCookie)
		if err != nil {
			m.logger.Debug("Discarding unreadable session cookie: %v", err)
		}

		id, _ := cookie.Values[sessionIDKey].(string)
		s, created := m.sessions.GetOrCreate(id)
		if created {
			cookie.Values[sessionIDKey] = s.ID
			if err := cookie.Save(r, w); err != nil {
				m.logger.Error("Failed to save session cookie: %v", err)
			}
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}
