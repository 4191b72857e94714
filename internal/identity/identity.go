// Package identity resolves the conversation session key of each request.
package identity

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SessionHeaderName = "X-CX-Session-ID"
	SessionQueryParam = "session_id"
	SessionCookieName = "cx_session_id"
	sessionCookieTTL  = 24 * time.Hour
)

type contextKey int

const sessionIDKey contextKey = iota

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// SessionIDFromContext extracts the session key from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID returns a context carrying id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// ValidSessionID reports whether id is an acceptable session key.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// NewSessionID generates a time-ordered session key.
func NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func sessionIDFromRequest(r *http.Request) string {
	for _, candidate := range []string{
		r.Header.Get(SessionHeaderName),
		r.URL.Query().Get(SessionQueryParam),
	} {
		if candidate = strings.TrimSpace(candidate); ValidSessionID(candidate) {
			return candidate
		}
	}
	if c, err := r.Cookie(SessionCookieName); err == nil && ValidSessionID(c.Value) {
		return c.Value
	}
	return ""
}

func setSessionCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(sessionCookieTTL.Seconds()),
		Expires:  time.Now().Add(sessionCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// Middleware injects the session key taken from the X-CX-Session-ID
// header, the session_id query parameter or the session cookie, in that
// order. Requests with none get a new key in a cookie.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := sessionIDFromRequest(r)
			if sessionID == "" {
				sessionID = NewSessionID()
				setSessionCookie(w, sessionID, isDev)
			}
			w.Header().Set(SessionHeaderName, sessionID)
			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sessionID)))
		})
	}
}
