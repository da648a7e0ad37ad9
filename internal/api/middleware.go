package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/savegress/medvault/internal/audit"
	"github.com/savegress/medvault/internal/session"
)

type contextKey string

const sessionKey contextKey = "medvault.session"

// sessionFrom pulls the authenticated session out of the request context.
func sessionFrom(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*session.Session)
	return sess, ok
}

// requireSession rejects requests without a valid bearer token and threads
// the session through the request context.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		sess, err := s.sessions.Authenticate(token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "Invalid or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverer converts panics into a generic recoverable error. Unexpected
// failures are tied to the current user in the audit log when a session
// exists; unauthenticated panics are only logged.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
			if sess, ok := sessionFrom(r.Context()); ok {
				if err := s.auditLog.Record(r.Context(), sess.User, audit.ActionError,
					fmt.Sprintf("Unexpected error: %v", rec)); err != nil {
					log.Printf("record error audit entry: %v", err)
				}
			}
			respondError(w, http.StatusInternalServerError, "An unexpected error occurred")
		}()
		next.ServeHTTP(w, r)
	})
}
