package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const sessionCookieName = "mini_idp_session"

// sessionRecord is the value stored at KV key "session:<sid>".
type sessionRecord struct {
	Subject string `json:"sub"`
}

// createSession mints a new browser session for subjectName and sets its
// cookie on w, with a lifetime matching the refresh token TTL.
func (s *Server) createSession(ctx context.Context, w http.ResponseWriter, subjectName string) error {
	sid := uuid.NewString()
	expiry := s.clock.Now().Add(s.cfg.RefreshTokenTTL).Unix()
	if err := s.kv.Set(ctx, "session:"+sid, sessionRecord{Subject: subjectName}, &expiry); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Expires:  s.clock.Now().Add(s.cfg.RefreshTokenTTL),
	})
	return nil
}

// authenticatedSubject reads the session cookie off r and resolves it to the
// logged-in user's name, if any.
func (s *Server) authenticatedSubject(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return "", false
	}
	var rec sessionRecord
	ok, err := s.kv.Get(r.Context(), "session:"+cookie.Value, &rec)
	if err != nil || !ok {
		return "", false
	}
	return rec.Subject, true
}

func (s *Server) destroySession(r *http.Request, w http.ResponseWriter) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		_ = s.kv.Delete(r.Context(), "session:"+cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: "", Path: "/", MaxAge: -1})
}
