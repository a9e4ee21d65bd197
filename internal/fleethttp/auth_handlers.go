package fleethttp

import (
	"encoding/json"
	"net/http"

	"github.com/atlasfleet/atlas/internal/domain"
)

const sessionCookieName = "fleet_session"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	token, err := s.Auth.Login(r.Context(), r.RemoteAddr, req.Username, req.Password, s.SessionTTL)
	switch err {
	case nil:
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    token,
			Path:     "/",
			MaxAge:   int(s.SessionTTL.Seconds()),
			HttpOnly: true,
			Secure:   s.Certs != nil,
			SameSite: http.SameSiteStrictMode,
		})
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case domain.ErrLoginThrottled:
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.Auth.Logout(r.Context(), cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleDashboard serves the operator dashboard shell. Dashboard content is
// out of scope (spec §4.6) — this returns a minimal placeholder page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte("<!doctype html><html><head><title>ATLAS Fleet</title></head>" +
		"<body><p>ATLAS fleet dashboard. See /api/fleet/* for data.</p></body></html>"))
}
