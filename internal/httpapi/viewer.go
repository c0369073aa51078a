package httpapi

import (
	"net/http"
	"strings"
)

const (
	tokenHeader  = "X-Viewer-Token"
	cookiePrefix = "chess_viewer_"
)

// viewerToken returns the signed token presented for gameID, if any.
func viewerToken(r *http.Request, gameID string) string {
	if v := strings.TrimSpace(r.Header.Get(tokenHeader)); v != "" {
		return v
	}
	if c, err := r.Cookie(cookiePrefix + gameID); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// viewer returns the verified subject for gameID, or "" for an anonymous viewer.
func (s *Server) viewer(r *http.Request, gameID string) string {
	signed := viewerToken(r, gameID)
	if signed == "" {
		return ""
	}
	sub, err := s.deps.Tokens.Verify(signed, gameID)
	if err != nil {
		return ""
	}
	return sub
}

// requireViewer is viewer for mutations: a missing or invalid token is a 401.
func (s *Server) requireViewer(w http.ResponseWriter, r *http.Request, gameID string) (string, bool) {
	sub := s.viewer(r, gameID)
	if sub == "" {
		s.writeCode(w, r, http.StatusUnauthorized, "unauthorized", false)
		return "", false
	}
	return sub, true
}

// ensureViewer reuses a valid token or mints a new one.
func (s *Server) ensureViewer(r *http.Request, gameID string) (signed, subject string, minted bool, err error) {
	signed = viewerToken(r, gameID)
	if signed != "" {
		if sub, verr := s.deps.Tokens.Verify(signed, gameID); verr == nil {
			return signed, sub, false, nil
		}
	}
	signed, subject, err = s.deps.Tokens.Mint(gameID)
	if err != nil {
		return "", "", false, err
	}
	return signed, subject, true, nil
}

func (s *Server) setViewerCookie(w http.ResponseWriter, gameID, signed string) {
	c := &http.Cookie{
		Name:     cookiePrefix + gameID,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if s.opts.CookieMaxAge > 0 {
		c.MaxAge = int(s.opts.CookieMaxAge.Seconds())
	}
	http.SetCookie(w, c)
}
