package server

import (
	"net/http"
	"strings"

	"github.com/guaranijs/guarani/scope"
)

// handleUserinfo implements GET /oauth/userinfo: bearer-authenticated,
// returns the claims named by the access token's granted scopes.
func (s *Server) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	r = withSpan(r)

	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="userinfo"`)
		s.writeError(w, withDescription(ErrInvalidToken, "missing bearer token"))
		return
	}
	token := strings.TrimPrefix(auth, prefix)

	ctx := r.Context()
	at, err := s.cfg.Storage.GetAccessToken(ctx, token)
	if err != nil || !at.Active(s.cfg.Now()) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="userinfo", error="invalid_token"`)
		s.writeError(w, ErrInvalidToken)
		return
	}
	if at.UserID == "" {
		s.writeError(w, withDescription(ErrInsufficientScope, "token is not bound to a user"))
		return
	}

	claims, err := s.cfg.Users.Claims(ctx, at.UserID)
	if err != nil {
		s.writeError(w, withDescription(ErrServerError, err.Error()))
		return
	}

	scopes := scope.Scopes(at.Scopes)
	body := map[string]interface{}{"sub": claims.UserID}
	if scopes.Has("profile") {
		body["name"] = claims.Username
		body["preferred_username"] = claims.PreferredUsername
	}
	if scopes.Has("email") {
		body["email"] = claims.Email
		body["email_verified"] = claims.EmailVerified
	}
	if scopes.Has("groups") {
		body["groups"] = claims.Groups
	}

	writeJSON(w, http.StatusOK, body)
}
