package server

import (
	"net/http"

	"github.com/guaranijs/guarani/storage"
)

// handleLogout implements GET,POST /oauth/logout: starts RP-initiated
// logout by allocating a LogoutTicket and redirecting to the logout UI.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	r = withSpan(r)
	_ = r.ParseForm()
	q := r.Form

	sessionID := cookieValue(r, sessionCookieName)
	now := s.cfg.Now()
	ticket := storage.LogoutTicket{
		Challenge:             storage.NewID(),
		SessionID:             sessionID,
		ClientID:              q.Get("client_id"),
		PostLogoutRedirectURI: q.Get("post_logout_redirect_uri"),
		State:                 q.Get("state"),
		CreatedAt:             now,
		ExpiresAt:             now.Add(s.cfg.GrantTTL),
	}
	if err := s.cfg.Storage.CreateLogoutTicket(r.Context(), ticket); err != nil {
		s.writeError(w, withDescription(ErrServerError, err.Error()))
		return
	}

	http.Redirect(w, r, appendChallenge(s.cfg.UserInteraction.LogoutURL, "logout_challenge", ticket.Challenge), http.StatusSeeOther)
}
