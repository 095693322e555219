package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/guaranijs/guarani/interaction"
)

// redirectToResponse is the shape every interaction decision endpoint
// returns: a URL the UI should send the browser back to, per spec §4.4.
type redirectToResponse struct {
	RedirectTo string `json:"redirect_to"`
}

func (s *Server) writeInteractionError(w http.ResponseWriter, err error) {
	if errors.Is(err, interaction.ErrGrantNotFound) {
		s.writeError(w, withDescription(ErrInvalidRequest, "unknown or expired challenge"))
		return
	}
	if errors.Is(err, interaction.ErrLoginNotInSession) {
		s.writeError(w, withDescription(ErrInvalidRequest, "login_id not present in session"))
		return
	}
	s.writeError(w, withDescription(ErrServerError, err.Error()))
}

// handleLoginInteraction implements GET,POST /oauth/interaction/login.
func (s *Server) handleLoginInteraction(w http.ResponseWriter, r *http.Request) {
	r = withSpan(r)
	engine := s.cfg.interactionEngine()

	if r.Method == http.MethodGet {
		challenge := r.URL.Query().Get("login_challenge")
		ctx, err := engine.LoginContext(r.Context(), challenge)
		if err != nil {
			s.writeInteractionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ctx)
		return
	}

	var body struct {
		Challenge string   `json:"login_challenge"`
		Accept    bool     `json:"accept"`
		UserID    string   `json:"user_id"`
		AMR       []string `json:"amr"`
		ACR       string   `json:"acr"`
		Error     string   `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, withDescription(ErrInvalidRequest, "malformed decision body"))
		return
	}

	result, err := engine.HandleLoginDecision(r.Context(), body.Challenge, interaction.LoginDecision{
		Accept: body.Accept,
		UserID: body.UserID,
		AMR:    body.AMR,
		ACR:    body.ACR,
		Error:  body.Error,
	})
	if err != nil {
		s.writeInteractionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redirectToResponse{RedirectTo: result.RedirectTo})
}

// handleConsentInteraction implements GET,POST /oauth/interaction/consent.
func (s *Server) handleConsentInteraction(w http.ResponseWriter, r *http.Request) {
	r = withSpan(r)
	engine := s.cfg.interactionEngine()

	if r.Method == http.MethodGet {
		challenge := r.URL.Query().Get("consent_challenge")
		ctx, err := engine.ConsentContext(r.Context(), challenge)
		if err != nil {
			s.writeInteractionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ctx)
		return
	}

	var body struct {
		Challenge     string   `json:"consent_challenge"`
		Accept        bool     `json:"accept"`
		GrantedScopes []string `json:"granted_scopes"`
		Error         string   `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, withDescription(ErrInvalidRequest, "malformed decision body"))
		return
	}

	result, err := engine.HandleConsentDecision(r.Context(), body.Challenge, interaction.ConsentDecision{
		Accept:        body.Accept,
		GrantedScopes: body.GrantedScopes,
		Error:         body.Error,
	})
	if err != nil {
		s.writeInteractionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redirectToResponse{RedirectTo: result.RedirectTo})
}

// handleSelectAccountInteraction implements GET,POST /oauth/interaction/select_account.
func (s *Server) handleSelectAccountInteraction(w http.ResponseWriter, r *http.Request) {
	r = withSpan(r)
	engine := s.cfg.interactionEngine()

	if r.Method == http.MethodGet {
		challenge := r.URL.Query().Get("login_challenge")
		ctx, err := engine.LoginContext(r.Context(), challenge)
		if err != nil {
			s.writeInteractionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ctx)
		return
	}

	var body struct {
		Challenge string `json:"login_challenge"`
		LoginID   string `json:"login_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, withDescription(ErrInvalidRequest, "malformed decision body"))
		return
	}

	result, err := engine.HandleSelectAccountDecision(r.Context(), body.Challenge, interaction.SelectAccountDecision{
		LoginID: body.LoginID,
	})
	if err != nil {
		s.writeInteractionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redirectToResponse{RedirectTo: result.RedirectTo})
}

// handleCreateInteraction implements GET,POST /oauth/interaction/create.
func (s *Server) handleCreateInteraction(w http.ResponseWriter, r *http.Request) {
	r = withSpan(r)
	engine := s.cfg.interactionEngine()

	if r.Method == http.MethodGet {
		challenge := r.URL.Query().Get("login_challenge")
		ctx, err := engine.LoginContext(r.Context(), challenge)
		if err != nil {
			s.writeInteractionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ctx)
		return
	}

	var body struct {
		Challenge string `json:"login_challenge"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, withDescription(ErrInvalidRequest, "malformed decision body"))
		return
	}

	result, err := engine.HandleCreateDecision(r.Context(), body.Challenge)
	if err != nil {
		s.writeInteractionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redirectToResponse{RedirectTo: result.RedirectTo})
}

// handleLogoutInteraction implements GET,POST /oauth/interaction/logout.
func (s *Server) handleLogoutInteraction(w http.ResponseWriter, r *http.Request) {
	r = withSpan(r)
	engine := s.cfg.interactionEngine()

	if r.Method == http.MethodGet {
		challenge := r.URL.Query().Get("logout_challenge")
		ticket, err := s.cfg.Storage.GetLogoutTicket(r.Context(), challenge)
		if err != nil {
			s.writeError(w, withDescription(ErrInvalidRequest, "unknown or expired challenge"))
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Challenge string `json:"challenge"`
			ClientID  string `json:"client_id"`
		}{Challenge: challenge, ClientID: ticket.ClientID})
		return
	}

	var body struct {
		Challenge string `json:"logout_challenge"`
		Accept    bool   `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, withDescription(ErrInvalidRequest, "malformed decision body"))
		return
	}

	redirectTo, err := engine.HandleLogoutDecision(r.Context(), body.Challenge, interaction.LogoutDecision{Accept: body.Accept})
	if err != nil {
		s.writeInteractionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redirectToResponse{RedirectTo: redirectTo})
}
