package server

import (
	"net/http"

	"github.com/guaranijs/guarani/scope"
	"github.com/guaranijs/guarani/storage"
)

// handleRevoke implements POST /oauth/revoke (RFC 7009).
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	r = withSpan(r)
	client, err := s.resolveClient(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	form := parseForm(r)
	token := formValue(form, "token")
	if token == "" {
		s.writeError(w, withDescription(ErrInvalidRequest, "token is required"))
		return
	}
	hint := formValue(form, "token_type_hint")

	ctx := r.Context()
	if hint != "refresh_token" {
		if at, aerr := s.cfg.Storage.GetAccessToken(ctx, token); aerr == nil {
			if at.ClientID != client.ID {
				s.writeError(w, withDescription(ErrUnauthorizedClient, "token belongs to another client"))
				return
			}
			_ = s.cfg.Storage.UpdateAccessToken(ctx, token, func(old storage.AccessToken) (storage.AccessToken, error) {
				old.IsRevoked = true
				return old, nil
			})
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	if rt, rerr := s.cfg.Storage.GetRefreshToken(ctx, token); rerr == nil {
		if rt.ClientID != client.ID {
			s.writeError(w, withDescription(ErrUnauthorizedClient, "token belongs to another client"))
			return
		}
		_ = s.cfg.Storage.UpdateRefreshToken(ctx, token, func(old storage.RefreshToken) (storage.RefreshToken, error) {
			old.IsRevoked = true
			return old, nil
		})
		if !s.cfg.DisableAccessTokenRevocation {
			tokens, terr := s.cfg.Storage.ListAccessTokensByParent(ctx, "refresh_token", token)
			if terr == nil {
				for _, t := range tokens {
					_ = s.cfg.Storage.UpdateAccessToken(ctx, t.Token, func(old storage.AccessToken) (storage.AccessToken, error) {
						old.IsRevoked = true
						return old, nil
					})
				}
			}
		}
	}

	// RFC 7009 §2.2: always 200, even if the token was never found.
	w.WriteHeader(http.StatusOK)
}

type introspectionResponse struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Username  string   `json:"username,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	Exp       int64    `json:"exp,omitempty"`
	Iat       int64    `json:"iat,omitempty"`
	Nbf       int64    `json:"nbf,omitempty"`
	Sub       string   `json:"sub,omitempty"`
	Aud       []string `json:"aud,omitempty"`
	Iss       string   `json:"iss,omitempty"`
	JTI       string   `json:"jti,omitempty"`
}

// handleIntrospect implements POST /oauth/introspect (RFC 7662).
func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	r = withSpan(r)
	client, err := s.resolveClient(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	form := parseForm(r)
	token := formValue(form, "token")
	hint := formValue(form, "token_type_hint")
	ctx := r.Context()
	now := s.cfg.Now()

	if hint != "refresh_token" {
		if at, aerr := s.cfg.Storage.GetAccessToken(ctx, token); aerr == nil {
			if at.ClientID == client.ID && at.Active(now) {
				writeJSON(w, http.StatusOK, introspectionResponse{
					Active: true, Scope: scope.Scopes(at.Scopes).String(), ClientID: at.ClientID,
					TokenType: "access_token", Exp: at.ExpiresAt.Unix(), Iat: at.IssuedAt.Unix(),
					Nbf: at.ValidAfter.Unix(), Sub: at.UserID, Iss: s.cfg.Issuer, JTI: at.Token,
				})
				return
			}
			writeJSON(w, http.StatusOK, introspectionResponse{Active: false})
			return
		}
	}

	if s.cfg.EnableRefreshTokenIntrospection {
		if rt, rerr := s.cfg.Storage.GetRefreshToken(ctx, token); rerr == nil {
			if rt.ClientID == client.ID && rt.Active(now) {
				writeJSON(w, http.StatusOK, introspectionResponse{
					Active: true, Scope: scope.Scopes(rt.Scopes).String(), ClientID: rt.ClientID,
					TokenType: "refresh_token", Exp: rt.ExpiresAt.Unix(), Nbf: rt.ValidAfter.Unix(),
					Sub: rt.UserID, Iss: s.cfg.Issuer, JTI: rt.Token,
				})
				return
			}
		}
	}

	writeJSON(w, http.StatusOK, introspectionResponse{Active: false})
}
