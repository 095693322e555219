// Package server implements the HTTP surface of the authorization server:
// the /oauth/* endpoints, discovery, interaction callbacks, cookies, and
// error shaping described by spec §6.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/guaranijs/guarani/clientauth"
	"github.com/guaranijs/guarani/pkg/otel/traces"
	"github.com/guaranijs/guarani/storage"
)

const (
	sessionCookieName = "session"
	grantCookieName   = "grant"
)

// withSpan names the trace span already carried by the request's context
// after the request's method and path, via traces.InstrumentHandler; it
// does not start a new span.
func withSpan(r *http.Request) *http.Request {
	ctx, _ := traces.InstrumentHandler(r)
	return r.WithContext(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if oe, ok := err.(Error); ok {
		oe.WriteJSON(w)
		return
	}
	s.cfg.Logger.Error("unhandled server error", "err", err)
	ErrServerError.WriteJSON(w)
}

func setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// resolveClient authenticates the request's client against clientauth, then
// loads its storage record. Used by every endpoint that accepts client
// credentials (token, revoke, introspect, device authorization).
func (s *Server) resolveClient(r *http.Request) (storage.Client, error) {
	clientID := r.PostFormValue("client_id")
	if clientID == "" {
		if id, _, ok := r.BasicAuth(); ok {
			clientID = id
		}
	}
	if clientID == "" {
		return storage.Client{}, withDescription(ErrInvalidClient, "client_id is required")
	}

	client, err := s.cfg.Storage.GetClient(r.Context(), clientID)
	if err != nil {
		return storage.Client{}, withDescription(ErrInvalidClient, "unknown client")
	}

	opts := clientauth.Options{
		Audience: s.cfg.Issuer + "/oauth/token",
		JTIStore: s.cfg.Storage,
		Now:      s.cfg.Now(),
	}
	if _, err := s.clientAuth.Authenticate(r, client, opts); err != nil {
		return storage.Client{}, withDescription(ErrInvalidClient, err.Error())
	}
	return client, nil
}

func parseForm(r *http.Request) map[string][]string {
	_ = r.ParseForm()
	return map[string][]string(r.Form)
}
