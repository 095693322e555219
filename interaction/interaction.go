// Package interaction implements the login/consent/select_account/create/
// logout state machine that resolves a pending Grant between /authorize
// round trips.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/guaranijs/guarani/scope"
	"github.com/guaranijs/guarani/storage"
)

// Errors returned to the caller (the server package), mapped onto the
// OAuth error codes named in spec §4.4.
var (
	ErrGrantNotFound      = errors.New("interaction: grant not found")
	ErrLoginNotInSession  = errors.New("interaction: login_id not present in session")
	ErrACRNotSatisfied    = errors.New("interaction: unmet_authentication_requirements")
)

// UserService allocates new users for the "create" interaction.
type UserService interface {
	CreateUser(ctx context.Context) (storage.Claims, error)
}

// Engine resolves interaction context/decision requests against storage.
type Engine struct {
	Store     storage.Storage
	Users     UserService
	Now       func() time.Time
	LoginTTL  time.Duration
	ErrorURL  string
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// LoginContext is the read-only snapshot handed to the login UI.
type LoginContext struct {
	Challenge string   `json:"challenge"`
	ClientID  string   `json:"client_id"`
	Scopes    []string `json:"scopes"`
}

// LoginContext returns the UI-facing snapshot for a pending login interaction.
func (e *Engine) LoginContext(ctx context.Context, challenge string) (LoginContext, error) {
	g, err := e.Store.GetGrantByLoginChallenge(ctx, challenge)
	if err != nil {
		return LoginContext{}, ErrGrantNotFound
	}
	return LoginContext{Challenge: challenge, ClientID: g.ClientID, Scopes: g.Parameters.Scopes}, nil
}

// LoginDecision is the UI's authenticated callback for the login interaction.
type LoginDecision struct {
	Accept bool
	UserID string
	AMR    []string
	ACR    string
	Error  string // populated when Accept is false
}

// LoginResult carries the redirect target back to the caller.
type LoginResult struct {
	RedirectTo string
}

// HandleLoginDecision implements spec §4.4's login accept/deny semantics.
func (e *Engine) HandleLoginDecision(ctx context.Context, challenge string, d LoginDecision) (LoginResult, error) {
	g, err := e.Store.GetGrantByLoginChallenge(ctx, challenge)
	if err != nil {
		return LoginResult{}, ErrGrantNotFound
	}

	if !d.Accept {
		if err := e.Store.DeleteGrant(ctx, g.ID); err != nil {
			return LoginResult{}, err
		}
		errCode := d.Error
		if errCode == "" {
			errCode = "access_denied"
		}
		return LoginResult{RedirectTo: errorRedirect(e.ErrorURL, errCode)}, nil
	}

	if d.ACR != "" && len(g.Parameters.ACRValues) > 0 && !containsString(g.Parameters.ACRValues, d.ACR) {
		if err := e.Store.DeleteGrant(ctx, g.ID); err != nil {
			return LoginResult{}, err
		}
		return LoginResult{RedirectTo: errorRedirect(e.ErrorURL, "unmet_authentication_requirements")}, nil
	}

	now := e.now()
	login := storage.Login{
		ID:        storage.NewID(),
		UserID:    d.UserID,
		AMR:       d.AMR,
		ACR:       d.ACR,
		CreatedAt: now,
		ExpiresAt: now.Add(e.LoginTTL),
	}
	if err := e.Store.CreateLogin(ctx, login); err != nil {
		return LoginResult{}, err
	}

	session, err := e.getOrCreateSession(ctx, g.SessionID, now)
	if err != nil {
		return LoginResult{}, err
	}
	session.LoginIDs = append(session.LoginIDs, login.ID)
	session.ActiveLogin = login.ID
	if err := e.Store.UpdateSession(ctx, session.ID, func(old storage.Session) (storage.Session, error) {
		old.LoginIDs = session.LoginIDs
		old.ActiveLogin = session.ActiveLogin
		return old, nil
	}); err != nil {
		return LoginResult{}, err
	}

	if err := e.Store.UpdateGrant(ctx, g.ID, func(old storage.Grant) (storage.Grant, error) {
		old.LoginID = login.ID
		old.SessionID = session.ID
		old.Interactions = append(old.Interactions, storage.InteractionLogin)
		return old, nil
	}); err != nil {
		return LoginResult{}, err
	}

	return LoginResult{RedirectTo: reauthorizeURL(g)}, nil
}

func (e *Engine) getOrCreateSession(ctx context.Context, sessionID string, now time.Time) (storage.Session, error) {
	if sessionID != "" {
		if s, err := e.Store.GetSession(ctx, sessionID); err == nil {
			return s, nil
		}
	}
	s := storage.Session{ID: storage.NewID(), CreatedAt: now, ExpiresAt: now.Add(30 * 24 * time.Hour)}
	if err := e.Store.CreateSession(ctx, s); err != nil {
		return storage.Session{}, err
	}
	return s, nil
}

// ConsentContext is the read-only snapshot handed to the consent UI.
type ConsentContext struct {
	Challenge      string   `json:"challenge"`
	ClientID       string   `json:"client_id"`
	RequestedScope []string `json:"requested_scope"`
}

// ConsentContext returns the UI-facing snapshot for a pending consent interaction.
func (e *Engine) ConsentContext(ctx context.Context, challenge string) (ConsentContext, error) {
	g, err := e.Store.GetGrantByConsentChallenge(ctx, challenge)
	if err != nil {
		return ConsentContext{}, ErrGrantNotFound
	}
	return ConsentContext{Challenge: challenge, ClientID: g.ClientID, RequestedScope: g.Parameters.Scopes}, nil
}

// ConsentDecision is the UI's authenticated callback for the consent interaction.
type ConsentDecision struct {
	Accept        bool
	GrantedScopes []string
	Error         string
}

// ConsentResult carries the redirect target back to the caller.
type ConsentResult struct {
	RedirectTo string
}

// HandleConsentDecision implements spec §4.4's consent accept/deny semantics.
func (e *Engine) HandleConsentDecision(ctx context.Context, challenge string, d ConsentDecision) (ConsentResult, error) {
	g, err := e.Store.GetGrantByConsentChallenge(ctx, challenge)
	if err != nil {
		return ConsentResult{}, ErrGrantNotFound
	}

	if !d.Accept {
		if err := e.Store.DeleteGrant(ctx, g.ID); err != nil {
			return ConsentResult{}, err
		}
		errCode := d.Error
		if errCode == "" {
			errCode = "access_denied"
		}
		return ConsentResult{RedirectTo: errorRedirect(e.ErrorURL, errCode)}, nil
	}

	if !scope.Scopes(g.Parameters.Scopes).Contains(d.GrantedScopes) {
		return ConsentResult{}, fmt.Errorf("interaction: granted_scopes must be a subset of requested_scope")
	}

	login, err := e.Store.GetLogin(ctx, g.LoginID)
	if err != nil {
		return ConsentResult{}, err
	}

	now := e.now()
	consent := storage.Consent{
		ID:        storage.NewID(),
		ClientID:  g.ClientID,
		UserID:    login.UserID,
		Scopes:    d.GrantedScopes,
		CreatedAt: now,
		ExpiresAt: now.Add(365 * 24 * time.Hour),
	}
	if err := e.Store.CreateConsent(ctx, consent); err != nil {
		return ConsentResult{}, err
	}

	if err := e.Store.UpdateGrant(ctx, g.ID, func(old storage.Grant) (storage.Grant, error) {
		old.ConsentID = consent.ID
		old.Interactions = append(old.Interactions, storage.InteractionConsent)
		return old, nil
	}); err != nil {
		return ConsentResult{}, err
	}

	return ConsentResult{RedirectTo: reauthorizeURL(g)}, nil
}

// SelectAccountDecision is the UI's callback for switching the session's
// active login among those already on its stack.
type SelectAccountDecision struct {
	LoginID string
}

// HandleSelectAccountDecision implements spec §4.4's select_account semantics.
func (e *Engine) HandleSelectAccountDecision(ctx context.Context, challenge string, d SelectAccountDecision) (LoginResult, error) {
	g, err := e.Store.GetGrantByLoginChallenge(ctx, challenge)
	if err != nil {
		return LoginResult{}, ErrGrantNotFound
	}

	session, err := e.Store.GetSession(ctx, g.SessionID)
	if err != nil {
		return LoginResult{}, err
	}
	if !containsString(session.LoginIDs, d.LoginID) {
		return LoginResult{}, ErrLoginNotInSession
	}

	if err := e.Store.UpdateSession(ctx, session.ID, func(old storage.Session) (storage.Session, error) {
		old.ActiveLogin = d.LoginID
		return old, nil
	}); err != nil {
		return LoginResult{}, err
	}

	if err := e.Store.UpdateGrant(ctx, g.ID, func(old storage.Grant) (storage.Grant, error) {
		old.LoginID = d.LoginID
		old.Interactions = append(old.Interactions, storage.InteractionSelectAccount)
		return old, nil
	}); err != nil {
		return LoginResult{}, err
	}

	return LoginResult{RedirectTo: reauthorizeURL(g)}, nil
}

// HandleCreateDecision implements spec §4.4's create semantics: allocate a
// new user, record a Login for them, and reenter /authorize.
func (e *Engine) HandleCreateDecision(ctx context.Context, challenge string) (LoginResult, error) {
	g, err := e.Store.GetGrantByLoginChallenge(ctx, challenge)
	if err != nil {
		return LoginResult{}, ErrGrantNotFound
	}

	claims, err := e.Users.CreateUser(ctx)
	if err != nil {
		return LoginResult{}, err
	}

	now := e.now()
	login := storage.Login{ID: storage.NewID(), UserID: claims.UserID, CreatedAt: now, ExpiresAt: now.Add(e.LoginTTL)}
	if err := e.Store.CreateLogin(ctx, login); err != nil {
		return LoginResult{}, err
	}

	session, err := e.getOrCreateSession(ctx, g.SessionID, now)
	if err != nil {
		return LoginResult{}, err
	}
	session.LoginIDs = append(session.LoginIDs, login.ID)
	session.ActiveLogin = login.ID
	if err := e.Store.UpdateSession(ctx, session.ID, func(old storage.Session) (storage.Session, error) {
		old.LoginIDs = session.LoginIDs
		old.ActiveLogin = session.ActiveLogin
		return old, nil
	}); err != nil {
		return LoginResult{}, err
	}

	if err := e.Store.UpdateGrant(ctx, g.ID, func(old storage.Grant) (storage.Grant, error) {
		old.LoginID = login.ID
		old.SessionID = session.ID
		old.Interactions = append(old.Interactions, storage.InteractionCreate)
		return old, nil
	}); err != nil {
		return LoginResult{}, err
	}

	return LoginResult{RedirectTo: reauthorizeURL(g)}, nil
}

// LogoutDecision is the UI's callback for RP-initiated logout.
type LogoutDecision struct {
	Accept bool
}

// HandleLogoutDecision clears the session on accept and returns the
// configured post_logout_redirect_uri, per spec §6's logout endpoint.
func (e *Engine) HandleLogoutDecision(ctx context.Context, challenge string, d LogoutDecision) (string, error) {
	ticket, err := e.Store.GetLogoutTicket(ctx, challenge)
	if err != nil {
		return "", ErrGrantNotFound
	}
	if !d.Accept {
		return errorRedirect(e.ErrorURL, "access_denied"), nil
	}

	if err := e.Store.UpdateSession(ctx, ticket.SessionID, func(old storage.Session) (storage.Session, error) {
		old.LoginIDs = nil
		old.ActiveLogin = ""
		return old, nil
	}); err != nil {
		return "", err
	}
	if err := e.Store.DeleteLogoutTicket(ctx, challenge); err != nil {
		return "", err
	}

	redirect := ticket.PostLogoutRedirectURI
	if redirect == "" {
		return "", nil
	}
	if ticket.State != "" {
		u, err := url.Parse(redirect)
		if err == nil {
			q := u.Query()
			q.Set("state", ticket.State)
			u.RawQuery = q.Encode()
			redirect = u.String()
		}
	}
	return redirect, nil
}

func reauthorizeURL(g storage.Grant) string {
	return fmt.Sprintf("/oauth/authorize?grant_id=%s", url.QueryEscape(g.ID))
}

func errorRedirect(errorURL, code string) string {
	u, err := url.Parse(errorURL)
	if err != nil {
		return errorURL
	}
	q := u.Query()
	q.Set("error", code)
	u.RawQuery = q.Encode()
	return u.String()
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
