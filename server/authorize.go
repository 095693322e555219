package server

import (
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guaranijs/guarani/grant"
	"github.com/guaranijs/guarani/responsemode"
	"github.com/guaranijs/guarani/scope"
	"github.com/guaranijs/guarani/storage"
)

// handleAuthorize implements GET,POST /oauth/authorize per spec §4.3's
// Grant state machine algorithm.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	r = withSpan(r)
	_ = r.ParseForm()
	q := r.Form
	now := s.cfg.Now()

	// A redirect_to from an interaction decision carries only grant_id
	// (interaction.reauthorizeURL): resume that grant from storage instead
	// of treating this as a fresh authorization request with an absent
	// client_id.
	if grantID := q.Get("grant_id"); grantID != "" {
		s.resumeAuthorize(w, r, grantID, now)
		return
	}

	clientID := q.Get("client_id")
	if clientID == "" {
		s.renderUnredirectableError(w, http.StatusBadRequest, "client_id is required")
		return
	}
	client, err := s.cfg.Storage.GetClient(r.Context(), clientID)
	if err != nil {
		s.renderUnredirectableError(w, http.StatusBadRequest, "unknown client")
		return
	}

	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" || !client.HasRedirectURI(redirectURI) {
		s.renderUnredirectableError(w, http.StatusBadRequest, "redirect_uri is not registered for this client")
		return
	}

	responseType := canonicalizeResponseType(q.Get("response_type"))
	state := q.Get("state")
	responseMode := q.Get("response_mode")
	if responseMode == "" {
		responseMode = responsemode.ResponseModeFor(responseType)
	}
	renderer, ok := s.responseMode.Lookup(responseMode)
	if !ok {
		s.renderUnredirectableError(w, http.StatusBadRequest, "unsupported response_mode")
		return
	}

	fail := func(protoErr Error) {
		loc, rerr := renderer.Render(w, redirectURI, withDescription(protoErr, "").withState(state).Params())
		if rerr != nil {
			s.renderUnredirectableError(w, http.StatusInternalServerError, rerr.Error())
			return
		}
		if loc != "" {
			http.Redirect(w, r, loc, http.StatusSeeOther)
		}
	}

	if !s.registry.HasResponseType(responseType) || !client.HasResponseType(responseType) {
		fail(ErrUnsupportedResponse)
		return
	}

	prompt := strings.Fields(q.Get("prompt"))
	if containsString(prompt, "none") && len(prompt) > 1 {
		fail(ErrInvalidRequest)
		return
	}

	requested := scope.Parse(q.Get("scope"))
	grantedScopes, err := scope.Resolve(requested, client.Scopes, scope.Strict)
	if err != nil {
		fail(ErrInvalidScope)
		return
	}

	if client.IsPublic() || client.RequirePKCE {
		if q.Get("code_challenge") == "" {
			fail(ErrInvalidRequest)
			return
		}
	}
	challengeMethod := q.Get("code_challenge_method")
	if challengeMethod == "" {
		challengeMethod = "S256"
	}
	if _, ok := s.pkce.Lookup(challengeMethod); q.Get("code_challenge") != "" && !ok {
		fail(ErrInvalidRequest)
		return
	}

	var maxAge *int
	if v := q.Get("max_age"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			maxAge = &n
		}
	}

	params := storage.AuthorizeParameters{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		ResponseType:        strings.Fields(responseType),
		ResponseMode:        responseMode,
		Scopes:              grantedScopes,
		State:               state,
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: challengeMethod,
		Prompt:              prompt,
		Display:             q.Get("display"),
		MaxAge:              maxAge,
		ACRValues:           strings.Fields(q.Get("acr_values")),
		UILocales:           strings.Fields(q.Get("ui_locales")),
		LoginHint:           q.Get("login_hint"),
		IDTokenHint:         q.Get("id_token_hint"),
		Claims:              q.Get("claims"),
	}

	sessionID := cookieValue(r, sessionCookieName)
	g := storage.Grant{
		ID:               storage.NewID(),
		LoginChallenge:   storage.NewID(),
		ConsentChallenge: storage.NewID(),
		Parameters:       params,
		ClientID:         clientID,
		SessionID:        sessionID,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.cfg.GrantTTL),
	}
	if err := s.cfg.Storage.CreateGrant(r.Context(), g); err != nil {
		fail(withDescription(ErrServerError, err.Error()))
		return
	}
	setCookie(w, grantCookieName, g.ID, s.cfg.GrantTTL)

	s.continueAuthorize(w, r, client, g, renderer, prompt, now)
}

// resumeAuthorize implements the grant_id resume path: every interaction
// decision handler's redirect_to carries only grant_id (see
// interaction.reauthorizeURL), so client, redirect_uri, and every other
// /authorize parameter must come back from the stored Grant rather than
// from this request's (absent) query string.
func (s *Server) resumeAuthorize(w http.ResponseWriter, r *http.Request, grantID string, now time.Time) {
	g, err := s.cfg.Storage.GetGrant(r.Context(), grantID)
	if err != nil {
		s.renderUnredirectableError(w, http.StatusBadRequest, "unknown or expired grant")
		return
	}
	if g.Expired(now) {
		_ = s.cfg.Storage.DeleteGrant(r.Context(), g.ID)
		s.renderUnredirectableError(w, http.StatusBadRequest, "expired grant")
		return
	}
	client, err := s.cfg.Storage.GetClient(r.Context(), g.ClientID)
	if err != nil {
		s.renderUnredirectableError(w, http.StatusBadRequest, "unknown client")
		return
	}
	renderer, ok := s.responseMode.Lookup(g.Parameters.ResponseMode)
	if !ok {
		s.renderUnredirectableError(w, http.StatusInternalServerError, "unsupported response_mode")
		return
	}

	s.continueAuthorize(w, r, client, g, renderer, g.Parameters.Prompt, now)
}

// continueAuthorize resolves the grant's pending login/consent interactions
// (spec §4.3 step 4) and either redirects to an interaction URL or completes
// the authorization response. Shared by the fresh-request path and the
// grant_id resume path, so every fail() here renders against the grant's own
// stored redirect_uri/state, not the current request's query string.
func (s *Server) continueAuthorize(w http.ResponseWriter, r *http.Request, client storage.Client, g storage.Grant, renderer responsemode.Renderer, prompt []string, now time.Time) {
	fail := func(protoErr Error) {
		loc, rerr := renderer.Render(w, g.Parameters.RedirectURI, withDescription(protoErr, "").withState(g.Parameters.State).Params())
		if rerr != nil {
			s.renderUnredirectableError(w, http.StatusInternalServerError, rerr.Error())
			return
		}
		if loc != "" {
			http.Redirect(w, r, loc, http.StatusSeeOther)
		}
	}

	needsLogin, needsConsent, err := s.pendingInteractions(r, client, g, now)
	if err != nil {
		fail(err.(Error))
		return
	}

	if needsLogin {
		if containsString(prompt, "none") {
			fail(ErrLoginRequired)
			return
		}
		http.Redirect(w, r, appendChallenge(s.cfg.UserInteraction.LoginURL, "login_challenge", g.LoginChallenge), http.StatusSeeOther)
		return
	}
	if needsConsent {
		if containsString(prompt, "none") {
			fail(ErrConsentRequired)
			return
		}
		http.Redirect(w, r, appendChallenge(s.cfg.UserInteraction.ConsentURL, "consent_challenge", g.ConsentChallenge), http.StatusSeeOther)
		return
	}

	s.completeAuthorize(w, r, client, g, renderer)
}

// pendingInteractions implements spec §4.3 step 4's interaction resolution.
func (s *Server) pendingInteractions(r *http.Request, client storage.Client, g storage.Grant, now time.Time) (needsLogin, needsConsent bool, err error) {
	if g.LoginID == "" {
		return true, false, nil
	}
	login, lerr := s.cfg.Storage.GetLogin(r.Context(), g.LoginID)
	if lerr != nil || login.Expired(now) {
		return true, false, nil
	}
	if g.Parameters.MaxAge != nil {
		if now.Sub(login.CreatedAt) > time.Duration(*g.Parameters.MaxAge)*time.Second {
			return true, false, nil
		}
	}

	if g.ConsentID != "" {
		return false, false, nil
	}
	consents, cerr := s.cfg.Storage.ListConsents(r.Context(), login.UserID, client.ID)
	if cerr == nil {
		for _, c := range consents {
			if !c.Expired(now) && c.Covers(g.Parameters.Scopes) {
				return false, false, nil
			}
		}
	}
	return false, true, nil
}

// completeAuthorize mints whatever the grant's response_type calls for — an
// authorization code, an access token, an ID token, or any combination for
// the hybrid flows — and renders them back via renderer (spec §4.3 step 5,
// §4.7's at_hash/c_hash rule for the hybrid response types).
func (s *Server) completeAuthorize(w http.ResponseWriter, r *http.Request, client storage.Client, g storage.Grant, renderer responsemode.Renderer) {
	now := s.cfg.Now()
	login, err := s.cfg.Storage.GetLogin(r.Context(), g.LoginID)
	if err != nil {
		s.renderUnredirectableError(w, http.StatusInternalServerError, "login record missing")
		return
	}

	params := map[string]string{}
	if g.Parameters.State != "" {
		params["state"] = g.Parameters.State
	}

	responseTypes := g.Parameters.ResponseType
	deps := s.grantDeps()

	var code storage.AuthorizationCode
	if containsString(responseTypes, "code") {
		method := g.Parameters.CodeChallengeMethod
		code = storage.AuthorizationCode{
			Code:        storage.NewID(),
			ClientID:    client.ID,
			UserID:      login.UserID,
			RedirectURI: g.Parameters.RedirectURI,
			Scopes:      g.Parameters.Scopes,
			Nonce:       g.Parameters.Nonce,
			State:       g.Parameters.State,
			PKCE:        storage.PKCE{CodeChallenge: g.Parameters.CodeChallenge, CodeChallengeMethod: method},
			ValidAfter:  now,
			ExpiresAt:   now.Add(s.cfg.AuthorizationCodeTTL),
		}
		if err := s.cfg.Storage.CreateAuthorizationCode(r.Context(), code); err != nil {
			s.renderUnredirectableError(w, http.StatusInternalServerError, err.Error())
			return
		}
		params["code"] = code.Code
	}

	var accessToken string
	if containsString(responseTypes, "token") {
		tok, err := grant.MintAccessToken(r.Context(), deps, client, login.UserID, g.Parameters.Scopes, "authorize", g.ID)
		if err != nil {
			s.renderUnredirectableError(w, http.StatusInternalServerError, err.Error())
			return
		}
		accessToken = tok.Token
		params["access_token"] = tok.Token
		params["token_type"] = "Bearer"
		params["expires_in"] = strconv.FormatInt(int64(s.cfg.AccessTokenTTL.Seconds()), 10)
	}

	if containsString(responseTypes, "id_token") {
		idToken, err := grant.MintIDToken(r.Context(), deps, client, login.UserID, g.Parameters.Scopes, g.Parameters.Nonce, accessToken, code.Code)
		if err != nil {
			s.renderUnredirectableError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if idToken != "" {
			params["id_token"] = idToken
		}
	}

	if err := s.cfg.Storage.DeleteGrant(r.Context(), g.ID); err != nil {
		s.cfg.Logger.Error("failed to delete completed grant", "err", err)
	}
	clearCookie(w, grantCookieName)

	loc, err := renderer.Render(w, g.Parameters.RedirectURI, params)
	if err != nil {
		s.renderUnredirectableError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if loc != "" {
		http.Redirect(w, r, loc, http.StatusSeeOther)
	}
}

// canonicalizeResponseType normalizes a space-separated response_type value
// into the registry's canonical, alphabetically-sorted form (e.g. "token
// code" and "code token" both resolve to "code token"), so lookups against
// registry.HasResponseType/client.HasResponseType don't depend on the
// order the client listed its response types in.
func canonicalizeResponseType(responseType string) string {
	fields := strings.Fields(responseType)
	sort.Strings(fields)
	return strings.Join(fields, " ")
}

func appendChallenge(base, key, value string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set(key, value)
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

func (e Error) withState(state string) Error {
	e.State = state
	return e
}

// renderUnredirectableError handles spec §4.3 step 1's single non-redirect
// error case: an invalid client_id or redirect_uri.
func (s *Server) renderUnredirectableError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = errorPageTemplate.Execute(w, errorPageData{Message: message})
}
