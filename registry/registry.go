// Package registry composes the engine's strategy families — grant types,
// response types, response modes, PKCE methods, display values, prompts, and
// ACRs — into name-resolved lookup tables fixed once at bootstrap. None of
// these registries use reflection or decorators: every entry is a plain
// value registered by name, resolved with a single map lookup.
package registry

import (
	"fmt"
	"sort"
)

// closedSet is a name -> allowed membership table validated once at
// construction, generalized from the teacher's allSupportedGrants/
// supportedRes construction-time allowlist checks.
type closedSet struct {
	kind string
	all  map[string]bool
}

func newClosedSet(kind string, known ...string) closedSet {
	all := make(map[string]bool, len(known))
	for _, k := range known {
		all[k] = true
	}
	return closedSet{kind: kind, all: all}
}

// resolve validates requested against the closed set and returns the sorted,
// deduplicated subset; requesting an unknown name fails construction
// outright, mirroring the teacher's "unsupported response_type" error.
func (c closedSet) resolve(requested []string) ([]string, error) {
	seen := make(map[string]bool, len(requested))
	var out []string
	for _, r := range requested {
		if !c.all[r] {
			return nil, fmt.Errorf("registry: unsupported %s %q", c.kind, r)
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}

// Known grant type names.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// Known response type names.
const (
	ResponseCode           = "code"
	ResponseIDToken        = "id_token"
	ResponseToken          = "token"
	ResponseCodeIDToken    = "code id_token"
	ResponseCodeToken      = "code token"
	ResponseIDTokenToken   = "id_token token"
	ResponseCodeIDTokenTok = "code id_token token"
)

// Known response mode names.
const (
	ModeQuery    = "query"
	ModeFragment = "fragment"
	ModeFormPost = "form_post"
	ModeJWT      = "jwt"
)

// Known display values (OpenID Connect Core §3.1.2.1).
const (
	DisplayPage  = "page"
	DisplayPopup = "popup"
	DisplayTouch = "touch"
	DisplayWAP   = "wap"
)

// Known prompt values.
const (
	PromptNone          = "none"
	PromptLogin         = "login"
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"
)

var (
	allGrants    = newClosedSet("grant type", GrantAuthorizationCode, GrantRefreshToken, GrantClientCredentials, GrantPassword, GrantDeviceCode, GrantJWTBearer)
	allResponses = newClosedSet("response type", ResponseCode, ResponseIDToken, ResponseToken, ResponseCodeIDToken, ResponseCodeToken, ResponseIDTokenToken, ResponseCodeIDTokenTok)
	allModes     = newClosedSet("response mode", ModeQuery, ModeFragment, ModeFormPost, ModeJWT)
	allDisplay   = newClosedSet("display value", DisplayPage, DisplayPopup, DisplayTouch, DisplayWAP)
	allPrompts   = newClosedSet("prompt value", PromptNone, PromptLogin, PromptConsent, PromptSelectAccount)
)

// Registry is the server's fixed, bootstrap-resolved set of enabled protocol
// strategies. Zero value is not usable; build one with New.
type Registry struct {
	GrantTypes     []string
	ResponseTypes  []string
	ResponseModes  []string
	Display        []string
	Prompts        []string
	ACRValues      []string
	PKCEMethods    []string
	ClientAuthMethods []string
}

// Config lists the requested members of each strategy family. Any field left
// empty falls back to this package's documented default composition.
type Config struct {
	GrantTypes        []string
	ResponseTypes     []string
	ResponseModes     []string
	Display           []string
	Prompts           []string
	ACRValues         []string
	PKCEMethods       []string
	ClientAuthMethods []string
}

var defaultClientAuthMethods = []string{"client_secret_basic", "client_secret_post", "none", "client_secret_jwt", "private_key_jwt"}

// New validates cfg against the closed allowlists above and returns the
// resolved Registry. Construction fails if, after resolving, the server
// would have zero grant types AND zero response types — a server that can
// neither issue authorization requests nor redeem tokens is misconfigured.
func New(cfg Config) (*Registry, error) {
	grants, err := allGrants.resolve(orDefault(cfg.GrantTypes, GrantAuthorizationCode, GrantRefreshToken))
	if err != nil {
		return nil, err
	}
	responses, err := allResponses.resolve(orDefault(cfg.ResponseTypes, ResponseCode))
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 && len(responses) == 0 {
		return nil, fmt.Errorf("registry: server configured with no grant types and no response types")
	}

	modes, err := allModes.resolve(orDefault(cfg.ResponseModes, ModeQuery, ModeFragment))
	if err != nil {
		return nil, err
	}
	display, err := allDisplay.resolve(orDefault(cfg.Display, DisplayPage))
	if err != nil {
		return nil, err
	}
	prompts, err := allPrompts.resolve(orDefault(cfg.Prompts, PromptLogin, PromptConsent, PromptSelectAccount, PromptNone))
	if err != nil {
		return nil, err
	}

	acr := dedupSorted(cfg.ACRValues)
	pkce := dedupSorted(orDefault(cfg.PKCEMethods, "S256"))
	clientAuth := dedupSorted(orDefault(cfg.ClientAuthMethods, defaultClientAuthMethods...))

	return &Registry{
		GrantTypes:        grants,
		ResponseTypes:     responses,
		ResponseModes:     modes,
		Display:           display,
		Prompts:           prompts,
		ACRValues:         acr,
		PKCEMethods:       pkce,
		ClientAuthMethods: clientAuth,
	}, nil
}

func orDefault(requested []string, fallback ...string) []string {
	if len(requested) > 0 {
		return requested
	}
	return fallback
}

func dedupSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// HasGrantType reports whether g is enabled server-wide.
func (r *Registry) HasGrantType(g string) bool { return contains(r.GrantTypes, g) }

// HasResponseType reports whether rt is enabled server-wide.
func (r *Registry) HasResponseType(rt string) bool { return contains(r.ResponseTypes, rt) }

// HasResponseMode reports whether m is enabled server-wide.
func (r *Registry) HasResponseMode(m string) bool { return contains(r.ResponseModes, m) }

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
