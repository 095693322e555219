// Package responsemode renders the /authorize endpoint's response across the
// query, fragment, form_post, and jwt response modes.
package responsemode

import (
	"fmt"
	"html/template"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/guaranijs/guarani/idtoken"
)

// Params are the name/value pairs to deliver back to the client: an
// authorization code and/or tokens on success, or an OAuth error on failure.
type Params map[string]string

// Renderer renders Params against a redirect_uri for one response mode.
type Renderer interface {
	Name() string
	// Render returns the Location header value (query/fragment) or writes an
	// HTML auto-submit form body (form_post), or a signed JWT response
	// (jwt). w is nil for modes that only ever redirect.
	Render(w io.Writer, redirectURI string, params Params) (location string, err error)
}

// Registry resolves response modes by name.
type Registry struct {
	renderers map[string]Renderer
}

// NewRegistry builds a registry. Construction fails on an empty list.
func NewRegistry(renderers ...Renderer) (*Registry, error) {
	if len(renderers) == 0 {
		return nil, fmt.Errorf("responsemode: registry requires at least one renderer")
	}
	m := make(map[string]Renderer, len(renderers))
	for _, r := range renderers {
		m[r.Name()] = r
	}
	return &Registry{renderers: m}, nil
}

// Lookup resolves a response mode by name.
func (reg *Registry) Lookup(name string) (Renderer, bool) {
	r, ok := reg.renderers[name]
	return r, ok
}

func sortedKeys(params Params) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Query appends params as the redirect_uri's query string (the default mode
// for the code response type).
type Query struct{}

func (Query) Name() string { return "query" }

func (Query) Render(w io.Writer, redirectURI string, params Params) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("responsemode: parse redirect_uri: %w", err)
	}
	q := u.Query()
	for _, k := range sortedKeys(params) {
		q.Set(k, params[k])
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fragment appends params as the redirect_uri's URL fragment (the default
// mode for response types carrying a token or id_token).
type Fragment struct{}

func (Fragment) Name() string { return "fragment" }

func (Fragment) Render(w io.Writer, redirectURI string, params Params) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("responsemode: parse redirect_uri: %w", err)
	}
	frag := url.Values{}
	for _, k := range sortedKeys(params) {
		frag.Set(k, params[k])
	}
	u.Fragment = ""
	return u.String() + "#" + frag.Encode(), nil
}

var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><title>Submitting...</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{range .Fields}}<input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{end}}<noscript><input type="submit" value="Continue"></noscript>
</form>
</body>
</html>
`))

type formPostField struct{ Name, Value string }

// FormPost renders an auto-submitting HTML form per OAuth 2.0 Form Post
// Response Mode.
type FormPost struct{}

func (FormPost) Name() string { return "form_post" }

func (FormPost) Render(w io.Writer, redirectURI string, params Params) (string, error) {
	if w == nil {
		return "", fmt.Errorf("responsemode: form_post requires a response writer")
	}
	fields := make([]formPostField, 0, len(params))
	for _, k := range sortedKeys(params) {
		fields = append(fields, formPostField{Name: k, Value: params[k]})
	}
	data := struct {
		Action string
		Fields []formPostField
	}{Action: redirectURI, Fields: fields}
	if err := formPostTemplate.Execute(w, data); err != nil {
		return "", fmt.Errorf("responsemode: render form_post: %w", err)
	}
	return "", nil
}

// JWT renders params as a signed JWT per OAuth 2.0 JWT Secured Authorization
// Response Mode (JARM), delivered as the "response" query parameter.
type JWT struct {
	Signer   *idtoken.Signer
	Issuer   string
	Audience string
	Alg      string
}

func (JWT) Name() string { return "jwt" }

func (j JWT) Render(w io.Writer, redirectURI string, params Params) (string, error) {
	payload := make(map[string]string, len(params)+2)
	for k, v := range params {
		payload[k] = v
	}
	payload["iss"] = j.Issuer
	payload["aud"] = j.Audience

	token, err := j.Signer.SignRawClaims(payload, j.Alg)
	if err != nil {
		return "", fmt.Errorf("responsemode: sign jwt response: %w", err)
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("responsemode: parse redirect_uri: %w", err)
	}
	q := u.Query()
	q.Set("response", token)
	if state, ok := params["state"]; ok {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ResponseModeFor resolves the implicit default response mode for a
// response_type per OAuth 2.0 Multiple Response Type Encoding Practices:
// "code" defaults to query, anything carrying a token or id_token defaults
// to fragment.
func ResponseModeFor(responseType string) string {
	if strings.Contains(responseType, "token") {
		return "fragment"
	}
	return "query"
}
