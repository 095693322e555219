// Package storage defines the entity model and persistence contract for the
// authorization server runtime. Concrete backends are an external collaborator:
// the engine only ever depends on the Storage interface below. See
// storage/memory for the reference implementation.
package storage

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"io"
	"strings"
	"time"
)

// Kubernetes-compatible naming constraints forced this alphabet on the teacher;
// kept here for storage-backend compatibility even though this engine ships no
// Kubernetes-backed store itself.
var idEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567")

const userCodeCharset = "BCDFGHJKLMNPQRSTVWXZ"

// NewID returns a random string suitable for use as an entity ID.
func NewID() string {
	return newSecureID(16)
}

// NewDeviceCode returns a 51-char cryptographically secure device code built
// from 32 random bytes.
func NewDeviceCode() string {
	return newSecureID(32)
}

// NewUserCode returns a short, human-typeable user code for the device flow.
func NewUserCode() string {
	buff := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, buff); err != nil {
		panic(err)
	}
	code := make([]byte, len(buff))
	for i, b := range buff {
		code[i] = userCodeCharset[int(b)%len(userCodeCharset)]
	}
	return string(code)
}

func newSecureID(n int) string {
	buff := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buff); err != nil {
		panic(err)
	}
	// Avoid an ID that begins with a digit and trim padding.
	return string(buff[0]%26+'a') + strings.TrimRight(idEncoding.EncodeToString(buff[1:]), "=")
}

// GCResult reports how many expired records were purged by GarbageCollect.
type GCResult struct {
	Grants              int64
	AuthorizationCodes  int64
	DeviceCodes         int64
	AccessTokens        int64
	RefreshTokens       int64
	Logins              int64
	ClientAssertionJTIs int64
}

// IsEmpty reports whether the garbage collection pass removed nothing.
func (g GCResult) IsEmpty() bool {
	return g.Grants == 0 && g.AuthorizationCodes == 0 && g.DeviceCodes == 0 &&
		g.AccessTokens == 0 && g.RefreshTokens == 0 && g.Logins == 0 && g.ClientAssertionJTIs == 0
}

// Storage is the persistence contract the engine depends on. Implementations
// must support atomic compare-and-swap style updates (via the Update* methods)
// and must standardize on UTC for all stored timestamps.
//
// Every method takes a context so a store backed by a network round trip can
// honor request cancellation.
type Storage interface {
	Close() error

	CreateClient(ctx context.Context, c Client) error
	CreateSession(ctx context.Context, s Session) error
	CreateLogin(ctx context.Context, l Login) error
	CreateConsent(ctx context.Context, c Consent) error
	CreateGrant(ctx context.Context, g Grant) error
	CreateAuthorizationCode(ctx context.Context, c AuthorizationCode) error
	CreateAccessToken(ctx context.Context, t AccessToken) error
	CreateRefreshToken(ctx context.Context, t RefreshToken) error
	CreateDeviceCode(ctx context.Context, d DeviceCode) error
	CreateLogoutTicket(ctx context.Context, l LogoutTicket) error
	// CreateClientAssertionJTI records a client_secret_jwt/private_key_jwt
	// assertion's jti as consumed, for replay prevention (spec §4.2). It
	// returns an Error with code ErrAlreadyExists if jti was already
	// recorded for clientID. expiresAt lets the store reclaim the record
	// once the assertion could no longer be re-verified anyway.
	CreateClientAssertionJTI(ctx context.Context, clientID, jti string, expiresAt time.Time) error

	GetClient(ctx context.Context, id string) (Client, error)
	GetSession(ctx context.Context, id string) (Session, error)
	GetLogin(ctx context.Context, id string) (Login, error)
	GetConsent(ctx context.Context, id string) (Consent, error)
	GetGrant(ctx context.Context, id string) (Grant, error)
	GetGrantByLoginChallenge(ctx context.Context, challenge string) (Grant, error)
	GetGrantByConsentChallenge(ctx context.Context, challenge string) (Grant, error)
	GetAuthorizationCode(ctx context.Context, code string) (AuthorizationCode, error)
	GetAccessToken(ctx context.Context, token string) (AccessToken, error)
	GetRefreshToken(ctx context.Context, token string) (RefreshToken, error)
	GetDeviceCodeByDeviceCode(ctx context.Context, deviceCode string) (DeviceCode, error)
	GetDeviceCodeByUserCode(ctx context.Context, userCode string) (DeviceCode, error)
	GetLogoutTicket(ctx context.Context, challenge string) (LogoutTicket, error)
	GetKeys(ctx context.Context) (Keys, error)

	ListConsents(ctx context.Context, userID, clientID string) ([]Consent, error)
	ListRefreshTokensByFamily(ctx context.Context, familyID string) ([]RefreshToken, error)
	ListAccessTokensByParent(ctx context.Context, parentType, parentID string) ([]AccessToken, error)

	DeleteGrant(ctx context.Context, id string) error
	DeleteAuthorizationCode(ctx context.Context, code string) error
	DeleteLogoutTicket(ctx context.Context, challenge string) error

	// UpdateX methods take an updater function and apply it within a single
	// atomic transaction; a store implementation is free to call the updater
	// more than once (e.g. on optimistic-concurrency retry), so updaters must
	// be pure functions of the old value.
	UpdateClient(ctx context.Context, id string, updater func(old Client) (Client, error)) error
	UpdateSession(ctx context.Context, id string, updater func(old Session) (Session, error)) error
	UpdateGrant(ctx context.Context, id string, updater func(old Grant) (Grant, error)) error
	UpdateAuthorizationCode(ctx context.Context, code string, updater func(old AuthorizationCode) (AuthorizationCode, error)) error
	UpdateAccessToken(ctx context.Context, token string, updater func(old AccessToken) (AccessToken, error)) error
	UpdateRefreshToken(ctx context.Context, token string, updater func(old RefreshToken) (RefreshToken, error)) error
	UpdateDeviceCode(ctx context.Context, deviceCode string, updater func(old DeviceCode) (DeviceCode, error)) error
	UpdateKeys(ctx context.Context, updater func(old Keys) (Keys, error)) error

	GarbageCollect(ctx context.Context, now time.Time) (GCResult, error)
}

// Client represents an OAuth2/OIDC relying party.
type Client struct {
	ID                        string
	Secret                    string
	SecretExpiresAt           time.Time // zero value means "never expires"
	RedirectURIs              []string
	GrantTypes                []string
	ResponseTypes             []string
	Scopes                    []string
	AuthenticationMethod      string // client_secret_basic, client_secret_post, none, client_secret_jwt, private_key_jwt
	SubjectType               string // public or pairwise
	SectorIdentifierURI       string
	PairwiseSalt              string
	IDTokenSignedResponseAlg  string
	UserinfoSignedResponseAlg string
	RequestObjectSigningAlg   string
	ApplicationType           string // web or native
	RequirePKCE               bool
	JWKS                      []byte // client's own public keys, for private_key_jwt
	TrustedPeers              []string
	Name                      string
	LogoURL                   string
}

// HasGrantType reports whether g is in the client's allowed grant types.
func (c Client) HasGrantType(g string) bool { return contains(c.GrantTypes, g) }

// HasResponseType reports whether r is in the client's allowed response types.
func (c Client) HasResponseType(r string) bool { return contains(c.ResponseTypes, r) }

// HasRedirectURI reports an exact, byte-for-byte match against a registered URI.
func (c Client) HasRedirectURI(uri string) bool { return contains(c.RedirectURIs, uri) }

// IsPublic reports whether the client has no usable secret, i.e. it cannot
// authenticate itself and must rely on PKCE.
func (c Client) IsPublic() bool { return c.Secret == "" }

// SecretExpired reports whether the client's secret is past its expiry.
func (c Client) SecretExpired(now time.Time) bool {
	return !c.SecretExpiresAt.IsZero() && now.After(c.SecretExpiresAt)
}

// TrustsPeer reports whether peerID is a client this client trusts.
func (c Client) TrustsPeer(peerID string) bool {
	return peerID == c.ID || contains(c.TrustedPeers, peerID)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Claims is the claim-producing surface the external user service exposes for
// a given user. It stands in for the "claim-producing callbacks" of the User
// entity (spec §3): the engine never stores user records, it only asks the
// user service for a Claims snapshot at the moments it needs one.
type Claims struct {
	UserID            string
	Username          string
	PreferredUsername string
	Email             string
	EmailVerified     bool
	Groups            []string
	Extra             map[string]interface{}
}

// Session is the cookie-bound browser session.
type Session struct {
	ID          string
	LoginIDs    []string // ordered stack of Login IDs, most recent last
	ActiveLogin string   // must be one of LoginIDs, or empty
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// Login records a single successful end-user authentication event.
// Immutable after creation; detaching a login from a session's ActiveLogin
// does not delete the Login record.
type Login struct {
	ID        string
	UserID    string
	AMR       []string
	ACR       string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the login is too old to satisfy a fresh-auth check.
func (l Login) Expired(now time.Time) bool { return now.After(l.ExpiresAt) }

// Consent is a durable grant of scopes by a user to a client.
type Consent struct {
	ID        string
	ClientID  string
	UserID    string
	Scopes    []string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the consent record must be re-obtained.
func (c Consent) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Covers reports whether the consent already covers every requested scope.
func (c Consent) Covers(requested []string) bool {
	for _, s := range requested {
		if !contains(c.Scopes, s) {
			return false
		}
	}
	return true
}

// AuthorizeParameters is the frozen, validated snapshot of an /authorize
// request, carried on the Grant across interaction round trips.
type AuthorizeParameters struct {
	ClientID            string
	RedirectURI         string
	ResponseType        []string
	ResponseMode        string
	Scopes              []string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              []string
	Display             string
	MaxAge              *int
	ACRValues           []string
	UILocales           []string
	LoginHint           string
	IDTokenHint         string
	Claims              string
}

// Interaction names an interaction step recorded against a Grant.
type Interaction string

const (
	InteractionLogin         Interaction = "login"
	InteractionConsent       Interaction = "consent"
	InteractionSelectAccount Interaction = "select_account"
	InteractionCreate        Interaction = "create"
)

// Grant is the in-progress authorization record spanning multiple HTTP round
// trips between /authorize and the interaction endpoints.
type Grant struct {
	ID               string
	LoginChallenge   string
	ConsentChallenge string
	Parameters       AuthorizeParameters
	Interactions     []Interaction
	ClientID         string
	SessionID        string
	LoginID          string
	ConsentID        string
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// Expired reports whether the grant has outlived its (short, ~5 minute) TTL.
func (g Grant) Expired(now time.Time) bool { return now.After(g.ExpiresAt) }

// HasInteraction reports whether the given interaction has already run.
func (g Grant) HasInteraction(i Interaction) bool {
	for _, done := range g.Interactions {
		if done == i {
			return true
		}
	}
	return false
}

// PKCE bundles the challenge and verification method attached to a code.
type PKCE struct {
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizationCode is a single-use credential minted by /authorize and
// redeemed at /token for the authorization_code grant.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	UserID      string
	RedirectURI string
	Scopes      []string
	Nonce       string
	State       string
	PKCE        PKCE
	ValidAfter  time.Time
	ExpiresAt   time.Time
	IsRevoked   bool
}

// Expired reports whether the code can no longer be redeemed.
func (a AuthorizationCode) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt) || now.Before(a.ValidAfter)
}

// AccessToken is a bearer credential accepted at resource servers.
type AccessToken struct {
	Token      string
	ClientID   string
	UserID     string // empty for client_credentials tokens
	Scopes     []string
	IssuedAt   time.Time
	ValidAfter time.Time
	ExpiresAt  time.Time
	IsRevoked  bool
	ParentType string // "code", "refresh_token" or "authorize"; empty if minted directly
	ParentID   string // the code, refresh token or (for "authorize") grant ID this access token descends from
}

// Active reports whether the token is currently usable.
func (a AccessToken) Active(now time.Time) bool {
	return !a.IsRevoked && !now.Before(a.ValidAfter) && now.Before(a.ExpiresAt)
}

// RefreshToken is a long-lived credential used to mint fresh access tokens.
type RefreshToken struct {
	Token       string
	FamilyID    string // shared by every token in a rotation chain
	ParentToken string // the token this one rotated from, empty for the first
	ClientID    string
	UserID      string
	Scopes      []string
	Nonce       string
	ValidAfter  time.Time
	ExpiresAt   time.Time
	IsRevoked   bool
}

// Active reports whether the refresh token is currently usable.
func (r RefreshToken) Active(now time.Time) bool {
	return !r.IsRevoked && !now.Before(r.ValidAfter) && now.Before(r.ExpiresAt)
}

// LogoutTicket is the Grant analogue for RP-initiated logout.
type LogoutTicket struct {
	Challenge             string
	SessionID             string
	ClientID              string
	PostLogoutRedirectURI string
	State                 string
	CreatedAt             time.Time
	ExpiresAt             time.Time
}

// DeviceCode pairs a device_code with its user-facing UserCode for RFC 8628.
type DeviceCode struct {
	DeviceCode   string
	UserCode     string
	ClientID     string
	Scopes       []string
	Interval     time.Duration
	LastPoll     time.Time
	ExpiresAt    time.Time
	AuthorizedBy string // user ID once the user has approved, empty until then
	Denied       bool
}

// Expired reports whether the device code can no longer be polled.
func (d DeviceCode) Expired(now time.Time) bool { return now.After(d.ExpiresAt) }

// Authorized reports whether the device code has been approved by a user.
func (d DeviceCode) Authorized() bool { return d.AuthorizedBy != "" }

// Keys holds the server's current and recently-rotated signing material.
type Keys struct {
	SigningKeyID     string
	SigningKeyPEM    []byte // PKCS#8 private key
	NextRotation     time.Time
	VerificationKeys []VerificationKey
}

// VerificationKey is a previously-current signing key kept around so tokens
// it signed remain verifiable until they naturally expire.
type VerificationKey struct {
	KeyID     string
	PublicPEM []byte
	ExpiresAt time.Time
}
