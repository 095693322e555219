// Package idtoken signs and verifies the JOSE artifacts the engine issues and
// consumes: ID tokens, JWKS documents, and JWT client assertions.
package idtoken

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	jose "gopkg.in/square/go-jose.v2"

	"github.com/guaranijs/guarani/storage"
)

// Claims holds the fields of an ID token, per spec §4.7.
type Claims struct {
	Issuer          string   `json:"iss"`
	Subject         string   `json:"sub"`
	Audience        Audience `json:"aud"`
	Expiry          int64    `json:"exp"`
	IssuedAt        int64    `json:"iat"`
	AuthTime        int64    `json:"auth_time,omitempty"`
	Nonce           string   `json:"nonce,omitempty"`
	ACR             string   `json:"acr,omitempty"`
	AMR             []string `json:"amr,omitempty"`
	AuthorizingParty string  `json:"azp,omitempty"`
	AccessTokenHash string   `json:"at_hash,omitempty"`
	CodeHash        string   `json:"c_hash,omitempty"`

	Email             string   `json:"email,omitempty"`
	EmailVerified     *bool    `json:"email_verified,omitempty"`
	Groups            []string `json:"groups,omitempty"`
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
}

type Audience []string

func (a Audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

// Signer issues and verifies JOSE-signed artifacts on behalf of the engine's
// current and recently-rotated keys.
type Signer struct {
	keys storage.Keys
}

// GenerateRSAKeys mints a fresh 2048-bit RSA signing key, for deployments
// that don't bring their own key management and rotation (e.g. the built-in
// serve command). The returned Keys has no verification keys and a
// NextRotation far enough out that a standalone process can simply restart
// to rotate.
func GenerateRSAKeys() (storage.Keys, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return storage.Keys{}, fmt.Errorf("idtoken: generate signing key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return storage.Keys{}, fmt.Errorf("idtoken: marshal signing key: %w", err)
	}
	return storage.Keys{
		SigningKeyID:  storage.NewID(),
		SigningKeyPEM: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}),
		NextRotation:  time.Now().Add(30 * 24 * time.Hour),
	}, nil
}

// NewSigner builds a Signer over a snapshot of the engine's signing material.
func NewSigner(keys storage.Keys) (*Signer, error) {
	if len(keys.SigningKeyPEM) == 0 {
		return nil, errors.New("idtoken: no signing key configured")
	}
	return &Signer{keys: keys}, nil
}

// SignIDToken signs claims with the active signing key, using alg unless alg
// is "none", in which case the caller must have already confirmed the target
// client is explicitly allowed unsigned ID tokens (see Open Question (c) in
// DESIGN.md: "none" is never a registry-wide default).
func (s *Signer) SignIDToken(claims Claims, alg string) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("idtoken: marshal claims: %w", err)
	}
	return s.sign(payload, alg)
}

// SignRawClaims signs an arbitrary claim set, used by the JWT-secured
// authorization response mode (JARM) to sign the /authorize response
// parameters rather than a fixed ID token shape.
func (s *Signer) SignRawClaims(claims map[string]string, alg string) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("idtoken: marshal claims: %w", err)
	}
	return s.sign(payload, alg)
}

func (s *Signer) sign(payload []byte, alg string) (string, error) {
	if alg == "none" {
		return signNone(payload)
	}

	key, err := s.parseSigningKey()
	if err != nil {
		return "", err
	}

	sigAlg, err := signatureAlgorithmFor(key, alg)
	if err != nil {
		return "", err
	}

	signingKey := jose.SigningKey{Key: jose.JSONWebKey{Key: key, KeyID: s.keys.SigningKeyID, Algorithm: string(sigAlg)}, Algorithm: sigAlg}
	signer, err := jose.NewSigner(signingKey, &jose.SignerOptions{})
	if err != nil {
		return "", fmt.Errorf("idtoken: new signer: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("idtoken: sign payload: %w", err)
	}
	return jws.CompactSerialize()
}

func (s *Signer) parseSigningKey() (interface{}, error) {
	block, _ := pem.Decode(s.keys.SigningKeyPEM)
	if block == nil {
		return nil, errors.New("idtoken: invalid signing key PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("idtoken: parse signing key: %w", err)
	}
	return key, nil
}

// signatureAlgorithmFor picks the JOSE algorithm for key, constrained to the
// alg the client is registered for. RSA keys sign RS256, or RS384/RS512 when
// that is the requested alg; an ECDSA key's curve fixes its alg. A non-empty
// requested alg that key cannot produce is an error.
func signatureAlgorithmFor(key interface{}, requested string) (jose.SignatureAlgorithm, error) {
	var alg jose.SignatureAlgorithm
	switch k := key.(type) {
	case *rsa.PrivateKey:
		alg = jose.RS256
		if r := jose.SignatureAlgorithm(requested); r == jose.RS384 || r == jose.RS512 {
			alg = r
		}
	case *ecdsa.PrivateKey:
		switch k.Params() {
		case elliptic.P256().Params():
			alg = jose.ES256
		case elliptic.P384().Params():
			alg = jose.ES384
		case elliptic.P521().Params():
			alg = jose.ES512
		default:
			return "", errors.New("idtoken: unsupported ecdsa curve")
		}
	default:
		return "", fmt.Errorf("idtoken: unsupported signing key type %T", key)
	}
	if requested != "" && jose.SignatureAlgorithm(requested) != alg {
		return "", fmt.Errorf("idtoken: signing key cannot produce alg %q", requested)
	}
	return alg, nil
}

func signNone(payload []byte) (string, error) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	body := base64.RawURLEncoding.EncodeToString(payload)
	return header + "." + body + ".", nil
}

var hashForSigAlg = map[jose.SignatureAlgorithm]func() hash.Hash{
	jose.RS256: sha256.New,
	jose.RS384: sha512.New384,
	jose.RS512: sha512.New,
	jose.ES256: sha256.New,
	jose.ES384: sha512.New384,
	jose.ES512: sha512.New,
}

// HalfHash computes at_hash/c_hash: the base64url of the left half of the
// digest whose width matches alg, per spec §4.7.
func HalfHash(alg, value string) (string, error) {
	newHash, ok := hashForSigAlg[jose.SignatureAlgorithm(alg)]
	if !ok {
		return "", fmt.Errorf("idtoken: unsupported signature algorithm %q", alg)
	}
	h := newHash()
	if _, err := io.WriteString(h, value); err != nil {
		return "", fmt.Errorf("idtoken: computing hash: %w", err)
	}
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}

// JWKS renders the server's current and still-verifiable keys as a JSON Web
// Key Set document for the discovery jwks_uri.
func (s *Signer) JWKS() (jose.JSONWebKeySet, error) {
	set := jose.JSONWebKeySet{}

	key, err := s.parseSigningKey()
	if err != nil {
		return set, err
	}
	pub, err := publicKeyOf(key)
	if err != nil {
		return set, err
	}
	set.Keys = append(set.Keys, jose.JSONWebKey{Key: pub, KeyID: s.keys.SigningKeyID, Use: "sig"})

	for _, vk := range s.keys.VerificationKeys {
		block, _ := pem.Decode(vk.PublicPEM)
		if block == nil {
			continue
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			continue
		}
		set.Keys = append(set.Keys, jose.JSONWebKey{Key: pub, KeyID: vk.KeyID, Use: "sig"})
	}
	return set, nil
}

func publicKeyOf(key interface{}) (interface{}, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &k.PublicKey, nil
	default:
		return nil, fmt.Errorf("idtoken: unsupported key type %T", key)
	}
}

// VerifyClientAssertion verifies a client_secret_jwt or private_key_jwt
// assertion against key and returns its claims, for the clientauth package.
func VerifyClientAssertion(assertion string, key interface{}) (map[string]interface{}, error) {
	sig, err := jose.ParseSigned(assertion)
	if err != nil {
		return nil, fmt.Errorf("idtoken: parse assertion: %w", err)
	}
	payload, err := sig.Verify(key)
	if err != nil {
		return nil, fmt.Errorf("idtoken: verify assertion: %w", err)
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("idtoken: decode assertion claims: %w", err)
	}
	return claims, nil
}

// Expiry is a convenience for computing an ID token's exp/iat pair.
func Expiry(now time.Time, ttl time.Duration) (iat, exp int64) {
	return now.Unix(), now.Add(ttl).Unix()
}
