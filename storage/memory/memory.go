// Package memory provides an in-memory implementation of the storage
// interface, used as the bundled reference store and by the conformance
// test suite in storage/storagetest.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/guaranijs/guarani/storage"
)

var _ storage.Storage = (*store)(nil)

// New returns an in-memory Storage.
func New() storage.Storage {
	return &store{
		clients:       make(map[string]storage.Client),
		sessions:      make(map[string]storage.Session),
		logins:        make(map[string]storage.Login),
		consents:      make(map[string]storage.Consent),
		grants:        make(map[string]storage.Grant),
		codes:         make(map[string]storage.AuthorizationCode),
		accessTokens:  make(map[string]storage.AccessToken),
		refreshTokens: make(map[string]storage.RefreshToken),
		deviceCodes:   make(map[string]storage.DeviceCode),
		userCodes:     make(map[string]string),
		logoutTickets: make(map[string]storage.LogoutTicket),
		assertionJTIs: make(map[string]time.Time),
	}
}

type store struct {
	mu sync.Mutex

	clients       map[string]storage.Client
	sessions      map[string]storage.Session
	logins        map[string]storage.Login
	consents      map[string]storage.Consent
	grants        map[string]storage.Grant
	codes         map[string]storage.AuthorizationCode
	accessTokens  map[string]storage.AccessToken
	refreshTokens map[string]storage.RefreshToken
	deviceCodes   map[string]storage.DeviceCode
	userCodes     map[string]string // user code -> device code
	logoutTickets map[string]storage.LogoutTicket
	assertionJTIs map[string]time.Time // "clientID/jti" -> expiresAt
	keys          storage.Keys
}

func (s *store) Close() error { return nil }

func (s *store) CreateClient(_ context.Context, c storage.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ID]; ok {
		return storage.Error{Code: storage.ErrAlreadyExists}
	}
	s.clients[c.ID] = c
	return nil
}

func (s *store) CreateSession(_ context.Context, sess storage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return storage.Error{Code: storage.ErrAlreadyExists}
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *store) CreateLogin(_ context.Context, l storage.Login) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logins[l.ID]; ok {
		return storage.Error{Code: storage.ErrAlreadyExists}
	}
	s.logins[l.ID] = l
	return nil
}

func (s *store) CreateConsent(_ context.Context, c storage.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consents[c.ID]; ok {
		return storage.Error{Code: storage.ErrAlreadyExists}
	}
	s.consents[c.ID] = c
	return nil
}

func (s *store) CreateGrant(_ context.Context, g storage.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[g.ID]; ok {
		return storage.Error{Code: storage.ErrAlreadyExists}
	}
	s.grants[g.ID] = g
	return nil
}

func (s *store) CreateAuthorizationCode(_ context.Context, c storage.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[c.Code]; ok {
		return storage.Error{Code: storage.ErrAlreadyExists}
	}
	s.codes[c.Code] = c
	return nil
}

func (s *store) CreateAccessToken(_ context.Context, t storage.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accessTokens[t.Token]; ok {
		return storage.Error{Code: storage.ErrAlreadyExists}
	}
	s.accessTokens[t.Token] = t
	return nil
}

func (s *store) CreateRefreshToken(_ context.Context, t storage.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refreshTokens[t.Token]; ok {
		return storage.Error{Code: storage.ErrAlreadyExists}
	}
	s.refreshTokens[t.Token] = t
	return nil
}

func (s *store) CreateDeviceCode(_ context.Context, d storage.DeviceCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deviceCodes[d.DeviceCode]; ok {
		return storage.Error{Code: storage.ErrAlreadyExists}
	}
	s.deviceCodes[d.DeviceCode] = d
	s.userCodes[d.UserCode] = d.DeviceCode
	return nil
}

func (s *store) CreateLogoutTicket(_ context.Context, l storage.LogoutTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logoutTickets[l.Challenge]; ok {
		return storage.Error{Code: storage.ErrAlreadyExists}
	}
	s.logoutTickets[l.Challenge] = l
	return nil
}

func (s *store) CreateClientAssertionJTI(_ context.Context, clientID, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := clientID + "/" + jti
	if _, ok := s.assertionJTIs[key]; ok {
		return storage.Error{Code: storage.ErrAlreadyExists}
	}
	s.assertionJTIs[key] = expiresAt
	return nil
}

func (s *store) GetClient(_ context.Context, id string) (storage.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return storage.Client{}, storage.Error{Code: storage.ErrNotFound}
	}
	return c, nil
}

func (s *store) GetSession(_ context.Context, id string) (storage.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.sessions[id]
	if !ok {
		return storage.Session{}, storage.Error{Code: storage.ErrNotFound}
	}
	return v, nil
}

func (s *store) GetLogin(_ context.Context, id string) (storage.Login, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.logins[id]
	if !ok {
		return storage.Login{}, storage.Error{Code: storage.ErrNotFound}
	}
	return v, nil
}

func (s *store) GetConsent(_ context.Context, id string) (storage.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.consents[id]
	if !ok {
		return storage.Consent{}, storage.Error{Code: storage.ErrNotFound}
	}
	return v, nil
}

func (s *store) GetGrant(_ context.Context, id string) (storage.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.grants[id]
	if !ok {
		return storage.Grant{}, storage.Error{Code: storage.ErrNotFound}
	}
	return v, nil
}

func (s *store) GetGrantByLoginChallenge(_ context.Context, challenge string) (storage.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.grants {
		if g.LoginChallenge == challenge {
			return g, nil
		}
	}
	return storage.Grant{}, storage.Error{Code: storage.ErrNotFound}
}

func (s *store) GetGrantByConsentChallenge(_ context.Context, challenge string) (storage.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.grants {
		if g.ConsentChallenge == challenge {
			return g, nil
		}
	}
	return storage.Grant{}, storage.Error{Code: storage.ErrNotFound}
}

func (s *store) GetAuthorizationCode(_ context.Context, code string) (storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.codes[code]
	if !ok {
		return storage.AuthorizationCode{}, storage.Error{Code: storage.ErrNotFound}
	}
	return v, nil
}

func (s *store) GetAccessToken(_ context.Context, token string) (storage.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.accessTokens[token]
	if !ok {
		return storage.AccessToken{}, storage.Error{Code: storage.ErrNotFound}
	}
	return v, nil
}

func (s *store) GetRefreshToken(_ context.Context, token string) (storage.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.refreshTokens[token]
	if !ok {
		return storage.RefreshToken{}, storage.Error{Code: storage.ErrNotFound}
	}
	return v, nil
}

func (s *store) GetDeviceCodeByDeviceCode(_ context.Context, deviceCode string) (storage.DeviceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.deviceCodes[deviceCode]
	if !ok {
		return storage.DeviceCode{}, storage.Error{Code: storage.ErrNotFound}
	}
	return v, nil
}

func (s *store) GetDeviceCodeByUserCode(_ context.Context, userCode string) (storage.DeviceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dc, ok := s.userCodes[userCode]
	if !ok {
		return storage.DeviceCode{}, storage.Error{Code: storage.ErrNotFound}
	}
	v, ok := s.deviceCodes[dc]
	if !ok {
		return storage.DeviceCode{}, storage.Error{Code: storage.ErrNotFound}
	}
	return v, nil
}

func (s *store) GetLogoutTicket(_ context.Context, challenge string) (storage.LogoutTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.logoutTickets[challenge]
	if !ok {
		return storage.LogoutTicket{}, storage.Error{Code: storage.ErrNotFound}
	}
	return v, nil
}

func (s *store) GetKeys(_ context.Context) (storage.Keys, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys, nil
}

func (s *store) ListConsents(_ context.Context, userID, clientID string) ([]storage.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Consent
	for _, c := range s.consents {
		if c.UserID == userID && c.ClientID == clientID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *store) ListRefreshTokensByFamily(_ context.Context, familyID string) ([]storage.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.RefreshToken
	for _, t := range s.refreshTokens {
		if t.FamilyID == familyID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *store) ListAccessTokensByParent(_ context.Context, parentType, parentID string) ([]storage.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.AccessToken
	for _, t := range s.accessTokens {
		if t.ParentType == parentType && t.ParentID == parentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *store) DeleteGrant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[id]; !ok {
		return storage.Error{Code: storage.ErrNotFound}
	}
	delete(s.grants, id)
	return nil
}

func (s *store) DeleteAuthorizationCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code]; !ok {
		return storage.Error{Code: storage.ErrNotFound}
	}
	delete(s.codes, code)
	return nil
}

func (s *store) DeleteLogoutTicket(_ context.Context, challenge string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logoutTickets[challenge]; !ok {
		return storage.Error{Code: storage.ErrNotFound}
	}
	delete(s.logoutTickets, challenge)
	return nil
}

func (s *store) UpdateClient(_ context.Context, id string, updater func(storage.Client) (storage.Client, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.clients[id]
	if !ok {
		return storage.Error{Code: storage.ErrNotFound}
	}
	n, err := updater(old)
	if err != nil {
		return err
	}
	s.clients[id] = n
	return nil
}

func (s *store) UpdateSession(_ context.Context, id string, updater func(storage.Session) (storage.Session, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.sessions[id]
	if !ok {
		return storage.Error{Code: storage.ErrNotFound}
	}
	n, err := updater(old)
	if err != nil {
		return err
	}
	s.sessions[id] = n
	return nil
}

func (s *store) UpdateGrant(_ context.Context, id string, updater func(storage.Grant) (storage.Grant, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.grants[id]
	if !ok {
		return storage.Error{Code: storage.ErrNotFound}
	}
	n, err := updater(old)
	if err != nil {
		return err
	}
	s.grants[id] = n
	return nil
}

func (s *store) UpdateAuthorizationCode(_ context.Context, code string, updater func(storage.AuthorizationCode) (storage.AuthorizationCode, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.codes[code]
	if !ok {
		return storage.Error{Code: storage.ErrNotFound}
	}
	n, err := updater(old)
	if err != nil {
		return err
	}
	s.codes[code] = n
	return nil
}

func (s *store) UpdateAccessToken(_ context.Context, token string, updater func(storage.AccessToken) (storage.AccessToken, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.accessTokens[token]
	if !ok {
		return storage.Error{Code: storage.ErrNotFound}
	}
	n, err := updater(old)
	if err != nil {
		return err
	}
	s.accessTokens[token] = n
	return nil
}

func (s *store) UpdateRefreshToken(_ context.Context, token string, updater func(storage.RefreshToken) (storage.RefreshToken, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.refreshTokens[token]
	if !ok {
		return storage.Error{Code: storage.ErrNotFound}
	}
	n, err := updater(old)
	if err != nil {
		return err
	}
	s.refreshTokens[token] = n
	return nil
}

func (s *store) UpdateDeviceCode(_ context.Context, deviceCode string, updater func(storage.DeviceCode) (storage.DeviceCode, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.deviceCodes[deviceCode]
	if !ok {
		return storage.Error{Code: storage.ErrNotFound}
	}
	n, err := updater(old)
	if err != nil {
		return err
	}
	s.deviceCodes[deviceCode] = n
	return nil
}

func (s *store) UpdateKeys(_ context.Context, updater func(storage.Keys) (storage.Keys, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := updater(s.keys)
	if err != nil {
		return err
	}
	s.keys = n
	return nil
}

func (s *store) GarbageCollect(_ context.Context, now time.Time) (storage.GCResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result storage.GCResult
	for id, g := range s.grants {
		if now.After(g.ExpiresAt) {
			delete(s.grants, id)
			result.Grants++
		}
	}
	for code, c := range s.codes {
		if now.After(c.ExpiresAt) {
			delete(s.codes, code)
			result.AuthorizationCodes++
		}
	}
	for dc, d := range s.deviceCodes {
		if now.After(d.ExpiresAt) {
			delete(s.deviceCodes, dc)
			delete(s.userCodes, d.UserCode)
			result.DeviceCodes++
		}
	}
	for token, t := range s.accessTokens {
		if now.After(t.ExpiresAt) {
			delete(s.accessTokens, token)
			result.AccessTokens++
		}
	}
	for token, t := range s.refreshTokens {
		if now.After(t.ExpiresAt) {
			delete(s.refreshTokens, token)
			result.RefreshTokens++
		}
	}
	for id, l := range s.logins {
		if now.After(l.ExpiresAt) {
			delete(s.logins, id)
			result.Logins++
		}
	}
	for key, exp := range s.assertionJTIs {
		if now.After(exp) {
			delete(s.assertionJTIs, key)
			result.ClientAssertionJTIs++
		}
	}
	return result, nil
}
