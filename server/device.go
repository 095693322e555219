package server

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"time"

	"github.com/guaranijs/guarani/scope"
	"github.com/guaranijs/guarani/storage"
)

const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ"

func generateUserCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 8)
	for i, b := range buf {
		out[i] = userCodeAlphabet[int(b)%len(userCodeAlphabet)]
	}
	return fmt.Sprintf("%s-%s", out[:4], out[4:]), nil
}

type deviceAuthorizationResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int64  `json:"expires_in"`
	Interval        int64  `json:"interval"`
}

// handleDeviceAuthorization implements POST /oauth/device_authorization
// (RFC 8628 §3.1).
func (s *Server) handleDeviceAuthorization(w http.ResponseWriter, r *http.Request) {
	r = withSpan(r)
	client, err := s.resolveClient(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	form := parseForm(r)
	requested := scope.Parse(formValue(form, "scope"))
	scopes, err := scope.Resolve(requested, client.Scopes, scope.Strict)
	if err != nil {
		s.writeError(w, ErrInvalidScope)
		return
	}

	userCode, err := generateUserCode()
	if err != nil {
		s.writeError(w, withDescription(ErrServerError, err.Error()))
		return
	}

	now := s.cfg.Now()
	const pollInterval = 5 * time.Second
	dc := storage.DeviceCode{
		DeviceCode: storage.NewID(),
		UserCode:   userCode,
		ClientID:   client.ID,
		Scopes:     scopes,
		Interval:   pollInterval,
		LastPoll:   now,
		ExpiresAt:  now.Add(s.cfg.DeviceCodeTTL),
	}
	if err := s.cfg.Storage.CreateDeviceCode(r.Context(), dc); err != nil {
		s.writeError(w, withDescription(ErrServerError, err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, deviceAuthorizationResponse{
		DeviceCode:      dc.DeviceCode,
		UserCode:        dc.UserCode,
		VerificationURI: s.cfg.Issuer + "/oauth/device",
		ExpiresIn:       int64(s.cfg.DeviceCodeTTL.Seconds()),
		Interval:        int64(pollInterval.Seconds()),
	})
}
