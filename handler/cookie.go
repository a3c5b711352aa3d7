// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/hkdf"

	"github.com/hashicorp/devicepass/session"
)

const (
	cookieName = "devicepass"
	localKey   = "local"

	// cookieMaxAge outlives any ID token; the Manager decides validity.
	cookieMaxAge = 30 * 24 * 60 * 60
)

// NewCookieStore creates the store of the session cookie. Its
// authentication and encryption keys are both derived from key. Secure
// cookies are sent cross-site so the provider's front-channel logout iframe
// carries them.
func NewCookieStore(key string, secure bool) (*sessions.CookieStore, error) {
	const op = "handler.NewCookieStore"
	if len(key) < 32 {
		return nil, fmt.Errorf("%s: key must be at least 32 bytes: %w", op, ErrInvalidParameter)
	}
	authKey, err := deriveKey(key, "cookie authentication", 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	encKey, err := deriveKey(key, "cookie encryption", 32)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	store := sessions.NewCookieStore(authKey, encKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if secure {
		store.Options.SameSite = http.SameSiteNoneMode
	}
	// ID and refresh tokens don't fit the default 4096 bytes
	store.MaxLength(16 * 1024)
	return store, nil
}

func deriveKey(secret, info string, n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// load returns the cookie session of r and the Local it carries. An
// unreadable cookie yields an empty Local.
func (h *Handler) load(r *http.Request) (*sessions.Session, *session.Local) {
	s, err := h.cookies.Get(r, cookieName)
	if err != nil {
		h.logger.Debug("discarding unreadable session cookie", "error", err)
	}
	local := &session.Local{}
	if raw, ok := s.Values[localKey].([]byte); ok {
		if err := json.Unmarshal(raw, local); err != nil {
			h.logger.Debug("discarding malformed session", "error", err)
			local = &session.Local{}
		}
	}
	return s, local
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, s *sessions.Session, local *session.Local) error {
	raw, err := json.Marshal(local)
	if err != nil {
		return fmt.Errorf("handler.save: %w", err)
	}
	s.Values[localKey] = raw
	if err := s.Save(r, w); err != nil {
		return fmt.Errorf("handler.save: %w", err)
	}
	return nil
}
