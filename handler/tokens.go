// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/devicepass/device"
	"github.com/hashicorp/devicepass/session"
)

const (
	timeFormat = time.RFC3339
	dateFormat = time.DateOnly
)

type credential struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Login   string  `json:"login"`
	Expires *string `json:"expires"`
	Created string  `json:"created"`
}

func toCredential(c *device.Credential) credential {
	out := credential{
		ID:      c.ID,
		Name:    c.Name,
		Login:   c.Login,
		Created: c.CreatedAt.UTC().Format(timeFormat),
	}
	if !c.Expires.IsZero() {
		exp := c.Expires.Format(dateFormat)
		out.Expires = &exp
	}
	return out
}

type issued struct {
	Status string `json:"status"`
	credential
	Secret string `json:"secret"`
}

type deleted struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// authenticated loads the Local of r and writes 403 unless its session is
// valid. ok is false when a response was written.
func (h *Handler) authenticated(w http.ResponseWriter, r *http.Request) (*session.Local, bool) {
	cookie, local := h.load(r)
	state, err := h.check(r, local)
	if err != nil {
		h.fail(w, "session check failed", err)
		return nil, false
	}
	if state != session.Authenticated {
		local.Clear()
		if err := h.save(w, r, cookie, local); err != nil {
			h.logger.Warn("unable to save session", "error", err)
		}
		h.fail(w, "invalid session", session.ErrSessionNotFound)
		return nil, false
	}
	if err := h.save(w, r, cookie, local); err != nil {
		h.fail(w, "unable to save session", err)
		return nil, false
	}
	return local, true
}

func (h *Handler) listTokens(w http.ResponseWriter, r *http.Request) {
	local, ok := h.authenticated(w, r)
	if !ok {
		return
	}
	creds, err := h.devices.List(r.Context(), local.Subject)
	if err != nil {
		h.fail(w, "unable to list device credentials", err)
		return
	}
	out := make([]credential, 0, len(creds))
	for _, c := range creds {
		out = append(out, toCredential(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// createToken issues a credential from the form fields name and, optionally,
// expire (YYYY-MM-DD). The password is returned once.
func (h *Handler) createToken(w http.ResponseWriter, r *http.Request) {
	local, ok := h.authenticated(w, r)
	if !ok {
		return
	}
	if err := local.CheckCSRF(r.PostFormValue("csrf")); err != nil {
		h.fail(w, "invalid CSRF token", err)
		return
	}
	var expires time.Time
	if v := r.PostFormValue("expire"); v != "" {
		t, err := time.Parse(dateFormat, v)
		if err != nil {
			h.fail(w, "invalid expiry", fmt.Errorf("expire %q: %w", v, ErrInvalidParameter))
			return
		}
		expires = t
	}
	c, err := h.devices.Create(r.Context(), local.Subject, local.Username, r.PostFormValue("name"), expires)
	if err != nil {
		h.fail(w, "unable to create device credential", err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncrementCredentialsCreated()
	}
	writeJSON(w, http.StatusOK, issued{
		Status:     "ok",
		credential: toCredential(c.Credential),
		Secret:     c.Secret,
	})
}

// deleteToken removes the credential named by the id query parameter.
func (h *Handler) deleteToken(w http.ResponseWriter, r *http.Request) {
	local, ok := h.authenticated(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if err := local.CheckCSRF(q.Get("csrf")); err != nil {
		h.fail(w, "invalid CSRF token", err)
		return
	}
	c, err := h.devices.Delete(r.Context(), local.Subject, q.Get("id"))
	if err != nil {
		h.fail(w, "unable to delete device credential", err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncrementCredentialsDeleted()
	}
	writeJSON(w, http.StatusOK, deleted{ID: c.ID, Name: c.Name})
}
