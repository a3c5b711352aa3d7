// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package handler is the HTTP surface of devicepass: the login flow, logout
// endpoints for the user and the provider, and the device credential API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hashicorp/devicepass/device"
	"github.com/hashicorp/devicepass/metrics"
	"github.com/hashicorp/devicepass/session"
)

// Handler serves the routes of devicepass.
type Handler struct {
	sessions *session.Manager
	devices  *device.Service
	cookies  sessions.Store
	logger   hclog.Logger
	metrics  *metrics.Metrics
	gatherer http.Handler
	hsts     bool

	// indexURL is where users land after login and logout; loginURL is the
	// redirect_uri registered with the provider.
	indexURL string
	loginURL string
}

// New creates a Handler. publicURL is the externally visible base URL of the
// service.
// Supported options: WithLogger, WithHSTS, WithMetrics
func New(mgr *session.Manager, devices *device.Service, cookies sessions.Store, publicURL string, opt ...Option) (*Handler, error) {
	const op = "handler.New"
	switch {
	case mgr == nil:
		return nil, fmt.Errorf("%s: session manager is nil: %w", op, ErrInvalidParameter)
	case devices == nil:
		return nil, fmt.Errorf("%s: device service is nil: %w", op, ErrInvalidParameter)
	case cookies == nil:
		return nil, fmt.Errorf("%s: cookie store is nil: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(publicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s: public URL %q is not absolute: %w", op, publicURL, ErrInvalidParameter)
	}
	base := strings.TrimSuffix(u.String(), "/")

	opts := handlerDefaults()
	ApplyOpts(&opts, opt...)
	h := &Handler{
		sessions: mgr,
		devices:  devices,
		cookies:  cookies,
		logger:   opts.withLogger,
		metrics:  opts.withMetrics,
		hsts:     opts.withHSTS,
		indexURL: base + "/",
		loginURL: base + "/login",
	}
	if opts.withGatherer != nil {
		h.gatherer = promhttp.HandlerFor(opts.withGatherer, promhttp.HandlerOpts{})
	}
	return h, nil
}

// Routes returns the router of every endpoint.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}

	r.Group(func(r chi.Router) {
		r.Use(h.securityHeaders)
		r.Get("/", h.index)
		r.Get("/login", h.login)
		r.Post("/login", h.login)
		r.Get("/logout", h.logout)

		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.NoCache)
			r.Get("/ping", h.ping)
			r.Get("/logout-frontchannel", h.frontChannelLogout)
			r.Post("/logout-backchannel", h.backChannelLogout)
			r.Get("/tokens", h.listTokens)
			r.Post("/tokens", h.createToken)
			r.Delete("/tokens", h.deleteToken)
		})
	})
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", h.gatherer)
	}
	return r
}

type identity struct {
	Subject   string `json:"sub"`
	SessionID string `json:"sid,omitempty"`
	session.Display
	Expires   string `json:"expires"`
	CSRFToken string `json:"csrf"`
}

// index sends anonymous users to the provider and describes the logged in
// user otherwise.
func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	cookie, local := h.load(r)
	state, err := h.check(r, local)
	if err != nil {
		h.fail(w, "session check failed", err)
		return
	}
	if state != session.Authenticated {
		authURL, err := h.sessions.BeginLogin(local, h.loginURL)
		if err != nil {
			h.fail(w, "unable to begin login", err)
			return
		}
		if err := h.save(w, r, cookie, local); err != nil {
			h.fail(w, "unable to save session", err)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
		return
	}
	if err := h.save(w, r, cookie, local); err != nil {
		h.fail(w, "unable to save session", err)
		return
	}
	writeJSON(w, http.StatusOK, identity{
		Subject:   local.Subject,
		SessionID: local.SessionID,
		Display:   local.Display,
		Expires:   local.Expiry.UTC().Format(timeFormat),
		CSRFToken: local.CSRFToken,
	})
}

// login is the provider's redirect target. Parameters may arrive in the
// query or, with response_mode=form_post, in the body.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	cookie, local := h.load(r)
	if e := r.FormValue("error"); e != "" {
		h.logger.Warn("provider returned an error", "error", e, "description", r.FormValue("error_description"))
	}
	err := h.sessions.CompleteLogin(r.Context(), local, r.FormValue("state"), r.FormValue("code"), h.loginURL)
	if errors.Is(err, session.ErrCSRFMismatch) {
		h.logger.Warn("login state mismatch")
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err != nil {
		// the state is consumed either way
		_ = h.save(w, r, cookie, local)
		h.fail(w, "unable to complete login", err)
		return
	}
	if err := h.devices.RegisterUser(r.Context(), local.Subject, local.Username, local.Email); err != nil {
		h.fail(w, "unable to register user", err)
		return
	}
	if err := h.save(w, r, cookie, local); err != nil {
		h.fail(w, "unable to save session", err)
		return
	}
	h.logger.Info("user logged in", "email", local.Email, "sub", local.Subject, "username", local.Username, "sid", local.SessionID)
	http.Redirect(w, r, h.indexURL, http.StatusFound)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	cookie, local := h.load(r)
	email := local.Email
	target, err := h.sessions.Logout(r.Context(), local, r.URL.Query().Get("csrf"), h.indexURL)
	if err != nil {
		h.fail(w, "unable to log out", err)
		return
	}
	if err := h.save(w, r, cookie, local); err != nil {
		h.fail(w, "unable to save session", err)
		return
	}
	h.logger.Info("user logged out", "email", email)
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	cookie, local := h.load(r)
	state, err := h.check(r, local)
	if err != nil {
		h.logger.Warn("session check failed", "error", err)
	}
	if err := h.save(w, r, cookie, local); err != nil {
		h.logger.Warn("unable to save session", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"pong": state == session.Authenticated})
}

func (h *Handler) frontChannelLogout(w http.ResponseWriter, r *http.Request) {
	cookie, local := h.load(r)
	q := r.URL.Query()
	if err := h.sessions.FrontChannelLogout(r.Context(), local, q.Get("iss"), q.Get("sid")); err != nil {
		h.fail(w, "front-channel logout rejected", err)
		return
	}
	if err := h.save(w, r, cookie, local); err != nil {
		h.fail(w, "unable to save session", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) backChannelLogout(w http.ResponseWriter, r *http.Request) {
	token := r.PostFormValue("logout_token")
	if token == "" {
		h.fail(w, "back-channel logout rejected", fmt.Errorf("logout_token is missing: %w", ErrInvalidParameter))
		return
	}
	if err := h.sessions.BackChannelLogout(r.Context(), token); err != nil {
		h.fail(w, "back-channel logout rejected", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// check runs the session check of local. Only failures of the check itself
// are returned; a session that ended is reported through the state.
func (h *Handler) check(r *http.Request, local *session.Local) (session.State, error) {
	state, err := h.sessions.Check(r.Context(), local)
	switch {
	case err == nil:
	case state == session.Anonymous && !errors.Is(err, session.ErrSessionNotFound):
		return state, err
	default:
		h.logger.Debug("session ended", "state", state.String(), "reason", err)
	}
	return state, nil
}

// fail logs err and writes the status StatusCode maps it to. The body never
// carries err; key ids and provider details stay in the logs.
func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
	} else {
		h.logger.Warn(msg, "error", err)
	}
	http.Error(w, http.StatusText(code), code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
