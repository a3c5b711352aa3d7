// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"

	"github.com/hashicorp/devicepass/jwt"
	"github.com/hashicorp/devicepass/oidc"
	"github.com/hashicorp/devicepass/sdk/id"
)

// Session events reported to the observer.
const (
	EventLogin              = "login"
	EventRefresh            = "refresh"
	EventRefreshFailed      = "refresh_failed"
	EventTerminated         = "terminated"
	EventRevoked            = "revoked"
	EventLogout             = "logout"
	EventBackChannelLogout  = "backchannel_logout"
	EventFrontChannelLogout = "frontchannel_logout"
)

const (
	loginStatePrefix = "st"
	csrfPrefix       = "csrf"
)

// Provider is the part of the OIDC client the Manager depends on. It's
// satisfied by *oidc.Client.
type Provider interface {
	Config() *oidc.Config
	ProviderConfig() *oidc.ProviderConfig
	AuthURL(state, redirectURI string) (string, error)
	LogoutURL(idToken, email, postLogout string) (string, bool, error)
	RedeemCode(ctx context.Context, code, redirectURI string) (*oidc.RedeemedTokens, error)
	RedeemRefresh(ctx context.Context, refreshToken string) (*oidc.RedeemedTokens, error)
	ValidateLogoutToken(ctx context.Context, logoutToken string) (*jwt.Claims, error)
}

var _ Provider = (*oidc.Client)(nil)

// Manager drives the session state machine. Refreshes of the same session
// are serialized: concurrent requests share one token endpoint call, and
// replicas sharing a Store settle on one outcome through Store.Swap.
type Manager struct {
	provider  Provider
	store     Store
	logger    hclog.Logger
	now       func() time.Time
	grace     time.Duration
	retention time.Duration
	observe   func(event string)

	flights singleflight.Group
}

// NewManager creates a Manager.
// Supported options: WithLogger, WithNow, WithRefreshGrace, WithObserver,
// WithRevocationRetention
func NewManager(provider Provider, store Store, opt ...Option) (*Manager, error) {
	const op = "session.NewManager"
	switch {
	case provider == nil:
		return nil, fmt.Errorf("%s: provider is nil: %w", op, ErrNilParameter)
	case store == nil:
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	opts := getManagerOpts(opt...)
	return &Manager{
		provider:  provider,
		store:     store,
		logger:    opts.withLogger,
		now:       opts.withNow,
		grace:     opts.withGrace,
		retention: opts.withRetention,
		observe:   opts.withObserver,
	}, nil
}

// Provider returns the provider the Manager authenticates against.
func (m *Manager) Provider() Provider {
	return m.provider
}

// BeginLogin stores a fresh login state in local and returns the provider
// redirect carrying it.
func (m *Manager) BeginLogin(local *Local, redirectURI string) (string, error) {
	const op = "Manager.BeginLogin"
	if local == nil {
		return "", fmt.Errorf("%s: local session is nil: %w", op, ErrNilParameter)
	}
	state, err := id.New(loginStatePrefix)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	u, err := m.provider.AuthURL(state, redirectURI)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	local.LoginState = state
	return u, nil
}

// CompleteLogin handles the provider callback. The login state is consumed
// only when it matches, so a forged callback can't cancel a real login.
func (m *Manager) CompleteLogin(ctx context.Context, local *Local, state, code, redirectURI string) error {
	const op = "Manager.CompleteLogin"
	if local == nil {
		return fmt.Errorf("%s: local session is nil: %w", op, ErrNilParameter)
	}
	if !equal(local.LoginState, state) {
		return fmt.Errorf("%s: %w", op, ErrCSRFMismatch)
	}
	local.LoginState = ""
	if code == "" {
		return fmt.Errorf("%s: %w", op, ErrMissingCode)
	}

	tokens, err := m.provider.RedeemCode(ctx, code, redirectURI)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	claims := tokens.Claims
	now := m.now()

	if sid := claims.SessionID; sid != "" {
		revoked, err := m.store.IsRevoked(ctx, sid)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if revoked {
			return fmt.Errorf("%s: %w", op, ErrSessionRevoked)
		}
		err = m.store.Upsert(ctx, &Session{
			ID:            sid,
			Subject:       claims.Subject,
			Issuer:        claims.Issuer,
			Expiry:        claims.Expiry,
			IDToken:       string(tokens.IDToken),
			RefreshToken:  string(tokens.RefreshToken),
			RefreshExpiry: tokens.RefreshExpiry(now),
			UpdatedAt:     now,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	csrf, err := id.New(csrfPrefix)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	next := Local{
		Subject:   claims.Subject,
		SessionID: claims.SessionID,
		Expiry:    claims.Expiry,
		IDToken:   string(tokens.IDToken),
		Display:   *m.display(tokens),
		CSRFToken: csrf,
	}
	if next.SessionID == "" {
		next.RefreshToken = string(tokens.RefreshToken)
		next.RefreshExpiry = tokens.RefreshExpiry(now)
	}
	*local = next

	m.logger.Info("login completed", "sub", next.Subject, "sid", next.SessionID)
	m.observe(EventLogin)
	return nil
}

// Check decides whether local is still authenticated, refreshing it when
// its ID token expires within the grace window. local is updated in place
// and cleared when the session ended. An error with Anonymous or Revoked
// explains why the session is gone; it's not a failure of the request.
func (m *Manager) Check(ctx context.Context, local *Local) (State, error) {
	const op = "Manager.Check"
	if !local.Authenticated() {
		return Anonymous, nil
	}

	var durable *Session
	if sid := local.SessionID; sid != "" {
		revoked, err := m.store.IsRevoked(ctx, sid)
		if err != nil {
			return Anonymous, fmt.Errorf("%s: %w", op, err)
		}
		if revoked {
			local.Clear()
			m.observe(EventRevoked)
			return Revoked, fmt.Errorf("%s: %w", op, ErrSessionRevoked)
		}
		durable, err = m.store.Get(ctx, sid)
		if errors.Is(err, ErrNotFound) {
			local.Clear()
			return Anonymous, fmt.Errorf("%s: %w", op, ErrSessionNotFound)
		}
		if err != nil {
			return Anonymous, fmt.Errorf("%s: %w", op, err)
		}
		// Another request or replica may have refreshed the session.
		local.Expiry = durable.Expiry
		local.IDToken = durable.IDToken
	}

	now := m.now()
	remaining := local.Expiry.Sub(now)
	if remaining > m.grace {
		return Authenticated, nil
	}

	canRefresh := refreshable(local.RefreshToken, local.RefreshExpiry, now)
	if durable != nil {
		canRefresh = durable.Refreshable(now)
	}
	if !canRefresh {
		if remaining > 0 {
			return Authenticated, nil
		}
		if durable != nil {
			if err := m.store.Delete(ctx, durable.ID); err != nil {
				m.logger.Warn("unable to delete terminated session", "sid", durable.ID, "error", err)
			}
		}
		local.Clear()
		m.observe(EventTerminated)
		return Terminated, nil
	}

	res, err := m.refresh(ctx, local, durable)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		// The request went away; the refresh itself may still succeed.
		if remaining > 0 {
			return Authenticated, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return Anonymous, fmt.Errorf("%s: %w", op, ctx.Err())
	case errors.Is(err, ErrSessionNotFound):
		local.Clear()
		return Anonymous, fmt.Errorf("%s: %w", op, err)
	default:
		m.logger.Warn("session refresh failed", "sub", local.Subject, "sid", local.SessionID, "error", err)
		if durable != nil {
			if rerr := m.revoke(ctx, durable.ID); rerr != nil {
				m.logger.Error("unable to revoke session after failed refresh", "sid", durable.ID, "error", rerr)
			}
		}
		local.Clear()
		m.observe(EventRefreshFailed)
		return Terminated, fmt.Errorf("%s: %w", op, err)
	}

	local.Expiry = res.expiry
	local.IDToken = res.idToken
	if res.display != nil {
		local.Display = *res.display
	}
	if durable == nil {
		local.RefreshToken = res.refreshToken
		local.RefreshExpiry = res.refreshExpiry
	}
	return Authenticated, nil
}

type refreshed struct {
	expiry        time.Time
	idToken       string
	refreshToken  string
	refreshExpiry time.Time

	// display is nil when the tokens were adopted from the store.
	display *Display
}

func (m *Manager) display(tokens *oidc.RedeemedTokens) *Display {
	cfg := m.provider.Config()
	return &Display{
		Email:    tokens.Display(cfg.ClaimEmail),
		Username: tokens.Display(cfg.ClaimUsername),
		Picture:  tokens.Display("picture"),
		Name:     tokens.Display("name"),
	}
}

func fromSession(s *Session) *refreshed {
	return &refreshed{
		expiry:        s.Expiry,
		idToken:       s.IDToken,
		refreshToken:  s.RefreshToken,
		refreshExpiry: s.RefreshExpiry,
	}
}

// refresh joins or starts the one refresh in flight for the session. The
// flight runs detached from ctx so a caller leaving doesn't fail the others
// waiting on it; the provider timeout still bounds it.
func (m *Manager) refresh(ctx context.Context, local *Local, durable *Session) (*refreshed, error) {
	var key string
	var flight func(context.Context) (*refreshed, error)
	if durable != nil {
		key = durable.ID
		flight = func(ctx context.Context) (*refreshed, error) {
			return m.refreshDurable(ctx, durable)
		}
	} else {
		sum := sha256.Sum256([]byte(local.RefreshToken))
		key = "rt:" + hex.EncodeToString(sum[:])
		subject, token, expiry := local.Subject, local.RefreshToken, local.RefreshExpiry
		flight = func(ctx context.Context) (*refreshed, error) {
			return m.refreshLocal(ctx, subject, token, expiry)
		}
	}

	detached := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(key, func() (interface{}, error) {
		return flight(detached)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*refreshed), nil
	}
}

func (m *Manager) refreshDurable(ctx context.Context, s *Session) (*refreshed, error) {
	const op = "Manager.refreshDurable"
	prev := s.RefreshToken

	// s may have been read before an earlier flight for the same session
	// finished; its refresh token could already be spent.
	cur, err := m.store.Get(ctx, s.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	case cur.RefreshToken != prev || cur.Expiry.Sub(m.now()) > m.grace:
		m.logger.Debug("session already refreshed, adopting stored tokens", "sid", s.ID)
		return fromSession(cur), nil
	}

	tokens, err := m.provider.RedeemRefresh(ctx, prev)
	if err != nil {
		// A replica that won the race rotated the token we just spent.
		if cur, gerr := m.store.Get(ctx, s.ID); gerr == nil && cur.RefreshToken != prev && cur.Expiry.After(m.now()) {
			return fromSession(cur), nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tokens.Claims.Subject != s.Subject {
		return nil, fmt.Errorf("%s: %w", op, ErrSubjectMismatch)
	}

	now := m.now()
	next := &Session{
		ID:            s.ID,
		Subject:       s.Subject,
		Issuer:        s.Issuer,
		Expiry:        tokens.Claims.Expiry,
		IDToken:       string(tokens.IDToken),
		RefreshToken:  string(tokens.RefreshToken),
		RefreshExpiry: tokens.RefreshExpiry(now),
		UpdatedAt:     now,
	}
	if next.RefreshToken == prev && next.RefreshExpiry.IsZero() {
		next.RefreshExpiry = s.RefreshExpiry
	}

	err = m.store.Swap(ctx, next, prev)
	switch {
	case err == nil:
		m.logger.Debug("session refreshed", "sid", s.ID)
		m.observe(EventRefresh)
		res := fromSession(next)
		res.display = m.display(tokens)
		return res, nil
	case errors.Is(err, ErrConflict):
		cur, err := m.store.Get(ctx, s.ID)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrSessionNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		m.logger.Debug("session refreshed concurrently, adopting stored tokens", "sid", s.ID)
		return fromSession(cur), nil
	case errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	default:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
}

func (m *Manager) refreshLocal(ctx context.Context, subject, token string, expiry time.Time) (*refreshed, error) {
	const op = "Manager.refreshLocal"
	tokens, err := m.provider.RedeemRefresh(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tokens.Claims.Subject != subject {
		return nil, fmt.Errorf("%s: %w", op, ErrSubjectMismatch)
	}
	res := &refreshed{
		expiry:        tokens.Claims.Expiry,
		idToken:       string(tokens.IDToken),
		refreshToken:  string(tokens.RefreshToken),
		refreshExpiry: tokens.RefreshExpiry(m.now()),
		display:       m.display(tokens),
	}
	if res.refreshToken == token && res.refreshExpiry.IsZero() {
		res.refreshExpiry = expiry
	}
	m.observe(EventRefresh)
	return res, nil
}

// Logout ends the session bound to local and returns where to send the
// browser: the provider's end-session endpoint when it has one, otherwise
// postLogoutURI.
func (m *Manager) Logout(ctx context.Context, local *Local, csrfToken, postLogoutURI string) (string, error) {
	const op = "Manager.Logout"
	if local == nil {
		return "", fmt.Errorf("%s: local session is nil: %w", op, ErrNilParameter)
	}
	if err := local.CheckCSRF(csrfToken); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	idToken, email := local.IDToken, local.Email
	if sid := local.SessionID; sid != "" {
		if err := m.revoke(ctx, sid); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}
	m.logger.Info("logout", "sub", local.Subject, "sid", local.SessionID)
	local.Clear()
	m.observe(EventLogout)

	u, ok, err := m.provider.LogoutURL(idToken, email, postLogoutURI)
	if err != nil {
		m.logger.Warn("unable to build provider logout URL", "error", err)
		return postLogoutURI, nil
	}
	if !ok {
		return postLogoutURI, nil
	}
	return u, nil
}

// BackChannelLogout revokes the sessions named by a provider logout token:
// the one session when the token carries a sid, otherwise every session of
// its subject.
func (m *Manager) BackChannelLogout(ctx context.Context, logoutToken string) error {
	const op = "Manager.BackChannelLogout"
	claims, err := m.provider.ValidateLogoutToken(ctx, logoutToken)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidLogoutToken, err)
	}
	switch {
	case !claims.HasEvent(jwt.BackChannelLogoutEvent):
		return fmt.Errorf("%s: missing %s event: %w", op, jwt.BackChannelLogoutEvent, ErrInvalidLogoutToken)
	case claims.Get("nonce") != nil:
		return fmt.Errorf("%s: nonce is not allowed: %w", op, ErrInvalidLogoutToken)
	case claims.SessionID == "" && claims.Subject == "":
		return fmt.Errorf("%s: sid or sub is required: %w", op, ErrInvalidLogoutToken)
	}

	if sid := claims.SessionID; sid != "" {
		if err := m.revoke(ctx, sid); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		m.logger.Info("back-channel logout", "sid", sid)
		m.observe(EventBackChannelLogout)
		return nil
	}

	ids, err := m.store.DeleteAllForSubject(ctx, claims.Subject)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	var result *multierror.Error
	for _, sid := range ids {
		if err := m.store.MarkRevoked(ctx, sid); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Info("back-channel logout", "sub", claims.Subject, "sessions", len(ids))
	m.observe(EventBackChannelLogout)
	return nil
}

// FrontChannelLogout handles the provider's logout iframe loaded in the
// user's browser. local is cleared once the request is accepted.
func (m *Manager) FrontChannelLogout(ctx context.Context, local *Local, iss, sid string) error {
	const op = "Manager.FrontChannelLogout"
	pc := m.provider.ProviderConfig()
	switch {
	case pc == nil || !pc.SupportsFrontChannelLogout():
		return fmt.Errorf("%s: %w", op, ErrFrontChannelUnsupported)
	case pc.FrontChannelSessionRequired() && (iss == "" || sid == ""):
		return fmt.Errorf("%s: %w", op, ErrMissingSession)
	case iss != "" && iss != pc.Issuer:
		return fmt.Errorf("%s: %q: %w", op, iss, ErrInvalidIssuer)
	}
	if sid != "" {
		if err := m.revoke(ctx, sid); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if local != nil {
		local.Clear()
	}
	m.logger.Info("front-channel logout", "sid", sid)
	m.observe(EventFrontChannelLogout)
	return nil
}

// PurgeRevoked forgets revocations older than the configured retention. It
// does nothing when no retention is configured.
func (m *Manager) PurgeRevoked(ctx context.Context) (int, error) {
	if m.retention <= 0 {
		return 0, nil
	}
	n, err := m.store.PurgeRevoked(ctx, m.now().Add(-m.retention))
	if err != nil {
		return 0, fmt.Errorf("Manager.PurgeRevoked: %w", err)
	}
	return n, nil
}

// revoke marks sid revoked before deleting it so a concurrent Check never
// sees neither.
func (m *Manager) revoke(ctx context.Context, sid string) error {
	if err := m.store.MarkRevoked(ctx, sid); err != nil {
		return err
	}
	return m.store.Delete(ctx, sid)
}
