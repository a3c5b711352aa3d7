// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-secure-stdlib/strutil"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/devicepass/jwt"
)

// ClientAuth records how a client authenticated at the test provider's
// token endpoint.
type ClientAuth struct {
	// Method is client_secret_basic, client_secret_post or none.
	Method       string
	ClientID     string
	ClientSecret string
}

type testProviderKey struct {
	id   string
	priv *ecdsa.PrivateKey
}

// TestProvider is a local OIDC provider for tests. It serves discovery, a
// rotating JWKS, the authorization endpoint and a token endpoint that supports
// both the authorization_code and refresh_token grants, plus userinfo.
// Failures can be injected on each endpoint.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	t          *testing.T

	mu                  sync.Mutex
	keys                []testProviderKey
	keySeq              int
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	allowedRedirectURIs []string
	subject             string
	sessionID           string
	customClaims        map[string]any
	userinfo            map[string]any
	disableUserInfo     bool
	omitIDToken         bool
	issueRefreshTokens  bool
	rotateRefreshTokens bool
	idTokenTTL          time.Duration
	refreshTTL          time.Duration
	refreshTokens       map[string]bool
	tokenSeq            int
	refreshCount        int
	codeCount           int
	tokenStatus         int
	tokenDelay          time.Duration
	discoveryFailures   int
	keysFailures        int
	discovery           map[string]any
	lastClientAuth      ClientAuth
	accessTokens        map[string]bool
}

// StartTestProvider creates a disposable TestProvider which is stopped when
// the test ends.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t:                   t,
		clientID:            "test-client-id",
		clientSecret:        "test-client-secret",
		expectedAuthCode:    "test-code",
		allowedRedirectURIs: []string{"https://rp.example.com/login"},
		subject:             "alice",
		userinfo: map[string]any{
			"email":              "alice@example.com",
			"preferred_username": "alice",
			"name":               "Alice Example",
			"picture":            "https://example.com/alice.png",
		},
		issueRefreshTokens:  true,
		rotateRefreshTokens: true,
		idTokenTTL:          5 * time.Minute,
		refreshTTL:          time.Hour,
		refreshTokens:       map[string]bool{},
		accessTokens:        map[string]bool{},
		discovery:           map[string]any{},
	}
	p.addKeyLocked()

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the base URL of the test provider, which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// DiscoveryURL returns the URL of the discovery document.
func (p *TestProvider) DiscoveryURL() string {
	return p.Addr() + "/.well-known/openid-configuration"
}

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// ClientCreds returns the client id and secret the provider accepts.
func (p *TestProvider) ClientCreds() (clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID, p.clientSecret
}

// SetClientCreds configures the client credentials the token endpoint
// accepts. An empty secret makes the client public.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the code /auth returns and /token accepts.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// ExpectedAuthCode returns the code /token accepts.
func (p *TestProvider) ExpectedAuthCode() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expectedAuthCode
}

// SetAllowedRedirectURIs configures the redirect URIs /token accepts.
func (p *TestProvider) SetAllowedRedirectURIs(uris ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetSubject configures the sub of issued ID tokens.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = sub
}

// SetSessionID configures the sid of issued ID tokens; empty omits it.
func (p *TestProvider) SetSessionID(sid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = sid
}

// SetCustomClaims sets claims added to issued ID tokens. A nil value removes
// a default claim.
func (p *TestProvider) SetCustomClaims(claims map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// SetUserInfo replaces the attributes returned by the userinfo endpoint.
func (p *TestProvider) SetUserInfo(info map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userinfo = info
}

// DisableUserInfo omits the userinfo endpoint from discovery and makes it
// return 404.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// OmitIDTokens forces an error state where /token does not return an
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// SetRefreshTokens configures whether refresh tokens are issued and whether
// a refresh grant rotates them.
func (p *TestProvider) SetRefreshTokens(issue, rotate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issueRefreshTokens = issue
	p.rotateRefreshTokens = rotate
}

// SetTokenLifetimes configures the lifetime of issued ID tokens and the
// refresh_expires_in returned with refresh tokens; zero omits the latter.
func (p *TestProvider) SetTokenLifetimes(idToken, refresh time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenTTL = idToken
	p.refreshTTL = refresh
}

// SetTokenStatus makes /token fail with status; zero restores normal
// operation.
func (p *TestProvider) SetTokenStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
}

// SetTokenDelay delays every /token response.
func (p *TestProvider) SetTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenDelay = d
}

// FailDiscovery makes the next n discovery requests fail with a 500.
func (p *TestProvider) FailDiscovery(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoveryFailures = n
}

// FailKeys makes the next n JWKS requests fail with a 500.
func (p *TestProvider) FailKeys(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keysFailures = n
}

// SetDiscovery overrides members of the discovery document. A nil value
// removes the member.
func (p *TestProvider) SetDiscovery(overrides map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range overrides {
		p.discovery[k] = v
	}
}

// RotateKeys publishes a new signing key, which signs every token from now
// on, and returns its key id. Previous keys stay published.
func (p *TestProvider) RotateKeys() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addKeyLocked()
}

// RemoveKey stops publishing the key with id.
func (p *TestProvider) RemoveKey(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := p.keys[:0]
	for _, k := range p.keys {
		if k.id != id {
			keys = append(keys, k)
		}
	}
	p.keys = keys
}

// KeyIDs returns the ids of the published keys, the signing key last.
func (p *TestProvider) KeyIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.keys))
	for _, k := range p.keys {
		ids = append(ids, k.id)
	}
	return ids
}

// RefreshCount returns how many refresh grants /token served successfully.
func (p *TestProvider) RefreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCount
}

// CodeCount returns how many authorization code grants /token served
// successfully.
func (p *TestProvider) CodeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codeCount
}

// LastClientAuth returns how the client authenticated on the last /token
// request.
func (p *TestProvider) LastClientAuth() ClientAuth {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastClientAuth
}

// IssueRefreshToken returns a refresh token /token will accept.
func (p *TestProvider) IssueRefreshToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.newRefreshTokenLocked()
}

// RevokeRefreshToken makes /token reject rt.
func (p *TestProvider) RevokeRefreshToken(rt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.refreshTokens, rt)
}

// SignIDToken signs an ID token for the configured client with the current
// signing key. claims override the defaults; a nil value removes one.
func (p *TestProvider) SignIDToken(claims map[string]any) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signLocked(p.merge(p.idTokenClaimsLocked(""), claims))
}

// SignLogoutToken signs a back-channel logout token with the current signing
// key. claims override the defaults, which carry the logout event but
// neither sid nor sub; a nil value removes one.
func (p *TestProvider) SignLogoutToken(claims map[string]any) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	base := map[string]any{
		"iss":    p.Addr(),
		"aud":    p.clientID,
		"iat":    now.Unix(),
		"exp":    now.Add(2 * time.Minute).Unix(),
		"jti":    fmt.Sprintf("logout-%d", now.UnixNano()),
		"typ":    jwt.TypeLogout,
		"events": map[string]any{jwt.BackChannelLogoutEvent: map[string]any{}},
	}
	return p.signLocked(p.merge(base, claims))
}

// WriteJWKS writes the published keys as a JWKS file in a temporary
// directory and returns its path.
func (p *TestProvider) WriteJWKS(t *testing.T) string {
	t.Helper()
	p.mu.Lock()
	data, err := json.Marshal(p.jwksLocked())
	p.mu.Unlock()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "jwks.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func (p *TestProvider) addKeyLocked() string {
	p.keySeq++
	k := testProviderKey{id: fmt.Sprintf("key-%d", p.keySeq), priv: TestGenerateKey(p.t)}
	p.keys = append(p.keys, k)
	return k.id
}

func (p *TestProvider) signLocked(claims map[string]any) string {
	require.NotEmpty(p.t, p.keys, "test provider has no signing key")
	k := p.keys[len(p.keys)-1]
	return TestSignJWT(p.t, k.priv, k.id, claims)
}

func (p *TestProvider) merge(base, overrides map[string]any) map[string]any {
	for k, v := range overrides {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	return base
}

func (p *TestProvider) idTokenClaimsLocked(accessToken string) map[string]any {
	now := time.Now()
	c := map[string]any{
		"iss":                p.Addr(),
		"aud":                p.clientID,
		"sub":                p.subject,
		"iat":                now.Unix(),
		"exp":                now.Add(p.idTokenTTL).Unix(),
		"email":              p.subject + "@example.com",
		"preferred_username": p.subject,
	}
	if p.sessionID != "" {
		c["sid"] = p.sessionID
	}
	if accessToken != "" {
		if h, err := jwt.AccessTokenHash(string(jose.ES256), accessToken); err == nil {
			c["at_hash"] = h
		}
	}
	return p.merge(c, p.customClaims)
}

func (p *TestProvider) newRefreshTokenLocked() string {
	p.tokenSeq++
	rt := fmt.Sprintf("refresh-%d", p.tokenSeq)
	p.refreshTokens[rt] = true
	return rt
}

func (p *TestProvider) jwksLocked() *jose.JSONWebKeySet {
	set := &jose.JSONWebKeySet{}
	for _, k := range p.keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       k.priv.Public(),
			KeyID:     k.id,
			Algorithm: string(jose.ES256),
			Use:       "sig",
		})
	}
	return set
}

func (p *TestProvider) discoveryLocked() map[string]any {
	d := map[string]any{
		"issuer":                                p.Addr(),
		"authorization_endpoint":                p.Addr() + "/auth",
		"token_endpoint":                        p.Addr() + "/token",
		"jwks_uri":                              p.Addr() + "/certs",
		"userinfo_endpoint":                     p.Addr() + "/userinfo",
		"end_session_endpoint":                  p.Addr() + "/logout",
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post"},
		"response_modes_supported":              []string{"query", "fragment", "form_post"},
		"id_token_signing_alg_values_supported": []string{string(jose.ES256)},
		"frontchannel_logout_supported":         true,
		"frontchannel_logout_session_supported": true,
		"backchannel_logout_supported":          true,
		"backchannel_logout_session_supported":  true,
	}
	if p.disableUserInfo {
		delete(d, "userinfo_endpoint")
	}
	return p.merge(d, p.discovery)
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	_ = p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if p.discoveryFailures > 0 {
			p.discoveryFailures--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = p.writeJSON(w, p.discoveryLocked())

	case "/auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		switch {
		case qv.Get("response_type") != "code":
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		case !strings.Contains(" "+qv.Get("scope")+" ", " openid "):
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		case qv.Get("state") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		case qv.Get("redirect_uri") == "":
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		redirectURI := qv.Get("redirect_uri") +
			"?state=" + url.QueryEscape(qv.Get("state")) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if p.keysFailures > 0 {
			p.keysFailures--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = p.writeJSON(w, p.jwksLocked())

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.serveToken(w, req)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		at := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !p.accessTokens[at] {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		reply := map[string]any{"sub": p.subject}
		for k, v := range p.userinfo {
			reply[k] = v
		}
		_ = p.writeJSON(w, reply)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	auth := ClientAuth{Method: "none", ClientID: req.PostForm.Get("client_id")}
	if id, secret, ok := req.BasicAuth(); ok {
		auth = ClientAuth{Method: "client_secret_basic", ClientID: id, ClientSecret: secret}
	} else if secret := req.PostForm.Get("client_secret"); secret != "" {
		auth = ClientAuth{Method: "client_secret_post", ClientID: auth.ClientID, ClientSecret: secret}
	}
	p.lastClientAuth = auth

	if p.tokenDelay > 0 {
		time.Sleep(p.tokenDelay)
	}
	if p.tokenStatus != 0 {
		p.writeTokenErrorResponse(w, p.tokenStatus, "server_error", "injected failure")
		return
	}
	if auth.ClientID != p.clientID || auth.ClientSecret != p.clientSecret {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "bad client credentials")
		return
	}

	var refreshToken string
	switch req.PostForm.Get("grant_type") {
	case "authorization_code":
		switch {
		case req.PostForm.Get("code") != p.expectedAuthCode:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
			return
		case len(p.allowedRedirectURIs) > 0 && !strutil.StrListContains(p.allowedRedirectURIs, req.PostForm.Get("redirect_uri")):
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		}
		p.codeCount++
		if p.issueRefreshTokens {
			refreshToken = p.newRefreshTokenLocked()
		}

	case "refresh_token":
		rt := req.PostForm.Get("refresh_token")
		if !p.refreshTokens[rt] {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "refresh token is not active")
			return
		}
		p.refreshCount++
		if p.rotateRefreshTokens {
			delete(p.refreshTokens, rt)
			refreshToken = p.newRefreshTokenLocked()
		}

	default:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}

	p.tokenSeq++
	accessToken := fmt.Sprintf("access-%d", p.tokenSeq)
	p.accessTokens[accessToken] = true

	reply := map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   int64(p.idTokenTTL.Seconds()),
	}
	if !p.omitIDToken {
		reply["id_token"] = p.signLocked(p.idTokenClaimsLocked(accessToken))
	}
	if refreshToken != "" {
		reply["refresh_token"] = refreshToken
		if p.refreshTTL > 0 {
			reply["refresh_expires_in"] = int64(p.refreshTTL.Seconds())
		}
	}
	_ = p.writeJSON(w, reply)
}
