// Package flows implements OIDCFlows (spec §4.5): the state machines for
// each grant type, discovery caching, and client-authentication selection.
// Grounded on the teacher's pkg/auth/oauth (discovery, dynamic
// registration, PKCE) and pkg/auth/remote (persisted/coalesced token
// sources), generalized from "proxy fetches a token for an MCP backend" to
// "agent fetches a token on behalf of a named account".
package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/oidc-agent/agent/internal/accounts"
	"github.com/oidc-agent/agent/internal/agenterr"
	"github.com/oidc-agent/agent/internal/fetch"
	"github.com/oidc-agent/agent/internal/jwk"
	"github.com/oidc-agent/agent/internal/logger"
)

// GrantType names the grant in progress for a FlowContext.
type GrantType string

const (
	GrantRefreshToken      GrantType = "refresh_token"
	GrantDeviceCode        GrantType = "device_code"
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantPassword          GrantType = "password"
	GrantClientCredentials GrantType = "client_credentials"
)

// State names a FlowContext's position in its grant's state machine
// (spec §4.5 per-flow state lists).
type State string

const (
	StateReady            State = "ready"
	StatePosting          State = "posting"
	StateInit             State = "init"
	StateAuthorizing      State = "authorizing"
	StatePolling          State = "polling"
	StateAwaitingCallback State = "awaiting_callback"
	StateExchanging       State = "exchanging"
	StateDone             State = "done"
	StateFailed           State = "failed"
	StateTimeout          State = "timeout"
)

// TokenResult is what a successful flow produces: the fields TokenCache and
// AccountStore need to update the account (spec §4.5 "common postamble").
type TokenResult struct {
	AccessToken  string
	RefreshToken string // empty if the endpoint did not rotate it
	IDToken      string // empty unless the grant returned one (authorization_code's common case)
	ExpiresIn    time.Duration
	Scope        string
	TokenType    string
}

// OAuth2Token renders the result as an *oauth2.Token, the shape TokenCache
// stores its entries in.
func (r *TokenResult) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: r.AccessToken,
		TokenType:   r.TokenType,
		Expiry:      time.Now().Add(r.ExpiresIn),
	}
}

// Context is a FlowContext (spec §3): the transient state of one in-flight
// grant. Context is owned exclusively by Flows and is not safe for
// concurrent use from outside it.
type Context struct {
	ID        string
	Grant     GrantType
	State     State
	Account   string // account name; a non-owning reference per spec §3
	CreatedAt time.Time
	Deadline  time.Time

	// PKCE
	CodeVerifier  string
	CodeChallenge string

	// device code
	DeviceCode      string
	UserCode        string
	VerificationURI string
	PollInterval    time.Duration

	// authorization code
	AuthCode    string
	State_      string // CSRF state, named with trailing underscore to avoid shadowing Context.State
	RedirectURI string

	cancel context.CancelFunc
}

// Cancel releases the FlowContext: it is removed from Flows' bookkeeping and
// its sensitive fields are cleared. Called when a flow finishes or fails,
// on account removal, and on store lock, remove_all or shutdown (spec §4.5
// "Cancellation"). A device flow past its deadline is finished by the next
// DevicePoll. Closing the IPC connection that started a flow does not
// cancel it.
func (c *Context) Cancel() {
	if c.cancel != nil {
		c.cancel()
	}
	c.CodeVerifier = ""
	c.AuthCode = ""
	c.DeviceCode = ""
}

// AccountAccessor is the narrow view Flows needs of an account, supplied by
// AccountStore, so flows depends only on this interface and on accounts
// (for discovery/JWKS caching), never on the store package; tests supply an
// in-memory fake.
type AccountAccessor interface {
	Account(name string) (*accounts.Account, error)
	UpdateAccount(name string, mutate func(*accounts.Account)) error
}

// Flows is OIDCFlows: it owns in-flight FlowContexts and executes each
// grant's state machine against an HTTPFetcher.
type Flows struct {
	Fetcher fetch.HTTPFetcher
	Store   AccountAccessor

	jwksCache *jwk.JWKSCache
	contexts  map[string]*Context
}

// New builds a Flows instance.
func New(fetcher fetch.HTTPFetcher, store AccountAccessor) *Flows {
	return &Flows{
		Fetcher:   fetcher,
		Store:     store,
		jwksCache: jwk.NewJWKSCache(),
		contexts:  make(map[string]*Context),
	}
}

// newContext registers and returns a new FlowContext with the given
// deadline relative to now.
func (f *Flows) newContext(ctx context.Context, grant GrantType, account string, timeout time.Duration) (*Context, context.Context) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	fc := &Context{
		ID:        uuid.NewString(),
		Grant:     grant,
		State:     StateInit,
		Account:   account,
		CreatedAt: time.Now(),
		Deadline:  time.Now().Add(timeout),
		cancel:    cancel,
	}
	f.contexts[fc.ID] = fc
	return fc, cctx
}

func (f *Flows) finish(fc *Context) {
	delete(f.contexts, fc.ID)
	fc.Cancel()
}

// Get returns the FlowContext with the given id, or account_gone/not-found
// via ok=false if it has already completed or been cancelled.
func (f *Flows) Get(id string) (*Context, bool) {
	fc, ok := f.contexts[id]
	return fc, ok
}

// CancelAccount cancels and removes every FlowContext for the named
// account, used when the account is removed or the store locks mid-flow
// (spec §3 "FlowContext... fails with account_gone").
func (f *Flows) CancelAccount(name string) {
	for id, fc := range f.contexts {
		if fc.Account == name {
			fc.Cancel()
			delete(f.contexts, id)
		}
	}
}

// CancelAll cancels every in-flight FlowContext, used on agent shutdown.
func (f *Flows) CancelAll() {
	for id, fc := range f.contexts {
		fc.Cancel()
		delete(f.contexts, id)
	}
}

// ensureDiscovery makes sure acct.Discovery is populated, fetching
// <issuer>/.well-known/openid-configuration if not cached yet (spec §4.5
// "common preamble").
func (f *Flows) ensureDiscovery(ctx context.Context, acct *accounts.Account) (*accounts.DiscoveryDocument, error) {
	if acct.Discovery != nil {
		return acct.Discovery, nil
	}
	doc, err := f.discover(ctx, acct.IssuerURL)
	if err != nil {
		return nil, err
	}
	if err := f.Store.UpdateAccount(acct.Name, func(a *accounts.Account) {
		a.Discovery = doc
	}); err != nil {
		return nil, err
	}
	acct.Discovery = doc
	return doc, nil
}

func (f *Flows) discover(ctx context.Context, issuer string) (*accounts.DiscoveryDocument, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.ArgInvalid, "invalid issuer URL", err)
	}
	u.Path = path.Join(u.Path, ".well-known", "openid-configuration")

	resp, err := f.Fetcher.Get(ctx, u.String(), map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, agenterr.New(agenterr.UpstreamError, fmt.Sprintf("discovery endpoint returned HTTP %d", resp.StatusCode))
	}
	var doc accounts.DiscoveryDocument
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, agenterr.Wrap(agenterr.UpstreamError, "invalid discovery document", err)
	}
	if doc.Issuer != "" && strings.TrimSuffix(doc.Issuer, "/") != strings.TrimSuffix(issuer, "/") {
		logger.Warnf("discovery document issuer %q does not match configured issuer %q", doc.Issuer, issuer)
	}
	return &doc, nil
}

// verifyIDToken checks an id_token returned alongside an access token, when
// the grant returned one (spec §4.5's authorization_code postamble): it
// resolves the issuer's JWKS through jwksCache (registering it for
// background auto-refresh on first use) and validates the JWS signature
// plus iss/aud. A grant that returns no id_token (refresh, client
// credentials, most device-code providers) skips this entirely.
func (f *Flows) verifyIDToken(ctx context.Context, acct *accounts.Account, doc *accounts.DiscoveryDocument, idToken string) error {
	if idToken == "" {
		return nil
	}
	jwks, err := f.jwksCache.Lookup(ctx, doc.JWKSURI)
	if err != nil {
		return err
	}
	_, err = jwk.VerifyIDToken(idToken, jwks, doc.Issuer, acct.ClientID)
	return err
}

// clientAuth selects the client authentication method per spec §4.5
// "Client authentication selection" and returns the form fields to add and
// the headers to set.
func clientAuth(acct *accounts.Account, tokenEndpoint string) (form map[string]string, headers map[string]string, err error) {
	form = map[string]string{}
	headers = map[string]string{}

	switch {
	case acct.SigningJWK != nil:
		key, ierr := jwk.ImportJWK([]byte(acct.SigningJWK.JSON))
		if ierr != nil {
			return nil, nil, ierr
		}
		claims := jwk.BuildClientAssertionClaims(acct.ClientID, tokenEndpoint)
		assertion, serr := jwk.SignJWT(key, claims)
		if serr != nil {
			return nil, nil, serr
		}
		form["client_assertion_type"] = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
		form["client_assertion"] = assertion
		return form, headers, nil

	case acct.ClientSecret != "":
		headers["Authorization"] = basicAuth(acct.ClientID, acct.ClientSecret)
		return form, headers, nil

	default:
		form["client_id"] = acct.ClientID
		return form, headers, nil
	}
}

func basicAuth(user, pass string) string {
	return "Basic " + basicEncode(user, pass)
}
