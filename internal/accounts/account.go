// Package accounts implements the AccountModel described in spec §4.3: a
// JSON-serializable document describing one OIDC account configuration.
package accounts

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/oidc-agent/agent/internal/agenterr"
)

// DeviceAuthorizationState is the cached state from an in-progress or
// completed device-code flow, kept on the account so a restart can resume
// polling (spec §3 "cached device-authorization state").
type DeviceAuthorizationState struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	IntervalSeconds         int    `json:"interval"`
	ExpiresInSeconds        int    `json:"expires_in"`
}

// SigningJWK is the account's registered private signing key, used for
// private_key_jwt client authentication (spec §4.4). Stored as the raw JWK
// JSON text; JwkKeyring is responsible for parsing/using it.
type SigningJWK struct {
	JSON string `json:"jwk"`
}

// DiscoveryDocument is the subset of an OIDC discovery document the core
// needs, cached on the account once fetched (spec §3 "issuer discovery
// document (optional, cached)").
type DiscoveryDocument struct {
	Issuer                      string   `json:"issuer"`
	AuthorizationEndpoint       string   `json:"authorization_endpoint"`
	TokenEndpoint               string   `json:"token_endpoint"`
	DeviceAuthorizationEndpoint string   `json:"device_authorization_endpoint,omitempty"`
	JWKSURI                     string   `json:"jwks_uri"`
	RegistrationEndpoint        string   `json:"registration_endpoint,omitempty"`
	UserinfoEndpoint            string   `json:"userinfo_endpoint,omitempty"`
	ScopesSupported             []string `json:"scopes_supported,omitempty"`
	GrantTypesSupported         []string `json:"grant_types_supported,omitempty"`
}

// JWKS is the cached issuer key set (spec §3 "issuer JWKS (optional,
// cached)"). Keys are kept as raw JSON objects; JwkKeyring parses them on
// demand so a key this account never uses doesn't need to round-trip
// through a typed representation.
type JWKS struct {
	Keys []json.RawMessage `json:"keys"`
}

// Account is the in-memory and on-disk representation of one account
// configuration (spec §4.3). JSON field names match the spec exactly so a
// saved file is a direct, auditable JSON document once decrypted.
type Account struct {
	Name         string   `json:"name"`
	IssuerURL    string   `json:"issuer_url"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Scope        string   `json:"scope"`
	RedirectURIs []string `json:"redirect_uris"`

	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint,omitempty"`
	CertPath                    string `json:"cert_path,omitempty"`
	DaeSetByUser                bool   `json:"daesetbyuser,omitempty"`

	SigningJWK *SigningJWK `json:"signing_jwk,omitempty"`

	DeviceAuth *DeviceAuthorizationState `json:"device_auth,omitempty"`

	RegistrationAccessToken string `json:"registration_access_token,omitempty"`
	RegistrationEndpoint    string `json:"registration_endpoint,omitempty"`

	Discovery *DiscoveryDocument `json:"discovery,omitempty"`
	Issuer    *JWKS              `json:"jwks,omitempty"`
}

// Scopes splits the space-separated Scope field into its component scopes.
func (a *Account) Scopes() []string {
	if a.Scope == "" {
		return nil
	}
	return strings.Fields(a.Scope)
}

// SetScopes rebuilds Scope from a list, de-duplicating (spec §4.3 invariant:
// "scope contains no duplicates").
func (a *Account) SetScopes(scopes []string) {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	a.Scope = strings.Join(out, " ")
}

// IsConfidential reports whether the account is a confidential client
// (spec §3 invariant: "either client_secret or signing_jwk must be present
// for a confidential client; public clients have neither").
func (a *Account) IsConfidential() bool {
	return a.ClientSecret != "" || a.SigningJWK != nil
}

// HasLoopbackRedirect reports whether at least one redirect URI is a
// localhost loopback form, required before authorization-code flow may be
// used (spec §4.3 invariant).
func (a *Account) HasLoopbackRedirect() bool {
	for _, raw := range a.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return true
		}
	}
	return false
}

// Validate checks the invariants spec §4.3 names. It does not check
// HasLoopbackRedirect, since that invariant is conditional on whether
// authorization-code flow will ever be used and is instead enforced by
// OIDCFlows when that flow is actually initiated.
func (a *Account) Validate() error {
	if a.Name == "" {
		return agenterr.New(agenterr.ArgInvalid, "account name must not be empty")
	}
	if a.IssuerURL == "" {
		return agenterr.New(agenterr.ArgInvalid, "issuer_url must not be empty")
	}
	seen := make(map[string]struct{}, len(a.Scopes()))
	for _, s := range a.Scopes() {
		if _, ok := seen[s]; ok {
			return agenterr.New(agenterr.ArgInvalid, "scope contains duplicate entry: "+s)
		}
		seen[s] = struct{}{}
	}
	return nil
}

// Clone deep-copies an account, including its slice and pointer fields, so
// callers can mutate a snapshot (e.g. before sealing it for Lock) without
// racing the live copy in the store.
func (a *Account) Clone() *Account {
	cp := *a
	cp.RedirectURIs = append([]string(nil), a.RedirectURIs...)
	if a.SigningJWK != nil {
		jwk := *a.SigningJWK
		cp.SigningJWK = &jwk
	}
	if a.Discovery != nil {
		d := *a.Discovery
		cp.Discovery = &d
	}
	if a.Issuer != nil {
		j := *a.Issuer
		j.Keys = append([]json.RawMessage(nil), a.Issuer.Keys...)
		cp.Issuer = &j
	}
	if a.DeviceAuth != nil {
		d := *a.DeviceAuth
		cp.DeviceAuth = &d
	}
	return &cp
}
