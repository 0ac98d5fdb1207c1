package flows

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"

	"github.com/oidc-agent/agent/internal/accounts"
	"github.com/oidc-agent/agent/internal/agenterr"
	"github.com/oidc-agent/agent/internal/fetch"
)

// fakeStore is a minimal AccountAccessor backed by an in-memory map, used so
// flow tests don't need the real store's lock/encryption machinery.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]*accounts.Account
}

func newFakeStore(accts ...*accounts.Account) *fakeStore {
	s := &fakeStore{accounts: map[string]*accounts.Account{}}
	for _, a := range accts {
		s.accounts[a.Name] = a
	}
	return s
}

func (s *fakeStore) Account(name string) (*accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[name]
	if !ok {
		return nil, agenterr.New(agenterr.AccountNotFound, "no such account: "+name)
	}
	return a, nil
}

func (s *fakeStore) UpdateAccount(name string, mutate func(*accounts.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[name]
	if !ok {
		return agenterr.New(agenterr.AccountNotFound, "no such account: "+name)
	}
	mutate(a)
	return nil
}

// fakeResponse describes one canned response a fakeFetcher hands back, keyed
// by request order per endpoint.
type fakeResponse struct {
	status int
	body   any // marshaled to JSON; or []byte for raw bodies
	err    error
}

// fakeFetcher is an HTTPFetcher test double that replays canned responses
// for each endpoint URL, in call order, and records every request made.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string][]fakeResponse
	getCalls  []string
	postCalls []postCall
}

type postCall struct {
	url     string
	form    url.Values
	body    []byte
	headers map[string]string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: map[string][]fakeResponse{}}
}

func (f *fakeFetcher) enqueue(rawURL string, r fakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[rawURL] = append(f.responses[rawURL], r)
}

func (f *fakeFetcher) next(rawURL string) (*fetch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.responses[rawURL]
	if len(queue) == 0 {
		panic("fakeFetcher: no canned response queued for " + rawURL)
	}
	r := queue[0]
	f.responses[rawURL] = queue[1:]
	if r.err != nil {
		return nil, r.err
	}
	var body []byte
	switch v := r.body.(type) {
	case []byte:
		body = v
	case nil:
		body = []byte("{}")
	default:
		b, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		body = b
	}
	return &fetch.Response{StatusCode: r.status, Body: body}, nil
}

func (f *fakeFetcher) Get(ctx context.Context, rawURL string, headers map[string]string) (*fetch.Response, error) {
	f.mu.Lock()
	f.getCalls = append(f.getCalls, rawURL)
	f.mu.Unlock()
	return f.next(rawURL)
}

func (f *fakeFetcher) PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (*fetch.Response, error) {
	f.mu.Lock()
	f.postCalls = append(f.postCalls, postCall{url: rawURL, form: form, headers: headers})
	f.mu.Unlock()
	return f.next(rawURL)
}

func (f *fakeFetcher) PostJSON(ctx context.Context, rawURL string, body []byte, headers map[string]string) (*fetch.Response, error) {
	f.mu.Lock()
	f.postCalls = append(f.postCalls, postCall{url: rawURL, body: body, headers: headers})
	f.mu.Unlock()
	return f.next(rawURL)
}

const testIssuer = "https://issuer.example.com"
const testDiscoveryURL = testIssuer + "/.well-known/openid-configuration"

func testDiscoveryDoc() map[string]any {
	return map[string]any{
		"issuer":                        testIssuer,
		"authorization_endpoint":        testIssuer + "/authorize",
		"token_endpoint":                testIssuer + "/token",
		"device_authorization_endpoint": testIssuer + "/device",
		"jwks_uri":                      testIssuer + "/jwks",
		"registration_endpoint":         testIssuer + "/register",
	}
}

func testDiscoveryDocument() *accounts.DiscoveryDocument {
	return &accounts.DiscoveryDocument{
		Issuer:                      testIssuer,
		AuthorizationEndpoint:       testIssuer + "/authorize",
		TokenEndpoint:               testIssuer + "/token",
		DeviceAuthorizationEndpoint: testIssuer + "/device",
		JWKSURI:                     testIssuer + "/jwks",
		RegistrationEndpoint:        testIssuer + "/register",
	}
}

func testAccount(name string) *accounts.Account {
	return &accounts.Account{
		Name:         name,
		IssuerURL:    testIssuer,
		ClientID:     "client-" + name,
		Scope:        "openid",
		RedirectURIs: []string{"http://127.0.0.1:9999/callback"},
	}
}
