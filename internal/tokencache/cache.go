// Package tokencache implements TokenCache (spec §4.6): per-account cached
// access tokens with a freshness policy, and single-flight coalescing of
// concurrent cache-miss requests.
//
// Coalescing is golang.org/x/sync/singleflight keyed by account name alone:
// spec §4.6 caps in-flight upstream requests at one per account, so two
// concurrent misses for the same account share a single upstream call even
// if they request different scopes.
package tokencache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultMinValid is the minimum remaining lifetime (spec §4.6 "default 60
// seconds") a cached token must have to be served without refreshing.
const DefaultMinValid = 60 * time.Second

// Entry is the cached access token for one account (spec §3 "token_cache
// slot"). The token itself is an *oauth2.Token rather than a bespoke
// access-token/expiry pair, so it carries the same shape OIDCFlows' refresh
// and client-credentials grants already traffic in upstream.
type Entry struct {
	Token     *oauth2.Token
	Scopes    map[string]struct{}
	Audiences map[string]struct{}
}

func scopeSet(scopes []string) map[string]struct{} {
	m := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		m[s] = struct{}{}
	}
	return m
}

func supersetOf(have, want map[string]struct{}) bool {
	for w := range want {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}

// fresh reports whether e satisfies spec §4.6's serve-from-cache condition
// against the requested scopes/audiences and minValid.
func (e *Entry) fresh(scopes, audiences []string, minValid time.Duration, now time.Time) bool {
	if e == nil {
		return false
	}
	if !supersetOf(e.Scopes, scopeSet(scopes)) {
		return false
	}
	if !supersetOf(e.Audiences, scopeSet(audiences)) {
		return false
	}
	if e.Token == nil || e.Token.AccessToken == "" {
		return false
	}
	return e.Token.Expiry.Sub(now) >= minValid
}

// Fetcher performs the actual upstream token acquisition (a refresh, device,
// password, or client-credentials flow) when the cache misses. It is called
// with at most one concurrent invocation per account (spec §4.6
// "coalesce").
type Fetcher func(ctx context.Context, scopes, audiences []string) (*Entry, error)

// Cache is TokenCache.
type Cache struct {
	MinValid time.Duration

	mu      sync.Mutex
	entries map[string]*Entry
	group   singleflight.Group
}

// New builds a Cache with the default freshness window.
func New() *Cache {
	return &Cache{MinValid: DefaultMinValid, entries: map[string]*Entry{}}
}

// Get returns a fresh cached access token for account, fetching via fetch
// on a miss. Concurrent Get calls for the same account with a cache miss
// coalesce into a single call to fetch (spec §8 property 6); all callers
// observe the same result, success or failure.
func (c *Cache) Get(ctx context.Context, account string, scopes, audiences []string, fetch Fetcher) (*Entry, error) {
	now := time.Now()

	c.mu.Lock()
	e, ok := c.entries[account]
	c.mu.Unlock()
	if ok && e.fresh(scopes, audiences, c.MinValid, now) {
		return e, nil
	}

	// Keyed by account alone: spec §4.6 caps in-flight upstream requests at
	// one per account, not one per (account, scope, audience) combination.
	v, err, _ := c.group.Do(account, func() (interface{}, error) {
		return fetch(ctx, scopes, audiences)
	})
	if err != nil {
		return nil, err
	}
	result := v.(*Entry)

	c.mu.Lock()
	c.entries[account] = result
	c.mu.Unlock()

	return result, nil
}

// Invalidate drops any cached entry for account, used when the account's
// refresh token is revoked or the account is removed.
func (c *Cache) Invalidate(account string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, account)
}

// Set stores e directly, used right after a flow completes outside of Get's
// fetch callback (the device_done and code_exchange handlers store the
// tokens a finished flow returned).
func (c *Cache) Set(account string, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[account] = e
}
