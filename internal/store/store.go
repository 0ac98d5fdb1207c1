// Package store implements AccountStore (spec §4.7): the set of loaded
// accounts, their lifetimes, and the lock/unlock lifecycle.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/oidc-agent/agent/internal/accounts"
	"github.com/oidc-agent/agent/internal/agenterr"
	"github.com/oidc-agent/agent/internal/logger"
	"github.com/oidc-agent/agent/internal/secure"
	"github.com/oidc-agent/agent/internal/tokencache"
)

// LoadedAccount is an Account plus the bookkeeping spec §3 describes:
// loaded_at, optional expiry, confirmation policy, and a token cache slot
// (the slot itself lives in the shared tokencache.Cache keyed by name,
// rather than embedded here, since TokenCache already owns per-account
// coalescing; LoadedAccount only needs to know whether one exists).
type LoadedAccount struct {
	Account   *accounts.Account
	LoadedAt  time.Time
	ExpiresAt *time.Time
	Confirm   bool
}

// Store is AccountStore.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*LoadedAccount
	order    []string

	// locked accounts are held sealed in lockedBlob/lockVerifierBlob
	// (spec §4.7 "re-encrypting each account's in-memory secrets with the
	// lock key"); accounts and order are empty while locked.
	locked           bool
	lockedBlob       []byte
	lockVerifierBlob []byte
	failedUnlocks    int

	cache *tokencache.Cache
}

// New builds an empty, unlocked Store.
func New(cache *tokencache.Cache) *Store {
	return &Store{accounts: map[string]*LoadedAccount{}, cache: cache}
}

// Add loads an account into the store (spec §4.7 "add"). Replaces any
// existing entry with the same name. Requires the store to be unlocked.
func (s *Store) Add(acct *accounts.Account, lifetime time.Duration, confirm bool) error {
	if err := acct.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return agenterr.New(agenterr.StoreLocked, "cannot add an account while the store is locked")
	}

	la := &LoadedAccount{Account: acct, LoadedAt: time.Now(), Confirm: confirm}
	if lifetime > 0 {
		exp := time.Now().Add(lifetime)
		la.ExpiresAt = &exp
	}

	if _, exists := s.accounts[acct.Name]; !exists {
		s.order = append(s.order, acct.Name)
	}
	s.accounts[acct.Name] = la
	return nil
}

// Remove removes one account by name and zeros its secrets.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return agenterr.New(agenterr.StoreLocked, "store is locked")
	}
	if _, ok := s.accounts[name]; !ok {
		return agenterr.New(agenterr.AccountNotFound, "no such account: "+name)
	}
	s.removeLocked(name)
	return nil
}

func (s *Store) removeLocked(name string) {
	if la, ok := s.accounts[name]; ok {
		wipeAccount(la.Account)
	}
	delete(s.accounts, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.cache != nil {
		s.cache.Invalidate(name)
	}
}

// RemoveAll removes every account (spec §8 property "S2").
func (s *Store) RemoveAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return agenterr.New(agenterr.StoreLocked, "store is locked")
	}
	for name := range s.accounts {
		s.removeLocked(name)
	}
	return nil
}

// List returns the names of all currently loaded, non-expired accounts in
// insertion order (spec §3 "insertion order preserved for listing").
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepExpiredLocked()
	out := make([]string, 0, len(s.order))
	out = append(out, s.order...)
	return out
}

// Get returns the LoadedAccount for name, failing with store_locked or
// account_not_found as appropriate (spec §4.7 "get").
func (s *Store) Get(name string) (*LoadedAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return nil, agenterr.New(agenterr.StoreLocked, "store is locked")
	}
	s.sweepExpiredLocked()
	la, ok := s.accounts[name]
	if !ok {
		return nil, agenterr.New(agenterr.AccountNotFound, "no such account: "+name)
	}
	return la, nil
}

// sweepExpiredLocked removes any account whose lifetime has elapsed. Called
// with s.mu held; also invoked through Sweep on AgentLoop's one-second ticker so
// expiry is observed even without a concurrent request (spec §4.7
// "a background sweeper removes the account and zeros its secrets").
func (s *Store) sweepExpiredLocked() {
	now := time.Now()
	for _, name := range append([]string(nil), s.order...) {
		la := s.accounts[name]
		if la.ExpiresAt != nil && !now.Before(*la.ExpiresAt) {
			s.removeLocked(name)
		}
	}
}

// Sweep runs the expiry sweep under lock; exported for AgentLoop's timer.
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return
	}
	s.sweepExpiredLocked()
}

// UpdateAccount mutates the named account's fields under lock. Used by
// flows.AccountAccessor to write discovery/JWKS caches and rotated refresh
// tokens back into the store.
func (s *Store) UpdateAccount(name string, mutate func(*accounts.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return agenterr.New(agenterr.StoreLocked, "store is locked")
	}
	la, ok := s.accounts[name]
	if !ok {
		return agenterr.New(agenterr.AccountNotFound, "no such account: "+name)
	}
	mutate(la.Account)
	return nil
}

// Account implements flows.AccountAccessor.
func (s *Store) Account(name string) (*accounts.Account, error) {
	la, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	return la.Account, nil
}

// Names returns a sorted copy of List(), convenient for deterministic
// IPC "list" responses in tests.
func (s *Store) Names() []string {
	names := s.List()
	sort.Strings(names)
	return names
}

func wipeAccount(a *accounts.Account) {
	secure.Zero([]byte(a.RefreshToken))
	a.RefreshToken = ""
	secure.Zero([]byte(a.ClientSecret))
	a.ClientSecret = ""
	if a.SigningJWK != nil {
		secure.Zero([]byte(a.SigningJWK.JSON))
		a.SigningJWK = nil
	}
	logger.Debugf("wiped secrets for account %q", a.Name)
}
