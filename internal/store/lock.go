package store

import (
	"encoding/json"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/oidc-agent/agent/internal/accounts"
	"github.com/oidc-agent/agent/internal/agenterr"
	"github.com/oidc-agent/agent/internal/crypto"
	"github.com/oidc-agent/agent/internal/logger"
	"github.com/oidc-agent/agent/internal/secure"
)

// keyringService/keyringUser identify the OS keychain entry used to mirror
// the unlock password, letting a recurring unlock skip the prompt (spec §9
// ambient convenience; never required, since a system without a usable
// keychain backend must still be able to lock/unlock by password alone).
const (
	keyringService = "oidc-agent"
	keyringUser    = "unlock-password"
)

// unlockBackoff is the per-attempt delay imposed once failedUnlocks reaches
// unlockFailureThreshold (spec §4.7 "after 3 consecutive failures, the
// process imposes a 5-second delay per attempt").
const (
	unlockFailureThreshold = 3
	unlockBackoff          = 5 * time.Second
)

// snapshot is the plaintext payload sealed under the lock key: the full set
// of loaded accounts, serialized so Unlock can restore them verbatim.
type snapshot struct {
	Accounts []*accounts.Account `json:"accounts"`
	Order    []string            `json:"order"`
}

// Lock derives a key from password, re-encrypts every loaded account's
// in-memory state under that key, wipes the plaintext accounts map, and
// sets locked = true (spec §4.7 "lock"). While locked, Add, Remove,
// RemoveAll, Get, Account and UpdateAccount fail with store_locked; List and
// Names return nothing and Sweep does nothing.
func (s *Store) Lock(password *secure.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return nil
	}

	snap := snapshot{Order: append([]string(nil), s.order...)}
	for _, name := range s.order {
		snap.Accounts = append(snap.Accounts, s.accounts[name].Account)
	}
	plain, err := json.Marshal(snap)
	if err != nil {
		return agenterr.Wrap(agenterr.Internal, "marshal accounts for lock", err)
	}
	defer secure.Zero(plain)

	sealed, err := crypto.Encrypt(plain, password)
	if err != nil {
		return err
	}
	cipher, err := json.Marshal(sealed)
	if err != nil {
		return agenterr.Wrap(agenterr.Internal, "marshal sealed accounts", err)
	}

	hashSealed, err := crypto.Encrypt([]byte(lockVerifier), password)
	if err != nil {
		return err
	}
	hashBytes, err := json.Marshal(hashSealed)
	if err != nil {
		return agenterr.Wrap(agenterr.Internal, "marshal lock verifier", err)
	}

	for _, la := range s.accounts {
		wipeAccount(la.Account)
	}
	s.accounts = map[string]*LoadedAccount{}
	s.order = nil
	s.lockedBlob = cipher
	s.lockVerifierBlob = hashBytes
	s.locked = true

	if err := keyring.Set(keyringService, keyringUser, password.String()); err != nil {
		logger.Debugf("keyring mirror of unlock password unavailable: %v", err)
	}
	return nil
}

// lockVerifier is the fixed plaintext sealed alongside the account snapshot
// so Unlock can detect a wrong password (mac_mismatch from crypto.Decrypt)
// without first needing to json.Unmarshal a possibly-garbage snapshot.
const lockVerifier = "oidc-agent-lock-verifier-v1"

// Unlock verifies password against the stored verifier and, on success,
// decrypts and restores the account snapshot (spec §4.7 "unlock"). A wrong
// password increments failedUnlocks; once the threshold is reached, callers
// are delayed unlockBackoff before the verification even runs.
func (s *Store) Unlock(password *secure.Buffer) error {
	s.mu.Lock()
	if !s.locked {
		s.mu.Unlock()
		return nil
	}
	if s.failedUnlocks >= unlockFailureThreshold {
		s.mu.Unlock()
		time.Sleep(unlockBackoff)
		s.mu.Lock()
	}
	defer s.mu.Unlock()

	var verifierSealed crypto.Sealed
	if err := json.Unmarshal(s.lockVerifierBlob, &verifierSealed); err != nil {
		return agenterr.Wrap(agenterr.Internal, "unmarshal lock verifier", err)
	}
	verifierPlain, err := crypto.Decrypt(&verifierSealed, password)
	if err != nil || string(verifierPlain) != lockVerifier {
		s.failedUnlocks++
		return agenterr.New(agenterr.PasswordWrong, "incorrect unlock password")
	}

	var sealed crypto.Sealed
	if err := json.Unmarshal(s.lockedBlob, &sealed); err != nil {
		return agenterr.Wrap(agenterr.Internal, "unmarshal locked accounts", err)
	}
	plain, err := crypto.Decrypt(&sealed, password)
	if err != nil {
		s.failedUnlocks++
		return agenterr.New(agenterr.PasswordWrong, "incorrect unlock password")
	}
	defer secure.Zero(plain)

	var snap snapshot
	if err := json.Unmarshal(plain, &snap); err != nil {
		return agenterr.Wrap(agenterr.Internal, "unmarshal account snapshot", err)
	}

	s.accounts = map[string]*LoadedAccount{}
	for _, a := range snap.Accounts {
		s.accounts[a.Name] = &LoadedAccount{Account: a, LoadedAt: time.Now()}
	}
	s.order = snap.Order
	s.lockedBlob = nil
	s.lockVerifierBlob = nil
	s.locked = false
	s.failedUnlocks = 0

	if err := keyring.Delete(keyringService, keyringUser); err != nil {
		logger.Debugf("keyring unlock-password entry not cleared: %v", err)
	}
	return nil
}

// UnlockFromKeyring attempts to unlock using a password previously mirrored
// into the OS keychain by Lock, so a recurring unlock can skip prompting.
// Returns false without error if the store isn't locked or no keyring entry
// exists; a genuinely wrong cached password still surfaces password_wrong.
func (s *Store) UnlockFromKeyring() (bool, error) {
	if !s.Locked() {
		return false, nil
	}
	pw, err := keyring.Get(keyringService, keyringUser)
	if err != nil {
		return false, nil
	}
	buf := secure.NewFromString(pw)
	defer buf.Release()
	if err := s.Unlock(buf); err != nil {
		return false, err
	}
	return true, nil
}

// Locked reports whether the store is currently locked.
func (s *Store) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}
