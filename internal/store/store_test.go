package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidc-agent/agent/internal/accounts"
	"github.com/oidc-agent/agent/internal/agenterr"
	"github.com/oidc-agent/agent/internal/secure"
	"github.com/oidc-agent/agent/internal/tokencache"
)

func testAccount(name string) *accounts.Account {
	return &accounts.Account{
		Name:      name,
		IssuerURL: "https://issuer.example.com",
		ClientID:  "client-" + name,
		Scope:     "openid",
	}
}

func TestAddGetList(t *testing.T) {
	s := New(tokencache.New())
	require.NoError(t, s.Add(testAccount("a"), 0, false))
	require.NoError(t, s.Add(testAccount("b"), 0, false))

	assert.Equal(t, []string{"a", "b"}, s.List())

	la, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", la.Account.Name)

	_, err = s.Get("missing")
	require.Error(t, err)
	assert.Equal(t, agenterr.AccountNotFound, agenterr.KindOf(err))
}

func TestAddRejectsInvalidAccount(t *testing.T) {
	s := New(tokencache.New())
	err := s.Add(&accounts.Account{}, 0, false)
	require.Error(t, err)
	assert.Equal(t, agenterr.ArgInvalid, agenterr.KindOf(err))
}

func TestRemoveWipesSecrets(t *testing.T) {
	s := New(tokencache.New())
	acct := testAccount("a")
	acct.RefreshToken = "super-secret-refresh-token"
	require.NoError(t, s.Add(acct, 0, false))

	require.NoError(t, s.Remove("a"))
	assert.Empty(t, acct.RefreshToken, "Remove must zero the account's secrets in place")

	_, err := s.Get("a")
	assert.Equal(t, agenterr.AccountNotFound, agenterr.KindOf(err))
}

func TestRemoveAllClearsEveryAccount(t *testing.T) {
	s := New(tokencache.New())
	require.NoError(t, s.Add(testAccount("a"), 0, false))
	require.NoError(t, s.Add(testAccount("b"), 0, false))

	require.NoError(t, s.RemoveAll())
	assert.Empty(t, s.List())
}

func TestLifetimeExpirySweepsAccount(t *testing.T) {
	s := New(tokencache.New())
	require.NoError(t, s.Add(testAccount("short"), 10*time.Millisecond, false))

	time.Sleep(20 * time.Millisecond)
	s.Sweep()

	_, err := s.Get("short")
	assert.Equal(t, agenterr.AccountNotFound, agenterr.KindOf(err))
}

func TestListAlsoSweepsExpiredAccounts(t *testing.T) {
	s := New(tokencache.New())
	require.NoError(t, s.Add(testAccount("short"), 10*time.Millisecond, false))
	require.NoError(t, s.Add(testAccount("long"), 0, false))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"long"}, s.List())
}

func TestOperationsFailWhileLocked(t *testing.T) {
	s := New(tokencache.New())
	require.NoError(t, s.Add(testAccount("a"), 0, false))

	pw := secure.NewFromString("store password")
	defer pw.Release()
	require.NoError(t, s.Lock(pw))
	assert.True(t, s.Locked())

	_, err := s.Get("a")
	assert.Equal(t, agenterr.StoreLocked, agenterr.KindOf(err))

	err = s.Add(testAccount("b"), 0, false)
	assert.Equal(t, agenterr.StoreLocked, agenterr.KindOf(err))
}

func TestLockUnlockRoundTripsAccounts(t *testing.T) {
	s := New(tokencache.New())
	acct := testAccount("a")
	acct.RefreshToken = "rt-123"
	require.NoError(t, s.Add(acct, 0, false))

	pw := secure.NewFromString("store password")
	defer pw.Release()
	require.NoError(t, s.Lock(pw))
	require.NoError(t, s.Unlock(pw))

	assert.False(t, s.Locked())
	la, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "rt-123", la.Account.RefreshToken)
}

func TestUnlockWrongPasswordIncrementsFailureCount(t *testing.T) {
	s := New(tokencache.New())
	require.NoError(t, s.Add(testAccount("a"), 0, false))

	pw := secure.NewFromString("correct")
	defer pw.Release()
	wrong := secure.NewFromString("incorrect")
	defer wrong.Release()

	require.NoError(t, s.Lock(pw))

	err := s.Unlock(wrong)
	require.Error(t, err)
	assert.Equal(t, agenterr.PasswordWrong, agenterr.KindOf(err))
	assert.True(t, s.Locked())

	require.NoError(t, s.Unlock(pw))
	assert.False(t, s.Locked())
}

func TestUnlockBackoffAfterRepeatedFailures(t *testing.T) {
	s := New(tokencache.New())
	require.NoError(t, s.Add(testAccount("a"), 0, false))

	pw := secure.NewFromString("correct")
	defer pw.Release()
	wrong := secure.NewFromString("incorrect")
	defer wrong.Release()
	require.NoError(t, s.Lock(pw))

	for i := 0; i < unlockFailureThreshold; i++ {
		_ = s.Unlock(wrong)
	}

	start := time.Now()
	_ = s.Unlock(wrong)
	assert.GreaterOrEqual(t, time.Since(start), unlockBackoff)
}

func TestUpdateAccountMutatesInPlace(t *testing.T) {
	s := New(tokencache.New())
	require.NoError(t, s.Add(testAccount("a"), 0, false))

	require.NoError(t, s.UpdateAccount("a", func(a *accounts.Account) {
		a.RefreshToken = "rotated"
	}))

	la, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "rotated", la.Account.RefreshToken)
}
