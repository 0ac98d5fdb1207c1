package flows

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidc-agent/agent/internal/agenterr"
)

func TestAuthCodeInitBuildsAuthorizationURLWithPKCE(t *testing.T) {
	acct := testAccount("a")
	store := newFakeStore(acct)
	fetcher := newFakeFetcher()
	fetcher.enqueue(testDiscoveryURL, fakeResponse{status: 200, body: testDiscoveryDoc()})

	f := New(fetcher, store)
	init, err := f.AuthCodeInit(context.Background(), "a", []string{"openid"}, "http://127.0.0.1:9999/callback")
	require.NoError(t, err)
	require.NotEmpty(t, init.FlowID)

	u, err := url.Parse(init.AuthorizationURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("state"))
}

func TestAuthCodeInitRejectsAccountWithoutLoopbackRedirect(t *testing.T) {
	acct := testAccount("a")
	acct.RedirectURIs = []string{"https://example.com/callback"}
	store := newFakeStore(acct)
	fetcher := newFakeFetcher()

	f := New(fetcher, store)
	_, err := f.AuthCodeInit(context.Background(), "a", nil, "https://example.com/callback")
	require.Error(t, err)
	assert.Equal(t, agenterr.ArgInvalid, agenterr.KindOf(err))
}

func TestAuthCodeCallbackStateMismatchNeverPostsToTokenEndpoint(t *testing.T) {
	f, init, _ := setupAuthCodeFlow(t)

	_, err := f.AuthCodeCallback(context.Background(), init.FlowID, "some-code", "wrong-state")
	require.Error(t, err)
	assert.Equal(t, agenterr.StateMismatch, agenterr.KindOf(err))
	assert.Empty(t, f.Fetcher.(*fakeFetcher).postCalls, "a state mismatch must never reach the token endpoint")
}

func TestAuthCodeCallbackSuccessWithoutIDTokenSkipsVerification(t *testing.T) {
	f, init, store := setupAuthCodeFlow(t)
	state := authCodeState(t, f, init.FlowID)

	f.Fetcher.(*fakeFetcher).enqueue(testIssuer+"/token", fakeResponse{status: 200, body: map[string]any{
		"access_token":  "at-1",
		"refresh_token": "rt-1",
		"token_type":    "Bearer",
		"expires_in":    3600,
	}})

	result, err := f.AuthCodeCallback(context.Background(), init.FlowID, "auth-code-1", state)
	require.NoError(t, err)
	assert.Equal(t, "at-1", result.AccessToken)
	assert.Empty(t, result.IDToken)

	updated, err := store.Account("a")
	require.NoError(t, err)
	assert.Equal(t, "rt-1", updated.RefreshToken)
}

func TestAuthCodeCallbackSendsCodeVerifierFromInit(t *testing.T) {
	f, init, _ := setupAuthCodeFlow(t)
	state := authCodeState(t, f, init.FlowID)

	fetcher := f.Fetcher.(*fakeFetcher)
	fetcher.enqueue(testIssuer+"/token", fakeResponse{status: 200, body: map[string]any{
		"access_token": "at-1",
		"token_type":   "Bearer",
		"expires_in":   3600,
	}})

	_, err := f.AuthCodeCallback(context.Background(), init.FlowID, "auth-code-1", state)
	require.NoError(t, err)

	require.Len(t, fetcher.postCalls, 1)
	assert.NotEmpty(t, fetcher.postCalls[0].form.Get("code_verifier"))
	assert.Equal(t, "auth-code-1", fetcher.postCalls[0].form.Get("code"))
}

func setupAuthCodeFlow(t *testing.T) (*Flows, *AuthCodeInitResult, *fakeStore) {
	t.Helper()
	acct := testAccount("a")
	store := newFakeStore(acct)
	fetcher := newFakeFetcher()
	fetcher.enqueue(testDiscoveryURL, fakeResponse{status: 200, body: testDiscoveryDoc()})

	f := New(fetcher, store)
	init, err := f.AuthCodeInit(context.Background(), "a", []string{"openid"}, "http://127.0.0.1:9999/callback")
	require.NoError(t, err)
	return f, init, store
}

// authCodeState reads the CSRF state issued at init from the flow's
// context, so callback tests can present the matching value.
func authCodeState(t *testing.T, f *Flows, flowID string) string {
	t.Helper()
	fc, ok := f.Get(flowID)
	require.True(t, ok)
	return fc.State_
}
