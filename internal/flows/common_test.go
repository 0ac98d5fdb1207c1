package flows

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidc-agent/agent/internal/agenterr"
)

func TestPostTokenRequestSuccess(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.enqueue(testIssuer+"/token", fakeResponse{status: 200, body: map[string]any{
		"access_token": "at-1",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"scope":        "openid profile",
	}})

	result, body, err := postTokenRequest(context.Background(), fetcher, testIssuer+"/token", url.Values{}, nil, agenterr.RefreshRevoked)
	require.NoError(t, err)
	assert.Equal(t, "at-1", result.AccessToken)
	assert.Equal(t, "openid profile", body.Scope)
}

func TestPostTokenRequestInvalidGrantUsesCallerSpecifiedKind(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.enqueue(testIssuer+"/token", fakeResponse{status: 400, body: map[string]any{
		"error":             "invalid_grant",
		"error_description": "expired",
	}})

	_, _, err := postTokenRequest(context.Background(), fetcher, testIssuer+"/token", url.Values{}, nil, agenterr.RefreshRevoked)
	require.Error(t, err)
	assert.Equal(t, agenterr.RefreshRevoked, agenterr.KindOf(err))
}

func TestPostTokenRequestOtherErrorIsUpstreamError(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.enqueue(testIssuer+"/token", fakeResponse{status: 400, body: map[string]any{
		"error": "unauthorized_client",
	}})

	_, _, err := postTokenRequest(context.Background(), fetcher, testIssuer+"/token", url.Values{}, nil, agenterr.RefreshRevoked)
	require.Error(t, err)
	assert.Equal(t, agenterr.UpstreamError, agenterr.KindOf(err))
}

func TestPostTokenRequestRetriesOnTransportErrorThenSucceeds(t *testing.T) {
	fetcher := newFakeFetcher()
	connErr := agenterr.New(agenterr.UpstreamError, "connection reset")
	fetcher.enqueue(testIssuer+"/token", fakeResponse{err: connErr})
	fetcher.enqueue(testIssuer+"/token", fakeResponse{status: 200, body: map[string]any{
		"access_token": "at-after-retry",
		"token_type":   "Bearer",
		"expires_in":   60,
	}})

	result, _, err := postTokenRequest(context.Background(), fetcher, testIssuer+"/token", url.Values{}, nil, agenterr.RefreshRevoked)
	require.NoError(t, err)
	assert.Equal(t, "at-after-retry", result.AccessToken)
}

func TestApplyResultLeavesRefreshTokenUntouchedWhenNotRotated(t *testing.T) {
	acct := testAccount("a")
	acct.RefreshToken = "rt-original"
	store := newFakeStore(acct)

	err := applyResult(store, acct, &TokenResult{AccessToken: "at-1"})
	require.NoError(t, err)

	updated, err := store.Account("a")
	require.NoError(t, err)
	assert.Equal(t, "rt-original", updated.RefreshToken)
}
