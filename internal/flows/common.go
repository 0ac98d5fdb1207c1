package flows

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"time"

	"github.com/oidc-agent/agent/internal/accounts"
	"github.com/oidc-agent/agent/internal/agenterr"
	"github.com/oidc-agent/agent/internal/fetch"
)

func basicEncode(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

// tokenEndpointResponse is the subset of a token-endpoint response body the
// core understands, success or error (RFC 6749 §5.1/§5.2).
type tokenEndpointResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// postTokenRequest POSTs form to the token endpoint with retry-with-backoff
// on upstream_timeout per spec §7 (1s, 2s, 4s; up to 3 retries), and
// classifies the result into a TokenResult or an *agenterr.Error following
// spec §4.5's per-flow success/failure rules.
func postTokenRequest(
	ctx context.Context,
	fetcher fetch.HTTPFetcher,
	tokenEndpoint string,
	form url.Values,
	headers map[string]string,
	invalidGrantKind agenterr.Kind,
) (*TokenResult, *tokenEndpointResponse, error) {
	var resp *fetch.Response
	var err error

	backoffs := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second}
	for attempt, wait := range backoffs {
		if wait > 0 {
			select {
			case <-ctx.Done():
				return nil, nil, agenterr.Wrap(agenterr.UpstreamTimeout, "token request cancelled during backoff", ctx.Err())
			case <-time.After(wait):
			}
		}
		resp, err = fetcher.PostForm(ctx, tokenEndpoint, form, headers)
		if err == nil {
			break
		}
		if attempt == len(backoffs)-1 {
			return nil, nil, agenterr.Wrap(agenterr.UpstreamTimeout, "token endpoint unreachable after retries", err)
		}
	}

	var body tokenEndpointResponse
	_ = json.Unmarshal(resp.Body, &body)

	switch {
	case resp.StatusCode == 200 && body.AccessToken != "":
		return &TokenResult{
			AccessToken:  body.AccessToken,
			RefreshToken: body.RefreshToken,
			IDToken:      body.IDToken,
			ExpiresIn:    time.Duration(body.ExpiresIn) * time.Second,
			Scope:        body.Scope,
			TokenType:    body.TokenType,
		}, &body, nil

	case resp.StatusCode == 400 && body.Error == "invalid_grant":
		return nil, &body, agenterr.New(invalidGrantKind, "token endpoint rejected grant: "+body.ErrorDescription)

	default:
		return nil, &body, agenterr.New(agenterr.UpstreamError,
			"token endpoint returned an error: "+body.Error+" "+body.ErrorDescription)
	}
}

// applyResult updates the account's refresh token (if rotated) via the
// store, per spec §4.5 "common postamble". Callers then hand TokenResult to
// TokenCache separately.
func applyResult(store AccountAccessor, acct *accounts.Account, result *TokenResult) error {
	if result.RefreshToken == "" {
		return nil
	}
	return store.UpdateAccount(acct.Name, func(a *accounts.Account) {
		a.RefreshToken = result.RefreshToken
	})
}
