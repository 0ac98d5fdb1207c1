package flows

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/oidc-agent/agent/internal/accounts"
	"github.com/oidc-agent/agent/internal/agenterr"
)

// Refresh runs the refresh-token flow (spec §4.5 "Refresh token flow"):
// ready -> posting -> done|failed. On invalid_grant the stored refresh
// token is cleared so future attempts surface refresh_revoked immediately
// instead of repeating a doomed request.
func (f *Flows) Refresh(ctx context.Context, accountName string, scopes []string) (*TokenResult, error) {
	acct, err := f.Store.Account(accountName)
	if err != nil {
		return nil, err
	}
	if acct.RefreshToken == "" {
		return nil, agenterr.New(agenterr.RefreshRevoked, "account has no refresh token")
	}

	doc, err := f.ensureDiscovery(ctx, acct)
	if err != nil {
		return nil, err
	}

	fc, cctx := f.newContext(ctx, GrantRefreshToken, accountName, 60*time.Second)
	fc.State = StateReady
	defer f.finish(fc)

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", acct.RefreshToken)
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}

	authForm, headers, err := clientAuth(acct, doc.TokenEndpoint)
	if err != nil {
		return nil, err
	}
	for k, v := range authForm {
		form.Set(k, v)
	}

	fc.State = StatePosting
	result, _, err := postTokenRequest(cctx, f.Fetcher, doc.TokenEndpoint, form, headers, agenterr.RefreshRevoked)
	if err != nil {
		if agenterr.KindOf(err) == agenterr.RefreshRevoked {
			_ = f.clearRefreshToken(accountName)
		}
		fc.State = StateFailed
		return nil, err
	}

	if err := applyResult(f.Store, acct, result); err != nil {
		return nil, err
	}
	fc.State = StateDone
	return result, nil
}

func (f *Flows) clearRefreshToken(accountName string) error {
	return f.Store.UpdateAccount(accountName, func(a *accounts.Account) {
		a.RefreshToken = ""
	})
}
