package flows

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/oidc-agent/agent/internal/agenterr"
	"github.com/oidc-agent/agent/internal/secure"
)

// authInvalidGrantKind is the error kind password/client_credentials flows
// report for an invalid_grant response. Unlike the refresh flow there is no
// stored refresh token to revoke, so this stays upstream_error rather than
// refresh_revoked (spec §4.5 "same success/failure classification as
// refresh flow" governs the HTTP/body decision tree, not the specific kind
// name, since these grants have no refresh token to clear).
const authInvalidGrantKind = agenterr.UpstreamError

// Password runs the single-round password grant (spec §4.5 "Password and
// client-credentials flows"). The password is accepted as a SensitiveBuffer
// and never copied into a plain string beyond the single call to
// url.Values.Set required to build the POST body.
func (f *Flows) Password(ctx context.Context, accountName, username string, password *secure.Buffer, scopes []string) (*TokenResult, error) {
	return f.singleRoundGrant(ctx, accountName, "password", scopes, func(form url.Values) {
		form.Set("username", username)
		form.Set("password", password.String())
	})
}

// ClientCredentials runs the single-round client-credentials grant.
func (f *Flows) ClientCredentials(ctx context.Context, accountName string, scopes []string) (*TokenResult, error) {
	return f.singleRoundGrant(ctx, accountName, "client_credentials", scopes, func(url.Values) {})
}

func (f *Flows) singleRoundGrant(
	ctx context.Context,
	accountName string,
	grantType string,
	scopes []string,
	extra func(url.Values),
) (*TokenResult, error) {
	acct, err := f.Store.Account(accountName)
	if err != nil {
		return nil, err
	}
	doc, err := f.ensureDiscovery(ctx, acct)
	if err != nil {
		return nil, err
	}

	fc, cctx := f.newContext(ctx, GrantType(grantType), accountName, 30*time.Second)
	fc.State = StatePosting
	defer f.finish(fc)

	form := url.Values{}
	form.Set("grant_type", grantType)
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}
	extra(form)

	authForm, headers, err := clientAuth(acct, doc.TokenEndpoint)
	if err != nil {
		return nil, err
	}
	for k, v := range authForm {
		form.Set(k, v)
	}

	result, _, err := postTokenRequest(cctx, f.Fetcher, doc.TokenEndpoint, form, headers, authInvalidGrantKind)
	if err != nil {
		fc.State = StateFailed
		return nil, err
	}
	if err := applyResult(f.Store, acct, result); err != nil {
		return nil, err
	}
	fc.State = StateDone
	return result, nil
}
