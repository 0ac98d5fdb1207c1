package flows

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oidc-agent/agent/internal/agenterr"
)

const pkceUnreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// generateCodeVerifier returns a 43-128 character string drawn from the
// PKCE unreserved character set (RFC 7636 §4.1), implemented with a fixed
// 64-character length comfortably inside that range.
func generateCodeVerifier() (string, error) {
	const n = 64
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", agenterr.Wrap(agenterr.Internal, "generate PKCE code verifier", err)
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = pkceUnreserved[int(b)%len(pkceUnreserved)]
	}
	return string(out), nil
}

func codeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func generateState() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", agenterr.Wrap(agenterr.Internal, "generate state", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// AuthCodeInitResult is the fully-formed authorization URL and bookkeeping
// id returned to the IPC caller (spec §4.5 "init ... returns a fully-formed
// authorization URL to the caller").
type AuthCodeInitResult struct {
	FlowID           string
	AuthorizationURL string
}

// AuthCodeInit starts the authorization-code-with-PKCE flow:
// init -> awaiting_callback.
func (f *Flows) AuthCodeInit(ctx context.Context, accountName string, scopes []string, redirectURI string) (*AuthCodeInitResult, error) {
	acct, err := f.Store.Account(accountName)
	if err != nil {
		return nil, err
	}
	if !acct.HasLoopbackRedirect() {
		return nil, agenterr.New(agenterr.ArgInvalid, "account has no loopback redirect URI registered for authorization-code flow")
	}
	doc, err := f.ensureDiscovery(ctx, acct)
	if err != nil {
		return nil, err
	}

	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, err
	}
	challenge := codeChallengeS256(verifier)
	state, err := generateState()
	if err != nil {
		return nil, err
	}

	fc, _ := f.newContext(ctx, GrantAuthorizationCode, accountName, 5*time.Minute)
	fc.State = StateAwaitingCallback
	fc.CodeVerifier = verifier
	fc.CodeChallenge = challenge
	fc.State_ = state
	fc.RedirectURI = redirectURI

	authURL, err := buildAuthorizationURL(doc.AuthorizationEndpoint, acct.ClientID, redirectURI, scopes, challenge, state)
	if err != nil {
		f.finish(fc)
		return nil, err
	}

	return &AuthCodeInitResult{FlowID: fc.ID, AuthorizationURL: authURL}, nil
}

func buildAuthorizationURL(endpoint, clientID, redirectURI string, scopes []string, challenge, state string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", agenterr.Wrap(agenterr.ArgInvalid, "invalid authorization endpoint", err)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	if len(scopes) > 0 {
		q.Set("scope", strings.Join(scopes, " "))
	}
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// AuthCodeCallback delivers the redirect query parameters to an
// awaiting_callback flow (spec §4.5 "On receipt, verifies state matches").
// A state mismatch fails with state_mismatch and never reaches the token
// endpoint (spec §8 property 9).
func (f *Flows) AuthCodeCallback(ctx context.Context, flowID, code, state string) (*TokenResult, error) {
	fc, ok := f.Get(flowID)
	if !ok {
		return nil, agenterr.New(agenterr.AccountGone, "flow no longer exists")
	}
	if fc.State != StateAwaitingCallback {
		return nil, agenterr.New(agenterr.ArgInvalid, fmt.Sprintf("flow is not awaiting a callback (state=%s)", fc.State))
	}
	if state != fc.State_ {
		fc.State = StateFailed
		f.finish(fc)
		return nil, agenterr.New(agenterr.StateMismatch, "callback state does not match the state issued at init")
	}

	acct, err := f.Store.Account(fc.Account)
	if err != nil {
		f.finish(fc)
		return nil, agenterr.New(agenterr.AccountGone, "account removed during authorization-code flow")
	}
	doc, err := f.ensureDiscovery(ctx, acct)
	if err != nil {
		return nil, err
	}

	fc.State = StateExchanging
	fc.AuthCode = code

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", fc.RedirectURI)
	form.Set("code_verifier", fc.CodeVerifier)

	authForm, headers, err := clientAuth(acct, doc.TokenEndpoint)
	if err != nil {
		return nil, err
	}
	for k, v := range authForm {
		form.Set(k, v)
	}

	result, _, err := postTokenRequest(ctx, f.Fetcher, doc.TokenEndpoint, form, headers, agenterr.UpstreamError)
	if err != nil {
		fc.State = StateFailed
		f.finish(fc)
		return nil, err
	}
	if err := f.verifyIDToken(ctx, acct, doc, result.IDToken); err != nil {
		fc.State = StateFailed
		f.finish(fc)
		return nil, err
	}

	if err := applyResult(f.Store, acct, result); err != nil {
		return nil, err
	}
	fc.State = StateDone
	f.finish(fc)
	return result, nil
}
