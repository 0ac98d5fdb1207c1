package flows

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/oidc-agent/agent/internal/accounts"
	"github.com/oidc-agent/agent/internal/agenterr"
)

// DeviceInitResult is what DeviceInit returns to the IPC caller immediately
// (spec §4.5 "Returns the user-facing fields to the originating IPC caller
// immediately").
type DeviceInitResult struct {
	FlowID                  string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
}

// DeviceInit starts the device-code flow: init -> authorizing. It POSTs to
// the device authorization endpoint and returns the user-facing fields
// without blocking on polling; the caller later calls DevicePoll to advance
// the flow. The agent calls DevicePoll once per device_done request and does
// not poll on its own.
func (f *Flows) DeviceInit(ctx context.Context, accountName string, scopes []string) (*DeviceInitResult, error) {
	acct, err := f.Store.Account(accountName)
	if err != nil {
		return nil, err
	}
	doc, err := f.ensureDiscovery(ctx, acct)
	if err != nil {
		return nil, err
	}
	endpoint := acct.DeviceAuthorizationEndpoint
	if endpoint == "" {
		endpoint = doc.DeviceAuthorizationEndpoint
	}
	if endpoint == "" {
		return nil, agenterr.New(agenterr.ArgInvalid, "issuer has no device_authorization_endpoint")
	}

	form := url.Values{}
	form.Set("client_id", acct.ClientID)
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}

	resp, err := f.Fetcher.PostForm(ctx, endpoint, form, nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		DeviceCode              string `json:"device_code"`
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		ExpiresIn               int64  `json:"expires_in"`
		Interval                int64  `json:"interval"`
	}
	if resp.StatusCode != 200 {
		return nil, agenterr.New(agenterr.UpstreamError, "device authorization endpoint rejected request")
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, agenterr.Wrap(agenterr.UpstreamError, "invalid device authorization response", err)
	}

	interval := time.Duration(body.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	expiresIn := time.Duration(body.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = 15 * time.Minute
	}

	fc, _ := f.newContext(ctx, GrantDeviceCode, accountName, expiresIn)
	fc.State = StateAuthorizing
	fc.DeviceCode = body.DeviceCode
	fc.UserCode = body.UserCode
	fc.VerificationURI = body.VerificationURI
	fc.PollInterval = interval

	if err := f.Store.UpdateAccount(accountName, func(a *accounts.Account) {
		a.DeviceAuth = &accounts.DeviceAuthorizationState{
			DeviceCode:              fc.DeviceCode,
			UserCode:                fc.UserCode,
			VerificationURI:         fc.VerificationURI,
			VerificationURIComplete: body.VerificationURIComplete,
			IntervalSeconds:         int(interval / time.Second),
			ExpiresInSeconds:        int(expiresIn / time.Second),
		}
	}); err != nil {
		return nil, err
	}

	return &DeviceInitResult{
		FlowID:                  fc.ID,
		UserCode:                body.UserCode,
		VerificationURI:         body.VerificationURI,
		VerificationURIComplete: body.VerificationURIComplete,
	}, nil
}

// DevicePoll advances a device-code flow one poll round (spec §4.5
// "polling"). Returns (nil, nil, false) while still pending; polling again
// is up to the caller, and nothing here waits for fc.PollInterval.
func (f *Flows) DevicePoll(ctx context.Context, flowID string) (*TokenResult, error, bool) {
	fc, ok := f.Get(flowID)
	if !ok {
		return nil, agenterr.New(agenterr.AccountGone, "flow no longer exists"), true
	}
	if time.Now().After(fc.Deadline) {
		fc.State = StateTimeout
		f.finish(fc)
		return nil, agenterr.New(agenterr.UpstreamTimeout, "device code expired"), true
	}

	acct, err := f.Store.Account(fc.Account)
	if err != nil {
		f.finish(fc)
		return nil, agenterr.New(agenterr.AccountGone, "account removed during device flow"), true
	}
	doc, err := f.ensureDiscovery(ctx, acct)
	if err != nil {
		return nil, err, true
	}

	fc.State = StatePolling

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")
	form.Set("device_code", fc.DeviceCode)
	authForm, headers, err := clientAuth(acct, doc.TokenEndpoint)
	if err != nil {
		return nil, err, true
	}
	for k, v := range authForm {
		form.Set(k, v)
	}

	resp, err := f.Fetcher.PostForm(ctx, doc.TokenEndpoint, form, headers)
	if err != nil {
		return nil, err, true
	}
	var body tokenEndpointResponse
	_ = json.Unmarshal(resp.Body, &body)

	switch {
	case resp.StatusCode == 200 && body.AccessToken != "":
		result := &TokenResult{
			AccessToken:  body.AccessToken,
			RefreshToken: body.RefreshToken,
			ExpiresIn:    time.Duration(body.ExpiresIn) * time.Second,
			Scope:        body.Scope,
			TokenType:    body.TokenType,
		}
		if err := applyResult(f.Store, acct, result); err != nil {
			return nil, err, true
		}
		_ = f.Store.UpdateAccount(fc.Account, func(a *accounts.Account) { a.DeviceAuth = nil })
		fc.State = StateDone
		f.finish(fc)
		return result, nil, true

	case body.Error == "authorization_pending":
		return nil, nil, false

	case body.Error == "slow_down":
		fc.PollInterval += 5 * time.Second
		return nil, nil, false

	case body.Error == "access_denied" || body.Error == "expired_token":
		fc.State = StateFailed
		f.finish(fc)
		return nil, agenterr.New(agenterr.UpstreamError, "device authorization denied or expired: "+body.Error), true

	default:
		fc.State = StateFailed
		f.finish(fc)
		return nil, agenterr.New(agenterr.UpstreamError, "device token endpoint error: "+body.Error), true
	}
}

// PollInterval returns the current poll interval for an in-flight device
// flow (the server's interval, raised by 5s on each slow_down reply).
func (f *Flows) PollInterval(flowID string) (time.Duration, bool) {
	fc, ok := f.Get(flowID)
	if !ok {
		return 0, false
	}
	return fc.PollInterval, true
}
