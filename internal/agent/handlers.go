package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oidc-agent/agent/internal/accounts"
	"github.com/oidc-agent/agent/internal/agenterr"
	"github.com/oidc-agent/agent/internal/config"
	"github.com/oidc-agent/agent/internal/flows"
	"github.com/oidc-agent/agent/internal/secure"
	"github.com/oidc-agent/agent/internal/tokencache"
)

// registerHandlers binds every IPC verb spec §4.8 names to its handler.
func (a *Agent) registerHandlers() {
	a.ipc.Handle("add", a.handleAdd)
	a.ipc.Handle("remove", a.handleRemove)
	a.ipc.Handle("remove_all", a.handleRemoveAll)
	a.ipc.Handle("list", a.handleList)
	a.ipc.Handle("lock", a.handleLock)
	a.ipc.Handle("unlock", a.handleUnlock)
	a.ipc.Handle("access_token", a.handleAccessToken)
	a.ipc.Handle("gen", a.handleGen)
	a.ipc.Handle("register", a.handleRegister)
	a.ipc.Handle("device_init", a.handleDeviceInit)
	a.ipc.Handle("device_done", a.handleDeviceDone)
	a.ipc.Handle("code_url", a.handleCodeURL)
	a.ipc.Handle("code_exchange", a.handleCodeExchange)
	a.ipc.Handle("check", a.handleCheck)
	a.ipc.Handle("term", a.handleTerm)
}

func decodeArgs(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return agenterr.Wrap(agenterr.FormatInvalid, "decode request arguments", err)
	}
	return nil
}

type addArgs struct {
	Account         accounts.Account `json:"account"`
	Password        string           `json:"password,omitempty"`
	LifetimeSeconds int64            `json:"lifetime,omitempty"`
	Confirm         bool             `json:"confirm,omitempty"`
}

func (a *Agent) handleAdd(_ context.Context, raw json.RawMessage) (any, error) {
	var args addArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	lifetime := time.Duration(args.LifetimeSeconds) * time.Second
	if err := a.Store.Add(&args.Account, lifetime, args.Confirm); err != nil {
		return nil, err
	}
	if args.Password != "" {
		pw := secure.NewFromString(args.Password)
		defer pw.Release()
		if err := config.SaveAccount(a.ConfigDir, &args.Account, pw); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

type nameArgs struct {
	Name string `json:"name"`
}

func (a *Agent) handleRemove(_ context.Context, raw json.RawMessage) (any, error) {
	var args nameArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := a.Store.Remove(args.Name); err != nil {
		return nil, err
	}
	a.Flows.CancelAccount(args.Name)
	a.Cache.Invalidate(args.Name)
	_ = config.RemoveAccount(a.ConfigDir, args.Name)
	return nil, nil
}

func (a *Agent) handleRemoveAll(_ context.Context, _ json.RawMessage) (any, error) {
	names := a.Store.List()
	if err := a.Store.RemoveAll(); err != nil {
		return nil, err
	}
	a.Flows.CancelAll()
	for _, name := range names {
		a.Cache.Invalidate(name)
		_ = config.RemoveAccount(a.ConfigDir, name)
	}
	return nil, nil
}

func (a *Agent) handleList(_ context.Context, _ json.RawMessage) (any, error) {
	return a.Store.List(), nil
}

type passwordArgs struct {
	Password string `json:"password"`
}

func (a *Agent) handleLock(_ context.Context, raw json.RawMessage) (any, error) {
	var args passwordArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	pw := secure.NewFromString(args.Password)
	defer pw.Release()
	if err := a.Store.Lock(pw); err != nil {
		return nil, err
	}
	a.Flows.CancelAll()
	return nil, nil
}

func (a *Agent) handleUnlock(_ context.Context, raw json.RawMessage) (any, error) {
	var args passwordArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	pw := secure.NewFromString(args.Password)
	defer pw.Release()
	if err := a.Store.Unlock(pw); err != nil {
		return nil, err
	}
	return nil, nil
}

type accessTokenArgs struct {
	Name      string   `json:"name"`
	Scopes    []string `json:"scopes,omitempty"`
	Audiences []string `json:"audiences,omitempty"`
}

type accessTokenResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *Agent) handleAccessToken(ctx context.Context, raw json.RawMessage) (any, error) {
	var args accessTokenArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if _, err := a.Store.Get(args.Name); err != nil {
		return nil, err
	}

	entry, err := a.Cache.Get(ctx, args.Name, args.Scopes, args.Audiences, a.acquireToken(args.Name))
	if err != nil {
		return nil, err
	}
	return accessTokenResult{
		AccessToken: entry.Token.AccessToken,
		ExpiresIn:   int64(time.Until(entry.Token.Expiry).Seconds()),
	}, nil
}

// acquireToken builds the TokenCache Fetcher for account: refresh if a
// refresh token is on file, otherwise client_credentials for a confidential
// client with no end-user context (spec §4.6 "initiate a refresh (or the
// configured flow)").
func (a *Agent) acquireToken(accountName string) tokencache.Fetcher {
	return func(ctx context.Context, scopes, audiences []string) (*tokencache.Entry, error) {
		acct, err := a.Store.Account(accountName)
		if err != nil {
			return nil, err
		}

		var result *flows.TokenResult
		if acct.RefreshToken != "" {
			result, err = a.Flows.Refresh(ctx, accountName, scopes)
		} else if acct.IsConfidential() {
			result, err = a.Flows.ClientCredentials(ctx, accountName, scopes)
		} else {
			err = agenterr.New(agenterr.RefreshRevoked, "account has no refresh token and is not a confidential client")
		}
		if err != nil {
			return nil, err
		}

		e := &tokencache.Entry{Token: result.OAuth2Token()}
		setFromScopes(e, scopes, audiences)
		return e, nil
	}
}

func setFromScopes(e *tokencache.Entry, scopes, audiences []string) {
	e.Scopes = toSet(scopes)
	e.Audiences = toSet(audiences)
}

func toSet(vs []string) map[string]struct{} {
	m := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		m[v] = struct{}{}
	}
	return m
}

func (a *Agent) handleGen(_ context.Context, raw json.RawMessage) (any, error) {
	var args addArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := args.Account.Validate(); err != nil {
		return nil, err
	}
	pw := secure.NewFromString(args.Password)
	defer pw.Release()
	if err := config.SaveAccount(a.ConfigDir, &args.Account, pw); err != nil {
		return nil, err
	}
	lifetime := time.Duration(args.LifetimeSeconds) * time.Second
	if err := a.Store.Add(&args.Account, lifetime, args.Confirm); err != nil {
		return nil, err
	}
	return nil, nil
}

type registerArgs struct {
	Issuer       string   `json:"issuer"`
	RedirectURIs []string `json:"redirect_uris"`
	ClientName   string   `json:"client_name,omitempty"`
}

func (a *Agent) handleRegister(ctx context.Context, raw json.RawMessage) (any, error) {
	var args registerArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return a.Flows.RegisterClient(ctx, args.Issuer, args.RedirectURIs, args.ClientName)
}

type deviceInitArgs struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes,omitempty"`
}

func (a *Agent) handleDeviceInit(ctx context.Context, raw json.RawMessage) (any, error) {
	var args deviceInitArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return a.Flows.DeviceInit(ctx, args.Name, args.Scopes)
}

type flowIDArgs struct {
	FlowID string `json:"flow_id"`
}

type deviceDoneResult struct {
	Pending     bool   `json:"pending"`
	AccessToken string `json:"access_token,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
}

func (a *Agent) handleDeviceDone(ctx context.Context, raw json.RawMessage) (any, error) {
	var args flowIDArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	fc, ok := a.Flows.Get(args.FlowID)
	if !ok {
		return nil, agenterr.New(agenterr.AccountGone, "flow no longer exists")
	}
	accountName := fc.Account

	result, err, terminal := a.Flows.DevicePoll(ctx, args.FlowID)
	if err != nil {
		return nil, err
	}
	if !terminal {
		return deviceDoneResult{Pending: true}, nil
	}
	a.Cache.Set(accountName, &tokencache.Entry{Token: result.OAuth2Token()})
	return deviceDoneResult{AccessToken: result.AccessToken, ExpiresIn: int64(result.ExpiresIn.Seconds())}, nil
}

type codeURLArgs struct {
	Name        string   `json:"name"`
	Scopes      []string `json:"scopes,omitempty"`
	RedirectURI string   `json:"redirect_uri"`
}

func (a *Agent) handleCodeURL(ctx context.Context, raw json.RawMessage) (any, error) {
	var args codeURLArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return a.Flows.AuthCodeInit(ctx, args.Name, args.Scopes, args.RedirectURI)
}

type codeExchangeArgs struct {
	FlowID string `json:"flow_id"`
	Code   string `json:"code"`
	State  string `json:"state"`
}

func (a *Agent) handleCodeExchange(ctx context.Context, raw json.RawMessage) (any, error) {
	var args codeExchangeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	fc, ok := a.Flows.Get(args.FlowID)
	if !ok {
		return nil, agenterr.New(agenterr.AccountGone, "flow no longer exists")
	}
	accountName := fc.Account

	result, err := a.Flows.AuthCodeCallback(ctx, args.FlowID, args.Code, args.State)
	if err != nil {
		return nil, err
	}
	a.Cache.Set(accountName, &tokencache.Entry{Token: result.OAuth2Token()})
	return accessTokenResult{AccessToken: result.AccessToken, ExpiresIn: int64(result.ExpiresIn.Seconds())}, nil
}

type checkResult struct {
	Locked   bool     `json:"locked"`
	Accounts []string `json:"accounts"`
}

func (a *Agent) handleCheck(_ context.Context, _ json.RawMessage) (any, error) {
	return checkResult{Locked: a.Store.Locked(), Accounts: a.Store.List()}, nil
}

func (a *Agent) handleTerm(_ context.Context, _ json.RawMessage) (any, error) {
	a.requestShutdown()
	return nil, nil
}
