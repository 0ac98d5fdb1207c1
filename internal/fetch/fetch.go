// Package fetch defines HttpFetcher (spec §4.5/§2): the blocking
// "fetch URL with headers -> body" primitive OIDCFlows and JwkKeyring use
// for every network call. Its concrete implementation (real HTTPS
// transport, proxy handling) is explicitly out of scope per spec §1; this
// package only defines the interface and a net/http-backed default so the
// core has something to run against outside of tests.
package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oidc-agent/agent/internal/agenterr"
)

// Response is the result of a blocking fetch.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPFetcher is the blocking HTTPS GET/POST primitive the core depends on.
// It deliberately has no concept of retries or timeouts beyond ctx
// cancellation; those policies live in OIDCFlows (spec §7's backoff rules)
// and TokenCache, not here.
type HTTPFetcher interface {
	// Get performs a GET request with the given headers.
	Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error)
	// PostForm performs a POST with an application/x-www-form-urlencoded
	// body built from form, plus any additional headers (e.g. Authorization).
	PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (*Response, error)
	// PostJSON performs a POST with a JSON body.
	PostJSON(ctx context.Context, rawURL string, body []byte, headers map[string]string) (*Response, error)
}

// Default is the net/http-backed HTTPFetcher used outside of tests. It
// honors HTTP_PROXY/HTTPS_PROXY via http.ProxyFromEnvironment, the env vars
// spec §6 names as forwarded to HttpFetcher.
type Default struct {
	Client *http.Client
}

// NewDefault builds a Default fetcher with sane timeouts.
func NewDefault() *Default {
	return &Default{
		Client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 15 * time.Second,
			},
		},
	}
}

func (d *Default) do(req *http.Request, headers map[string]string) (*Response, error) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", "oidc-agent/4.0")

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.UpstreamError, "http request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, agenterr.Wrap(agenterr.UpstreamError, "read response body", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Get implements HTTPFetcher.
func (d *Default) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.ArgInvalid, "build GET request", err)
	}
	return d.do(req, headers)
}

// PostForm implements HTTPFetcher.
func (d *Default) PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, agenterr.Wrap(agenterr.ArgInvalid, "build POST request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return d.do(req, headers)
}

// PostJSON implements HTTPFetcher.
func (d *Default) PostJSON(ctx context.Context, rawURL string, body []byte, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(string(body)))
	if err != nil {
		return nil, agenterr.Wrap(agenterr.ArgInvalid, "build POST request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return d.do(req, headers)
}
