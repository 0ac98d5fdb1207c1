package flows

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oidc-agent/agent/internal/agenterr"
)

// RegistrationResult is what a successful dynamic client registration
// produces: the fields needed to populate a new Account before it is ever
// added to AccountStore.
type RegistrationResult struct {
	ClientID                string
	ClientSecret            string
	RegistrationAccessToken string
	RegistrationClientURI   string
}

// registerRequest is the RFC 7591 dynamic client registration request body.
type registerRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

type registerResponse struct {
	ClientID                string `json:"client_id"`
	ClientSecret            string `json:"client_secret"`
	RegistrationAccessToken string `json:"registration_access_token"`
	RegistrationClientURI   string `json:"registration_client_uri"`
	Error                   string `json:"error"`
	ErrorDescription        string `json:"error_description"`
}

// RegisterClient performs RFC 7591 dynamic client registration against
// issuer's discovered registration_endpoint (spec §4.8 "register" verb; the
// CLI front end that collects redirectURIs/clientName interactively is out
// of scope, but the resulting registration call is in scope per spec §1).
func (f *Flows) RegisterClient(ctx context.Context, issuer string, redirectURIs []string, clientName string) (*RegistrationResult, error) {
	doc, err := f.discover(ctx, issuer)
	if err != nil {
		return nil, err
	}
	if doc.RegistrationEndpoint == "" {
		return nil, agenterr.New(agenterr.NotImplemented, "issuer does not advertise a registration_endpoint")
	}

	reqBody := registerRequest{
		RedirectURIs:            redirectURIs,
		ClientName:              clientName,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_basic",
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.Internal, "marshal registration request", err)
	}

	resp, err := f.Fetcher.PostJSON(ctx, doc.RegistrationEndpoint, body, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, err
	}
	var out registerResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, agenterr.Wrap(agenterr.UpstreamError, "invalid registration response", err)
	}
	if resp.StatusCode != 200 && resp.StatusCode != 201 {
		return nil, agenterr.New(agenterr.UpstreamError, fmt.Sprintf("registration endpoint returned HTTP %d: %s %s", resp.StatusCode, out.Error, out.ErrorDescription))
	}
	if out.ClientID == "" {
		return nil, agenterr.New(agenterr.UpstreamError, "registration response missing client_id")
	}

	return &RegistrationResult{
		ClientID:                out.ClientID,
		ClientSecret:            out.ClientSecret,
		RegistrationAccessToken: out.RegistrationAccessToken,
		RegistrationClientURI:   out.RegistrationClientURI,
	}, nil
}
