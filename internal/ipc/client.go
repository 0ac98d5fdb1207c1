package ipc

import (
	"encoding/json"
	"net"

	"github.com/oidc-agent/agent/internal/agenterr"
)

// Client is a thin IPC client: the shared plumbing behind oidc-add,
// oidc-token, and oidc-gen (spec §1 "command-line front-ends ... treated as
// IPC clients"). It owns one connection and sends requests in order,
// matching spec §5's single-connection ordering guarantee.
type Client struct {
	conn net.Conn
}

// Dial connects to the agent's socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.IOError, "connect to agent socket", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends a request for verb with args marshaled as the request body,
// and decodes the response's result into out (which may be nil).
func (c *Client) Call(verb string, args any, out any) error {
	body := map[string]any{"request": verb}
	if args != nil {
		argBytes, err := json.Marshal(args)
		if err != nil {
			return agenterr.Wrap(agenterr.Internal, "marshal request arguments", err)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(argBytes, &fields); err == nil {
			for k, v := range fields {
				body[k] = v
			}
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return agenterr.Wrap(agenterr.Internal, "marshal request", err)
	}
	if err := writeFrame(c.conn, payload); err != nil {
		return err
	}

	respPayload, err := readFrame(c.conn)
	if err != nil {
		return err
	}
	var resp Response
	if err := json.Unmarshal(respPayload, &resp); err != nil {
		return agenterr.Wrap(agenterr.FormatInvalid, "decode response", err)
	}
	if resp.Status != "success" {
		return agenterr.New(agenterr.Kind(resp.Error), resp.ErrorDescription)
	}
	if out != nil && resp.Result != nil {
		raw, err := json.Marshal(resp.Result)
		if err != nil {
			return agenterr.Wrap(agenterr.Internal, "re-marshal response result", err)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return agenterr.Wrap(agenterr.FormatInvalid, "decode response result", err)
		}
	}
	return nil
}
