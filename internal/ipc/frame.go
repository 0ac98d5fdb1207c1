// Package ipc implements IpcServer (spec §4.8): the local stream-socket
// transport, length-prefixed JSON framing, peer-credential authorization,
// and verb dispatch that front the agent's core.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/oidc-agent/agent/internal/agenterr"
)

// MaxFrameSize is the maximum encoded message size (spec §6 "Maximum
// message size 1 MiB; oversized messages close the connection with
// frame_too_large").
const MaxFrameSize = 1 << 20

// Request is the inbound envelope (spec §4.8 `{ "request": "<verb>", … }`).
// Fields are decoded per-verb from Args after dispatch reads Verb.
type Request struct {
	Verb string          `json:"request"`
	Args json.RawMessage `json:"-"`
}

// Response is the outbound envelope (spec §4.8
// `{ "status": "success"|"failure", … }`).
type Response struct {
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	Result           any    `json:"result,omitempty"`
}

// readFrame reads one length-prefixed JSON message from r.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, agenterr.New(agenterr.FrameTooLarge, "message exceeds the 1 MiB frame limit")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeFrame writes one length-prefixed JSON message to w.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return agenterr.New(agenterr.FrameTooLarge, "response exceeds the 1 MiB frame limit")
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func failureResponse(err error) Response {
	desc := err.Error()
	var e *agenterr.Error
	if ae, ok := err.(*agenterr.Error); ok {
		e = ae
		desc = e.Message
	}
	return Response{
		Status:           "failure",
		Error:            string(agenterr.KindOf(err)),
		ErrorDescription: desc,
	}
}

func successResponse(result any) Response {
	return Response{Status: "success", Result: result}
}
