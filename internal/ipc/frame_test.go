package ipc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidc-agent/agent/internal/agenterr"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"request":"unlock"}`)
	require.NoError(t, writeFrame(&buf, payload))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	oversized := make([]byte, MaxFrameSize+1)
	err := writeFrame(&buf, oversized)
	require.Error(t, err)
	assert.Equal(t, agenterr.FrameTooLarge, agenterr.KindOf(err))
	assert.Zero(t, buf.Len(), "an oversized payload must not be partially written")
}

func TestReadFrameRejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	lenPrefix := []byte{0x00, 0x20, 0x00, 0x00} // 0x00200000 > 1 MiB
	buf.Write(lenPrefix)

	_, err := readFrame(&buf)
	require.Error(t, err)
	assert.Equal(t, agenterr.FrameTooLarge, agenterr.KindOf(err))
}

func TestReadFrameFailsOnTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, 0x10}) // claims 16 bytes, provides none
	_, err := readFrame(&buf)
	require.Error(t, err)
}

func TestFailureResponseCarriesKindAndMessage(t *testing.T) {
	err := agenterr.New(agenterr.StoreLocked, "store is locked")
	resp := failureResponse(err)
	assert.Equal(t, "failure", resp.Status)
	assert.Equal(t, string(agenterr.StoreLocked), resp.Error)
	assert.Equal(t, "store is locked", resp.ErrorDescription)
}

func TestFailureResponseClassifiesUnstructuredError(t *testing.T) {
	resp := failureResponse(&plainError{"boom"})
	assert.Equal(t, string(agenterr.Internal), resp.Error)
}

type plainError struct{ msg string }

func (e *plainError) Error() string { return e.msg }

func TestSuccessResponseCarriesResult(t *testing.T) {
	resp := successResponse(map[string]string{"account": "a"})
	assert.Equal(t, "success", resp.Status)
	assert.Empty(t, resp.Error)
	assert.Equal(t, map[string]string{"account": "a"}, resp.Result)
}
