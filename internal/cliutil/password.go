// Package cliutil holds the handful of helpers shared by the oidc-add,
// oidc-token, and oidc-gen thin IPC clients (spec §1: these front-ends are
// out of scope beyond "a client of the IPC protocol").
package cliutil

import (
	"github.com/oidc-agent/agent/internal/config"
	"github.com/oidc-agent/agent/internal/secure"
)

// ReadPassword returns flagValue as a SensitiveBuffer if non-empty,
// otherwise falls back to OIDC_ENCRYPTION_PW, otherwise an empty buffer
// (interactive prompting is the out-of-scope UX spec §1 names).
func ReadPassword(flagValue string) *secure.Buffer {
	if flagValue != "" {
		return secure.NewFromString(flagValue)
	}
	if pw := config.EncryptionPassword(); pw != nil {
		return pw
	}
	return secure.NewFromString("")
}
