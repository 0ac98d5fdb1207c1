// Package agenterr defines the closed set of error kinds the agent core can
// return, and the error type that carries one across component boundaries.
package agenterr

import "fmt"

// Kind is one of the closed set of error kinds the agent may return to a
// caller. New kinds must not be added without updating the IPC protocol.
type Kind string

// The closed set of error kinds.
const (
	ArgNull           Kind = "arg_null"
	ArgInvalid        Kind = "arg_invalid"
	FormatInvalid     Kind = "format_invalid"
	MACMismatch       Kind = "mac_mismatch"
	PasswordWrong     Kind = "password_wrong"
	StoreLocked       Kind = "store_locked"
	AccountNotFound   Kind = "account_not_found"
	AccountExists     Kind = "account_exists"
	RefreshRevoked    Kind = "refresh_revoked"
	UpstreamError     Kind = "upstream_error"
	UpstreamTimeout   Kind = "upstream_timeout"
	StateMismatch     Kind = "state_mismatch"
	JWKParse          Kind = "jwk_parse"
	JWKSAmbiguous     Kind = "jwks_ambiguous"
	NotImplemented    Kind = "not_implemented"
	FrameTooLarge     Kind = "frame_too_large"
	UnauthorizedPeer  Kind = "unauthorized_peer"
	IOError           Kind = "io_error"
	Internal          Kind = "internal"
	AccountGone       Kind = "account_gone"
)

// Error is the error type every agent component returns. It carries a Kind
// from the closed set above plus a human-readable message and an optional
// wrapped cause. The message and cause must never contain sensitive values
// (passwords, tokens, JWK private parameters); callers that build an Error
// from sensitive input are responsible for that redaction.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New builds an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error with the given kind and message, wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, agenterr.New(agenterr.StoreLocked, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, otherwise
// returns Internal. Use this at the IPC boundary to classify unexpected
// errors without leaking their contents.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return Internal
}

// as walks err's chain of single Unwrap() error methods and stores the first
// *Error it finds in target. Joined errors (Unwrap() []error) are not
// searched.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
