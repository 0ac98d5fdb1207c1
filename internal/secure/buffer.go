// Package secure implements the SensitiveBuffer/SecureAllocator lifecycle
// described in spec §4.1 and §9: every secret (password, refresh token,
// access token, JWK private parameter, client secret) is allocated through
// this package and is guaranteed to be overwritten with zeros on release,
// on every exit path.
package secure

import "sync"

// Buffer owns a byte slice holding a secret. It must be released exactly
// once via Release(); after that its contents are zeroed and any further
// read returns an empty slice.
type Buffer struct {
	mu    sync.Mutex
	data  []byte
	freed bool
}

// New copies src into a newly allocated Buffer. The caller retains ownership
// of src; New does not zero it (callers that read a secret off the wire or
// out of a form value are responsible for zeroing their own copy once they
// hand it to New).
func New(src []byte) *Buffer {
	b := &Buffer{data: make([]byte, len(src))}
	copy(b.data, src)
	return b
}

// NewFromString is a convenience constructor for secrets that originate as
// Go strings (which cannot themselves be zeroed, a structural leak spec §4.1
// asks implementers to minimize by converting to Buffer as early as
// possible).
func NewFromString(s string) *Buffer {
	return New([]byte(s))
}

// Bytes returns the current contents. The returned slice aliases the
// Buffer's internal storage; callers must not retain it past Release.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return nil
	}
	return b.data
}

// String returns the contents as a string. Prefer Bytes for anything that
// will be released promptly; String defeats zeroing for the lifetime of the
// returned value because Go strings are immutable, so use it only at API
// boundaries (e.g. handing a password to a KDF function that takes a
// string) and never for values that will be logged.
func (b *Buffer) String() string {
	return string(b.Bytes())
}

// Release overwrites the buffer with zeros. Safe to call more than once.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return
	}
	for i := range b.data {
		b.data[i] = 0
	}
	b.data = nil
	b.freed = true
}

// Len reports the buffer's length without exposing its contents.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Clone returns a new Buffer with a copy of the same contents. Used when a
// secret must be handed to two independent owners (e.g. a refresh token
// cached in TokenCache and also held by an in-flight FlowContext).
func (b *Buffer) Clone() *Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return New(b.data)
}

// Zero overwrites an arbitrary byte slice in place. Exposed for call sites
// that read a secret into a plain []byte before a Buffer exists around it
// (e.g. a JSON-decoded struct field holding a private JWK parameter).
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
