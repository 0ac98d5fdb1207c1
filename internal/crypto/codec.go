// Package crypto implements CryptoCodec (spec §4.1): authenticated symmetric
// encryption with a memory-hard password KDF, and the random-generation
// primitives the rest of the core relies on.
//
// The cipher is XSalsa20-Poly1305 (golang.org/x/crypto/nacl/secretbox), the
// KDF is Argon2id (golang.org/x/crypto/argon2), matching the pack's only
// concrete grounding for password-based AEAD (dexidp/dex vendors
// gtank/cryptopasta, a secretbox-based scheme) and its canonical
// golang.org/x/crypto import.
package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/oidc-agent/agent/internal/agenterr"
	"github.com/oidc-agent/agent/internal/secure"
)

const (
	saltLen  = 16
	nonceLen = 24
	keyLen   = 32
)

// KDFParams records the Argon2id parameters used to derive a key, so they
// can be carried in the envelope and varied in the future without breaking
// old files.
type KDFParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultKDFParams are the parameters used for all new encryptions.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}
}

// Sealed is the codec's output: everything ConfigFormat needs to persist,
// before it decides how to frame it on disk (modern base64 line vs legacy
// hex line).
type Sealed struct {
	Salt       [saltLen]byte
	Nonce      [nonceLen]byte
	KDFParams  KDFParams
	Ciphertext []byte // includes the Poly1305 tag, per secretbox.Seal
}

func deriveKey(password *secure.Buffer, salt [saltLen]byte, params KDFParams) *secure.Buffer {
	key := argon2.IDKey(password.Bytes(), salt[:], params.Time, params.Memory, params.Threads, keyLen)
	buf := secure.New(key)
	secure.Zero(key)
	return buf
}

// Encrypt seals plaintext under a key derived from password. A fresh random
// salt and nonce are generated for every call.
func Encrypt(plaintext []byte, password *secure.Buffer) (*Sealed, error) {
	return EncryptWithParams(plaintext, password, DefaultKDFParams())
}

// EncryptWithParams is Encrypt with explicit KDF parameters, used when
// re-encrypting under parameters other than DefaultKDFParams (e.g.
// reproducing the legacy format's fixed parameters in tests, or a future
// KDF-parameter migration that re-seals existing files under new settings).
func EncryptWithParams(plaintext []byte, password *secure.Buffer, params KDFParams) (*Sealed, error) {
	var salt [saltLen]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, agenterr.Wrap(agenterr.Internal, "generate salt", err)
	}
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, agenterr.Wrap(agenterr.Internal, "generate nonce", err)
	}

	key := deriveKey(password, salt, params)
	defer key.Release()

	var keyArr [keyLen]byte
	copy(keyArr[:], key.Bytes())
	defer secure.Zero(keyArr[:])

	ciphertext := secretbox.Seal(nil, plaintext, &nonce, &keyArr)

	return &Sealed{Salt: salt, Nonce: nonce, KDFParams: params, Ciphertext: ciphertext}, nil
}

// Decrypt opens a Sealed value, returning mac_mismatch if password is wrong
// or the ciphertext was tampered with.
func Decrypt(s *Sealed, password *secure.Buffer) ([]byte, error) {
	key := deriveKey(password, s.Salt, s.KDFParams)
	defer key.Release()

	var keyArr [keyLen]byte
	copy(keyArr[:], key.Bytes())
	defer secure.Zero(keyArr[:])

	plaintext, ok := secretbox.Open(nil, s.Ciphertext, &s.Nonce, &keyArr)
	if !ok {
		return nil, agenterr.New(agenterr.MACMismatch, "decryption failed: wrong password or tampered ciphertext")
	}
	return plaintext, nil
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, agenterr.Wrap(agenterr.Internal, "generate random bytes", err)
	}
	return b, nil
}

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomAlphanumericString returns a random string of length n whose first
// character is alphanumeric. This is a compatibility quirk (spec §9 open
// question (b)): legacy clients use the result as an identifier prefix and
// cannot tolerate a leading punctuation character from a wider alphabet.
// It must never be used for cryptographic material (nonces, keys, tokens) —
// only for shortnames and file-name fragments.
func RandomAlphanumericString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	out := make([]byte, n)
	idx := make([]byte, n)
	for {
		if _, err := rand.Read(idx); err != nil {
			return "", agenterr.Wrap(agenterr.Internal, "generate random string", err)
		}
		for i, v := range idx {
			out[i] = alphanumeric[int(v)%len(alphanumeric)]
		}
		// retry until the first character happens to be alphanumeric; given
		// the full alphabet above is already alphanumeric this always
		// succeeds on the first attempt, but the retry loop is kept to
		// preserve the legacy generator's documented behavior verbatim.
		if isAlphanumeric(out[0]) {
			return string(out), nil
		}
	}
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
