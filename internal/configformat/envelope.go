// Package configformat implements the two on-disk envelope variants
// described in spec §4.2/§6: the modern two-line base64 format this build
// always writes, and the legacy single-line hex format it still reads for
// migration.
package configformat

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/oidc-agent/agent/internal/agenterr"
	"github.com/oidc-agent/agent/internal/crypto"
	"github.com/oidc-agent/agent/internal/secure"
)

// fixed field order within the concatenated envelope blob, before framing:
// salt || nonce || kdfTime(4) || kdfMemory(4) || kdfThreads(1) || ciphertext(+tag)
func packEnvelope(s *crypto.Sealed) []byte {
	buf := make([]byte, 0, 16+24+9+len(s.Ciphertext))
	buf = append(buf, s.Salt[:]...)
	buf = append(buf, s.Nonce[:]...)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], s.KDFParams.Time)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], s.KDFParams.Memory)
	buf = append(buf, tmp[:]...)
	buf = append(buf, s.KDFParams.Threads)
	buf = append(buf, s.Ciphertext...)
	return buf
}

func unpackEnvelope(blob []byte) (*crypto.Sealed, error) {
	const header = 16 + 24 + 9
	if len(blob) < header {
		return nil, agenterr.New(agenterr.FormatInvalid, "envelope shorter than fixed header")
	}
	s := &crypto.Sealed{}
	copy(s.Salt[:], blob[0:16])
	copy(s.Nonce[:], blob[16:40])
	s.KDFParams.Time = binary.BigEndian.Uint32(blob[40:44])
	s.KDFParams.Memory = binary.BigEndian.Uint32(blob[44:48])
	s.KDFParams.Threads = blob[48]
	s.Ciphertext = blob[49:]
	return s, nil
}

// Load decodes bytes (the full contents of an account file) into plaintext
// JSON, transparently handling both on-disk variants per spec §4.2: if the
// last line parses as a version line >= 2.1.0 it is Modern, otherwise it is
// treated as Legacy.
func Load(data []byte, password *secure.Buffer) ([]byte, error) {
	text := string(data)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 2 {
		if _, ok := isModernVersionLine(lines[1]); ok {
			return loadModern(lines[0], password)
		}
	}
	// Single line, or a trailing line that doesn't parse as >= 2.1.0: legacy.
	return loadLegacy(lines[0], password)
}

func loadModern(line string, password *secure.Buffer) ([]byte, error) {
	blob, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(line)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.FormatInvalid, "invalid base64 envelope", err)
	}
	sealed, err := unpackEnvelope(blob)
	if err != nil {
		return nil, err
	}
	return crypto.Decrypt(sealed, password)
}

// loadLegacy parses "<cipher_len>:<salt_hex>:<nonce_hex>:<cipher_hex>". The
// legacy format has no recorded KDF parameters; it used the agent's
// then-fixed parameters, reproduced here as legacyKDFParams so old files
// keep decrypting with the same derived key they were written with.
func loadLegacy(line string, password *secure.Buffer) ([]byte, error) {
	parts := strings.SplitN(line, ":", 4)
	if len(parts) != 4 {
		return nil, agenterr.New(agenterr.FormatInvalid, "legacy envelope must have 4 colon-separated fields")
	}
	cipherLen, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, agenterr.Wrap(agenterr.FormatInvalid, "invalid legacy cipher_len", err)
	}
	saltBytes, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, agenterr.Wrap(agenterr.FormatInvalid, "invalid legacy salt hex", err)
	}
	nonceBytes, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, agenterr.Wrap(agenterr.FormatInvalid, "invalid legacy nonce hex", err)
	}
	cipherBytes, err := hex.DecodeString(parts[3])
	if err != nil {
		return nil, agenterr.Wrap(agenterr.FormatInvalid, "invalid legacy cipher hex", err)
	}
	if cipherLen != len(cipherBytes) {
		return nil, agenterr.New(agenterr.FormatInvalid, "legacy cipher_len does not match cipher hex length")
	}

	sealed := &crypto.Sealed{KDFParams: legacyKDFParams()}
	if len(saltBytes) != 16 || len(nonceBytes) != 24 {
		return nil, agenterr.New(agenterr.FormatInvalid, "legacy salt/nonce have unexpected length")
	}
	copy(sealed.Salt[:], saltBytes)
	copy(sealed.Nonce[:], nonceBytes)
	sealed.Ciphertext = cipherBytes

	return crypto.Decrypt(sealed, password)
}

// legacyKDFParams reproduces the fixed parameters the pre-2.1.0 agent used,
// so that old files keep decrypting identically after the KDF became
// configurable (spec §8 property 3: legacy migration preserves plaintext).
func legacyKDFParams() crypto.KDFParams {
	return crypto.KDFParams{Time: 1, Memory: 64 * 1024, Threads: 4}
}

// Save encrypts plaintext and returns the Modern on-disk representation:
// base64 envelope line, newline, version line, newline.
func Save(plaintext []byte, password *secure.Buffer) ([]byte, error) {
	sealed, err := crypto.Encrypt(plaintext, password)
	if err != nil {
		return nil, err
	}
	blob := packEnvelope(sealed)
	line := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(blob)
	out := fmt.Sprintf("%s\n%s%s\n", line, versionPrefix, CurrentVersion)
	return []byte(out), nil
}
