package configformat

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidc-agent/agent/internal/crypto"
	"github.com/oidc-agent/agent/internal/secure"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	pw := secure.NewFromString("envelope password")
	defer pw.Release()

	plaintext := []byte(`{"name":"example"}`)
	blob, err := Save(plaintext, pw)
	require.NoError(t, err)

	got, err := Load(blob, pw)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestSaveAlwaysWritesModernFormat(t *testing.T) {
	pw := secure.NewFromString("p")
	defer pw.Release()

	blob, err := Save([]byte("x"), pw)
	require.NoError(t, err)

	lines := splitLines(blob)
	require.Len(t, lines, 2)
	_, ok := isModernVersionLine(lines[1])
	assert.True(t, ok, "Save must produce a modern version line")
}

func TestLoadLegacyFormat(t *testing.T) {
	pw := secure.NewFromString("legacy password")
	defer pw.Release()

	plaintext := []byte("legacy plaintext")
	// loadLegacy has no recorded KDF params and assumes legacyKDFParams, so
	// the fixture must be sealed under those same params to decrypt.
	sealed, err := crypto.EncryptWithParams(plaintext, pw, legacyKDFParams())
	require.NoError(t, err)

	line := fmt.Sprintf("%d:%s:%s:%s",
		len(sealed.Ciphertext),
		hex.EncodeToString(sealed.Salt[:]),
		hex.EncodeToString(sealed.Nonce[:]),
		hex.EncodeToString(sealed.Ciphertext),
	)

	got, err := Load([]byte(line+"\n"), pw)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestLoadLegacyRejectsMalformedLine(t *testing.T) {
	pw := secure.NewFromString("p")
	defer pw.Release()

	_, err := Load([]byte("not-enough-fields\n"), pw)
	require.Error(t, err)
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, -1, compareVersions("2.0.9", "2.1.0"))
	assert.Equal(t, 0, compareVersions("2.1.0", "2.1.0"))
	assert.Equal(t, 1, compareVersions("4.0.0", "2.1.0"))
	assert.Equal(t, -1, compareVersions("", "2.1.0"))
	assert.Equal(t, 1, compareVersions("2.1", "2.0.99"))
}

func splitLines(b []byte) []string {
	var lines []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			lines = append(lines, string(b[start:i]))
			start = i + 1
		}
	}
	return lines
}
