package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidc-agent/agent/internal/agenterr"
	"github.com/oidc-agent/agent/internal/secure"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	pw := secure.NewFromString("correct horse battery staple")
	defer pw.Release()

	plaintext := []byte(`{"name":"example","client_id":"abc"}`)
	sealed, err := Encrypt(plaintext, pw)
	require.NoError(t, err)

	got, err := Decrypt(sealed, pw)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecryptWrongPasswordFailsWithMACMismatch(t *testing.T) {
	pw := secure.NewFromString("right password")
	defer pw.Release()
	wrong := secure.NewFromString("wrong password")
	defer wrong.Release()

	sealed, err := Encrypt([]byte("secret"), pw)
	require.NoError(t, err)

	_, err = Decrypt(sealed, wrong)
	require.Error(t, err)
	var e *agenterr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, agenterr.MACMismatch, e.Kind)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	pw := secure.NewFromString("a password")
	defer pw.Release()

	sealed, err := Encrypt([]byte("secret payload"), pw)
	require.NoError(t, err)
	sealed.Ciphertext[0] ^= 0xFF

	_, err = Decrypt(sealed, pw)
	require.Error(t, err)
	assert.Equal(t, agenterr.MACMismatch, agenterr.KindOf(err))
}

func TestEncryptUsesFreshSaltAndNonceEachCall(t *testing.T) {
	pw := secure.NewFromString("same password")
	defer pw.Release()

	a, err := Encrypt([]byte("same plaintext"), pw)
	require.NoError(t, err)
	b, err := Encrypt([]byte("same plaintext"), pw)
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestRandomAlphanumericStringOnlyUsesAlphanumerics(t *testing.T) {
	s, err := RandomAlphanumericString(32)
	require.NoError(t, err)
	require.Len(t, s, 32)
	for _, c := range s {
		assert.True(t, isAlphanumeric(byte(c)), "unexpected character %q", c)
	}
}

func TestRandomAlphanumericStringZeroLength(t *testing.T) {
	s, err := RandomAlphanumericString(0)
	require.NoError(t, err)
	assert.Empty(t, s)
}
