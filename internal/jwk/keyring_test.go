package jwk

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidc-agent/agent/internal/agenterr"
)

func TestGenerateProducesUsableKey(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)
	assert.NotEmpty(t, k.KID())
}

func TestExportImportJWKRoundTrip(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)

	buf, err := ExportJWK(k, true, "sig")
	require.NoError(t, err)
	defer buf.Release()

	imported, err := ImportJWK(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, k.KID(), imported.KID())
}

func TestImportJWKRejectsPublicOnlyKey(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)

	buf, err := ExportJWK(k, false, "sig")
	require.NoError(t, err)
	defer buf.Release()

	_, err = ImportJWK(buf.Bytes())
	require.Error(t, err)
	assert.Equal(t, agenterr.JWKParse, agenterr.KindOf(err))
}

func TestImportJWKRejectsMalformedJSON(t *testing.T) {
	_, err := ImportJWK([]byte("not json"))
	require.Error(t, err)
	assert.Equal(t, agenterr.JWKParse, agenterr.KindOf(err))
}

func TestSignJWTFillsDefaultClaimsAndIsVerifiable(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)

	claims := BuildClientAssertionClaims("client-1", "https://issuer.example.com/token")
	signed, err := SignJWT(k, claims)
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(tok *jwt.Token) (interface{}, error) {
		return k.private.Public(), nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	mc := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "client-1", mc["iss"])
	assert.NotEmpty(t, mc["jti"])
	assert.NotEmpty(t, mc["exp"])
}

func jwksFromKey(t *testing.T, k *Key, includePrivate bool) *JWKS {
	t.Helper()
	buf, err := ExportJWK(k, includePrivate, "sig")
	require.NoError(t, err)
	defer buf.Release()
	jwks, err := ParseJWKS([]byte(`{"keys":[` + string(buf.Bytes()) + `]}`))
	require.NoError(t, err)
	return jwks
}

func TestSelectKeySingleKeyNoFilters(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)
	jwks := jwksFromKey(t, k, false)

	key, err := jwks.SelectKey("", "", "")
	require.NoError(t, err)
	require.NotNil(t, key)
}

func TestSelectKeyByKID(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)
	jwks := jwksFromKey(t, k, false)

	key, err := jwks.SelectKey(k.KID(), "", "")
	require.NoError(t, err)
	require.NotNil(t, key)
}

func TestSelectKeyUnknownKIDIsAmbiguous(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)
	jwks := jwksFromKey(t, k, false)

	_, err = jwks.SelectKey("not-a-real-kid", "", "")
	require.Error(t, err)
	assert.Equal(t, agenterr.JWKSAmbiguous, agenterr.KindOf(err))
}

func TestSelectKeyEmptySetIsAmbiguous(t *testing.T) {
	jwks, err := ParseJWKS([]byte(`{"keys":[]}`))
	require.NoError(t, err)

	_, err = jwks.SelectKey("", "", "")
	require.Error(t, err)
	assert.Equal(t, agenterr.JWKSAmbiguous, agenterr.KindOf(err))
}

func TestVerifyIDTokenValidSignatureIssuerAudience(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)
	jwks := jwksFromKey(t, k, false)

	claims := jwt.MapClaims{
		"iss": "https://issuer.example.com",
		"aud": "client-1",
		"sub": "user-1",
		"iat": jwt.NewNumericDate(time.Now()),
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	idToken, err := SignJWT(k, claims)
	require.NoError(t, err)

	got, err := VerifyIDToken(idToken, jwks, "https://issuer.example.com", "client-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got["sub"])
}

func TestVerifyIDTokenWrongIssuerFails(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)
	jwks := jwksFromKey(t, k, false)

	claims := jwt.MapClaims{
		"iss": "https://attacker.example.com",
		"aud": "client-1",
		"iat": jwt.NewNumericDate(time.Now()),
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	idToken, err := SignJWT(k, claims)
	require.NoError(t, err)

	_, err = VerifyIDToken(idToken, jwks, "https://issuer.example.com", "client-1")
	require.Error(t, err)
	assert.Equal(t, agenterr.StateMismatch, agenterr.KindOf(err))
}

func TestVerifyIDTokenWrongAudienceFails(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)
	jwks := jwksFromKey(t, k, false)

	claims := jwt.MapClaims{
		"iss": "https://issuer.example.com",
		"aud": "other-client",
		"iat": jwt.NewNumericDate(time.Now()),
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	idToken, err := SignJWT(k, claims)
	require.NoError(t, err)

	_, err = VerifyIDToken(idToken, jwks, "https://issuer.example.com", "client-1")
	require.Error(t, err)
	assert.Equal(t, agenterr.StateMismatch, agenterr.KindOf(err))
}

func TestVerifyIDTokenWrongSigningKeyFails(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)
	other, err := Generate()
	require.NoError(t, err)
	jwks := jwksFromKey(t, other, false)

	claims := jwt.MapClaims{
		"iss": "https://issuer.example.com",
		"aud": "client-1",
		"iat": jwt.NewNumericDate(time.Now()),
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	idToken, err := SignJWT(k, claims)
	require.NoError(t, err)

	_, err = VerifyIDToken(idToken, jwks, "https://issuer.example.com", "client-1")
	require.Error(t, err)
	assert.Equal(t, agenterr.JWKParse, agenterr.KindOf(err))
}
