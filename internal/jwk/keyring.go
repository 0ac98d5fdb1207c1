// Package jwk implements JwkKeyring (spec §4.4): RSA JWK generation, import,
// export, JWKS-URI import, and JWS construction for private_key_jwt client
// authentication. Grounded on the teacher's pkg/auth/token.go JWKS-caching
// pattern (lestrrat-go/jwx/v3 + httprc/v3) and pkg/auth/jwt.go's
// golang-jwt/jwt/v5 claim handling.
package jwk

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/oidc-agent/agent/internal/agenterr"
	"github.com/oidc-agent/agent/internal/secure"
)

const (
	defaultModulusBits = 2048
	defaultPublicExp   = 65537
)

// Key wraps a generated or imported RSA key pair plus the thumbprint used
// as its "kid" in JWS headers and exported JWK documents.
type Key struct {
	private *rsa.PrivateKey
	kid     string
}

// Generate creates a new RSA signing key with the default modulus size.
func Generate() (*Key, error) {
	priv, err := rsa.GenerateKey(rand.Reader, defaultModulusBits)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.Internal, "generate RSA key", err)
	}
	if priv.PublicKey.E != defaultPublicExp {
		// crypto/rsa always uses 65537; this check documents the invariant
		// spec §4.4 calls out rather than silently relying on it.
		return nil, agenterr.New(agenterr.Internal, "generated key has unexpected public exponent")
	}
	return keyFromPrivate(priv)
}

func keyFromPrivate(priv *rsa.PrivateKey) (*Key, error) {
	jwkKey, err := jwk.Import(priv.Public())
	if err != nil {
		return nil, agenterr.Wrap(agenterr.Internal, "import public key for thumbprint", err)
	}
	thumb, err := jwkKey.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.Internal, "compute JWK thumbprint", err)
	}
	return &Key{private: priv, kid: base64.RawURLEncoding.EncodeToString(thumb)}, nil
}

// KID returns the key's RFC 7638 JWK thumbprint, used as "kid".
func (k *Key) KID() string { return k.kid }

// ExportJWK returns the key's JWK representation as a JSON object. When
// includePrivate is true, private RSA parameters are included (spec §4.4):
// callers must treat that output as a SensitiveBuffer, never log it, and
// only persist it through ConfigFormat's encryption.
func ExportJWK(k *Key, includePrivate bool, use string) (*secure.Buffer, error) {
	var src interface{} = k.private.Public()
	if includePrivate {
		src = k.private
	}
	jwkKey, err := jwk.Import(src)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.JWKParse, "build JWK from key", err)
	}
	if err := jwkKey.Set(jwk.KeyIDKey, k.kid); err != nil {
		return nil, agenterr.Wrap(agenterr.Internal, "set kid", err)
	}
	if err := jwkKey.Set("use", use); err != nil {
		return nil, agenterr.Wrap(agenterr.Internal, "set use", err)
	}
	out, err := json.Marshal(jwkKey)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.Internal, "marshal JWK", err)
	}
	return secure.New(out), nil
}

// ImportJWK parses a JWK JSON document (as produced by ExportJWK, or
// supplied by a client over IPC) into a usable Key. Fails with jwk_parse on
// malformed input, or if the JWK is missing private RSA parameters.
func ImportJWK(jsonText []byte) (*Key, error) {
	parsed, err := jwk.ParseKey(jsonText)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.JWKParse, "parse JWK document", err)
	}
	var priv rsa.PrivateKey
	if err := jwk.Export(parsed, &priv); err != nil {
		return nil, agenterr.Wrap(agenterr.JWKParse, "export RSA private key from JWK", err)
	}
	return keyFromPrivate(&priv)
}

// JWKS is a parsed issuer key set (spec §4.4 "keys array").
type JWKS struct {
	set jwk.Set
}

// ParseJWKS parses a JWKS document's raw JSON bytes.
func ParseJWKS(jsonText []byte) (*JWKS, error) {
	set, err := jwk.Parse(jsonText)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.JWKParse, "parse JWKS document", err)
	}
	return &JWKS{set: set}, nil
}

// SelectKey implements the §9 open-question (a) resolution: given the JWS
// header fields a verifier/importer is looking for, select the matching key
// from the set rather than unconditionally failing when there is more than
// one key.
//
// Every non-empty argument is a filter and all of them apply together: kid
// must equal the key's "kid", and use/alg must agree with the key's
// "use"/"alg" members (a key missing that member is treated as a wildcard
// match for it). Returns jwks_ambiguous when, after this narrowing, zero or
// more than one key remains.
func (j *JWKS) SelectKey(kid, use, alg string) (jwk.Key, error) {
	n := j.set.Len()
	if n == 0 {
		return nil, agenterr.New(agenterr.JWKSAmbiguous, "JWKS contains no keys")
	}
	if n == 1 && kid == "" && use == "" && alg == "" {
		key, _ := j.set.Key(0)
		return key, nil
	}

	var candidates []jwk.Key
	for i := 0; i < n; i++ {
		key, ok := j.set.Key(i)
		if !ok {
			continue
		}
		if kid != "" {
			var gotKID string
			_ = key.Get(jwk.KeyIDKey, &gotKID)
			if gotKID != kid {
				continue
			}
		}
		if use != "" {
			var gotUse string
			if key.Get("use", &gotUse) == nil && gotUse != "" && gotUse != use {
				continue
			}
		}
		if alg != "" {
			var gotAlg string
			if key.Get(jwk.AlgorithmKey, &gotAlg) == nil && gotAlg != "" && gotAlg != alg {
				continue
			}
		}
		candidates = append(candidates, key)
	}

	if len(candidates) != 1 {
		return nil, agenterr.New(agenterr.JWKSAmbiguous, "no unique key matches kid/use/alg in JWKS")
	}
	return candidates[0], nil
}

// SignJWT produces a signed compact JWS for private_key_jwt client
// authentication (spec §4.4). SignJWT sets the alg (RS256) and kid header
// parameters itself. claims must contain iss, sub and aud; iat defaults to
// now, exp to now+5 minutes and jti to a fresh UUID when absent.
func SignJWT(k *Key, claims jwt.MapClaims) (string, error) {
	now := time.Now()
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = jwt.NewNumericDate(now)
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = jwt.NewNumericDate(now.Add(5 * time.Minute))
	}
	if _, ok := claims["jti"]; !ok {
		claims["jti"] = uuid.NewString()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = k.kid

	signed, err := token.SignedString(k.private)
	if err != nil {
		return "", agenterr.Wrap(agenterr.Internal, "sign private_key_jwt assertion", err)
	}
	return signed, nil
}

// BuildClientAssertionClaims builds the standard private_key_jwt claim set
// described in spec §4.4.
func BuildClientAssertionClaims(clientID, tokenEndpoint string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": clientID,
		"sub": clientID,
		"aud": tokenEndpoint,
	}
}

// JWKSCache is an auto-refreshing cache of issuer JWKS documents, backed by
// lestrrat-go/jwx's httprc-driven background refresh so a JWKS already
// fetched for one id_token validation doesn't get refetched for the next
// one (spec §3 "issuer JWKS (optional, cached)").
type JWKSCache struct {
	mu    sync.Mutex
	cache *jwk.Cache
	seen  map[string]struct{}
}

// NewJWKSCache builds an empty cache. The underlying httprc client isn't
// created until the first Lookup, since building it needs a context.
func NewJWKSCache() *JWKSCache {
	return &JWKSCache{seen: map[string]struct{}{}}
}

func (c *JWKSCache) ensureCache(ctx context.Context) (*jwk.Cache, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache != nil {
		return c.cache, nil
	}
	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, agenterr.Wrap(agenterr.Internal, "create JWKS cache", err)
	}
	c.cache = cache
	return cache, nil
}

// Lookup returns the JWKS at jwksURI, registering it with the cache for
// background auto-refresh on first use.
func (c *JWKSCache) Lookup(ctx context.Context, jwksURI string) (*JWKS, error) {
	cache, err := c.ensureCache(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	_, registered := c.seen[jwksURI]
	c.mu.Unlock()
	if !registered {
		if err := cache.Register(ctx, jwksURI); err != nil {
			return nil, agenterr.Wrap(agenterr.UpstreamError, "register JWKS URL", err)
		}
		c.mu.Lock()
		c.seen[jwksURI] = struct{}{}
		c.mu.Unlock()
	}

	set, err := cache.Lookup(ctx, jwksURI)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.UpstreamError, "lookup JWKS", err)
	}
	return &JWKS{set: set}, nil
}

// VerifyIDToken parses idToken, verifies its signature against the matching
// key in jwks (selected by "kid", falling back to use/alg per §9 open
// question (a)), and checks iss/aud. Returns the validated claims.
func VerifyIDToken(idToken string, jwks *JWKS, issuer, audience string) (jwt.MapClaims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	var claims jwt.MapClaims
	_, err := parser.ParseWithClaims(idToken, &claims, func(tok *jwt.Token) (interface{}, error) {
		kid, _ := tok.Header["kid"].(string)
		key, kerr := jwks.SelectKey(kid, "sig", "RS256")
		if kerr != nil {
			return nil, kerr
		}
		var rawKey interface{}
		if eerr := jwk.Export(key, &rawKey); eerr != nil {
			return nil, agenterr.Wrap(agenterr.JWKParse, "export raw key from JWKS", eerr)
		}
		return rawKey, nil
	})
	if err != nil {
		return nil, agenterr.Wrap(agenterr.JWKParse, "id_token signature verification failed", err)
	}

	if issuer != "" {
		iss, _ := claims.GetIssuer()
		if iss != issuer {
			return nil, agenterr.New(agenterr.StateMismatch, "id_token issuer does not match account issuer")
		}
	}
	if audience != "" {
		auds, _ := claims.GetAudience()
		if !containsString(auds, audience) {
			return nil, agenterr.New(agenterr.StateMismatch, "id_token audience does not match client_id")
		}
	}
	return claims, nil
}

func containsString(vs []string, v string) bool {
	for _, c := range vs {
		if c == v {
			return true
		}
	}
	return false
}
