package testutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/gatekeeper/internal/testutil/fixtures"
)

// SigningKey is a private key with the JWS method used to sign with it.
type SigningKey struct {
	Private crypto.Signer
	Method  jwt.SigningMethod
}

// Public returns the verification half of the key.
func (k SigningKey) Public() crypto.PublicKey { return k.Private.Public() }

// NewRSAKey generates a 2048-bit RSA key that signs with RS256.
func NewRSAKey(t testing.TB) SigningKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key")
	return SigningKey{Private: priv, Method: jwt.SigningMethodRS256}
}

// NewECKey generates a P-256 key that signs with ES256.
func NewECKey(t testing.TB) SigningKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err, "failed to generate EC key")
	return SigningKey{Private: priv, Method: jwt.SigningMethodES256}
}

// NewEd25519Key generates an Ed25519 key that signs with EdDSA.
func NewEd25519Key(t testing.TB) SigningKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err, "failed to generate Ed25519 key")
	return SigningKey{Private: priv, Method: jwt.SigningMethodEdDSA}
}

// PublicKeyPEM encodes the public half of k as a PKIX "PUBLIC KEY" block.
func (k SigningKey) PublicKeyPEM(t testing.TB) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(k.Public())
	require.NoError(t, err, "failed to marshal public key")
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

// CertificatePEM wraps the public half of k in a self-signed certificate.
func (k SigningKey) CertificatePEM(t testing.TB) []byte {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "oidc-provider"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, k.Public(), k.Private)
	require.NoError(t, err, "failed to create certificate")
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// WritePublicKey writes the PEM public key of k to a temp file and returns
// its path.
func (k SigningKey) WritePublicKey(t testing.TB) string {
	t.Helper()
	return TempFile(t, "public.pem", string(k.PublicKeyPEM(t)))
}

// Sign signs claims with k and returns the compact JWS.
func (k SigningKey) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(k.Method, claims).SignedString(k.Private)
	require.NoError(t, err, "failed to sign token")
	return token
}

// Claims returns the standard claims of a test token: subject, issuer,
// audience, scope, iat of now and exp of now plus
// [fixtures.TokenLifetime]. Callers override or delete entries as needed.
func Claims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   fixtures.Subject,
		"iss":   fixtures.Issuer,
		"aud":   fixtures.Audience,
		"scope": fixtures.Scope(),
		"iat":   now.Unix(),
		"exp":   now.Add(fixtures.TokenLifetime).Unix(),
	}
}
