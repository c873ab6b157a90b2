package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/gatekeeper/pkg/errors"
)

// LoadVerificationKey parses a PEM-encoded public key or X.509 certificate.
// RSA (PKIX, PKCS#1 or certificate), ECDSA (PKIX or certificate) and
// Ed25519 (PKIX) keys are accepted.
func LoadVerificationKey(pemBytes []byte) (crypto.PublicKey, error) {
	if rsaKey, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes); err == nil {
		return rsaKey, nil
	}
	if ecKey, err := jwt.ParseECPublicKeyFromPEM(pemBytes); err == nil {
		return ecKey, nil
	}
	edKey, err := jwt.ParseEdPublicKeyFromPEM(pemBytes)
	if err == nil {
		return edKey, nil
	}
	return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
		"auth: verification key is not a PEM RSA, ECDSA or Ed25519 public key or certificate")
}

// LoadVerificationKeyFile reads path and parses it with
// [LoadVerificationKey].
func LoadVerificationKeyFile(path string) (crypto.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"auth: failed to read verification key %q", path)
	}
	return LoadVerificationKey(data)
}

// signingMethodsFor returns the JWS algorithms that may be verified with
// key. Restricting the parser to these prevents algorithm substitution.
func signingMethodsFor(key crypto.PublicKey) ([]string, error) {
	switch key.(type) {
	case *rsa.PublicKey:
		return []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}, nil
	case *ecdsa.PublicKey:
		return []string{"ES256", "ES384", "ES512"}, nil
	case ed25519.PublicKey:
		return []string{"EdDSA"}, nil
	default:
		return nil, fmt.Errorf("unsupported verification key type %T", key)
	}
}
