// Package jws verifies the compact signed tokens carried by App Store
// server notifications. The signing key is never configured statically:
// each token carries its own certificate chain in the x5c header, and the
// chain is validated against a pinned root before the leaf key is trusted.
package jws

import (
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates compact signed tokens against an x5c certificate chain
// anchored at the configured root pool.
type Verifier struct {
	roots *x509.CertPool
}

// NewVerifier creates a verifier anchored at the given root pool.
func NewVerifier(roots *x509.CertPool) (*Verifier, error) {
	if roots == nil {
		return nil, fmt.Errorf("jws: root certificate pool is required")
	}
	return &Verifier{roots: roots}, nil
}

// LoadRootPool reads a PEM bundle of trusted root certificates.
func LoadRootPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jws: failed to read root bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("jws: no certificates found in %s", path)
	}
	return pool, nil
}

// Verify parses and verifies the token, populating claims on success.
// Claims are never populated on a verification failure.
func (v *Verifier) Verify(token string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFunc,
		jwt.WithValidMethods([]string{"ES256"}),
	)
	if err != nil {
		return fmt.Errorf("jws: token rejected: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("jws: token invalid")
	}
	return nil
}

// keyFunc extracts the signing key from the token's own certificate chain.
func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	raw, ok := token.Header["x5c"]
	if !ok {
		return nil, fmt.Errorf("missing x5c header")
	}
	entries, ok := raw.([]interface{})
	if !ok || len(entries) == 0 {
		return nil, fmt.Errorf("malformed x5c header")
	}

	chain := make([]*x509.Certificate, 0, len(entries))
	for i, entry := range entries {
		encoded, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("x5c entry %d is not a string", i)
		}
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("x5c entry %d is not valid base64: %w", i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("x5c entry %d is not a valid certificate: %w", i, err)
		}
		chain = append(chain, cert)
	}

	leaf := chain[0]
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}

	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, fmt.Errorf("certificate chain rejected: %w", err)
	}

	return leaf.PublicKey, nil
}
