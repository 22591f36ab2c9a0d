// Package testutil provides shared fixtures for tests.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningAuthority is a throwaway certificate hierarchy (root → intermediate
// → leaf) used to mint signed tokens the way the App Store does: ES256 with
// the certificate chain carried in the x5c header.
type SigningAuthority struct {
	rootPool *x509.CertPool
	leafKey  *ecdsa.PrivateKey
	leafDER  []byte
	interDER []byte
}

// NewSigningAuthority generates a fresh certificate hierarchy.
func NewSigningAuthority(t *testing.T) *SigningAuthority {
	t.Helper()

	rootKey := genKey(t)
	rootTmpl := certTemplate(t, "Test Root CA", true)
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("create root certificate: %v", err)
	}
	rootCert := parseCert(t, rootDER)

	interKey := genKey(t)
	interTmpl := certTemplate(t, "Test Intermediate CA", true)
	interDER, err := x509.CreateCertificate(rand.Reader, interTmpl, rootCert, &interKey.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("create intermediate certificate: %v", err)
	}
	interCert := parseCert(t, interDER)

	leafKey := genKey(t)
	leafTmpl := certTemplate(t, "Test Signing Leaf", false)
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, interCert, &leafKey.PublicKey, interKey)
	if err != nil {
		t.Fatalf("create leaf certificate: %v", err)
	}

	rootPool := x509.NewCertPool()
	rootPool.AddCert(rootCert)

	return &SigningAuthority{
		rootPool: rootPool,
		leafKey:  leafKey,
		leafDER:  leafDER,
		interDER: interDER,
	}
}

// RootPool returns a pool containing only this authority's root.
func (a *SigningAuthority) RootPool() *x509.CertPool {
	return a.rootPool
}

// Sign mints a compact signed token carrying the full x5c chain.
func (a *SigningAuthority) Sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["x5c"] = []string{
		base64.StdEncoding.EncodeToString(a.leafDER),
		base64.StdEncoding.EncodeToString(a.interDER),
	}
	signed, err := token.SignedString(a.leafKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// SignWithoutChain mints a token with no x5c header. Used to exercise the
// verifier's rejection path.
func (a *SigningAuthority) SignWithoutChain(t *testing.T, claims jwt.Claims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(a.leafKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func genKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func certTemplate(t *testing.T, commonName string, isCA bool) *x509.Certificate {
	t.Helper()
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatalf("generate serial: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	if isCA {
		tmpl.IsCA = true
		tmpl.KeyUsage |= x509.KeyUsageCertSign
	}
	return tmpl
}

func parseCert(t *testing.T, der []byte) *x509.Certificate {
	t.Helper()
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert
}
