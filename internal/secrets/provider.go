// Package secrets supplies per-platform trust parameters.
package secrets

import (
	"fmt"
	"os"
	"sync"
)

// AppleSecrets holds the trust parameters for the App Store channel.
type AppleSecrets struct {
	BundleID string
}

// GoogleSecrets holds the trust parameters for the Play channel, including
// service-account credentials for the subscription-status follow-up call.
type GoogleSecrets struct {
	PackageName        string
	ServiceAccountJSON []byte
}

// Provider supplies platform trust parameters.
type Provider interface {
	AppleSecrets() (AppleSecrets, error)
	GoogleSecrets() (GoogleSecrets, error)
}

// EnvProvider reads secrets from the environment. Values are cached after the
// first successful load.
//
// Environment variables:
//   - APPLE_BUNDLE_ID: expected bundle identifier on App Store notifications
//   - GOOGLE_PACKAGE_NAME: expected package name on Play notifications
//   - GOOGLE_SERVICE_ACCOUNT_FILE: path to the service-account JSON key
type EnvProvider struct {
	mu     sync.Mutex
	apple  *AppleSecrets
	google *GoogleSecrets
}

// NewEnvProvider creates an environment-backed secrets provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// AppleSecrets returns the App Store trust parameters.
func (p *EnvProvider) AppleSecrets() (AppleSecrets, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.apple != nil {
		return *p.apple, nil
	}

	bundleID := os.Getenv("APPLE_BUNDLE_ID")
	if bundleID == "" {
		return AppleSecrets{}, fmt.Errorf("APPLE_BUNDLE_ID is not set")
	}

	p.apple = &AppleSecrets{BundleID: bundleID}
	return *p.apple, nil
}

// GoogleSecrets returns the Play trust parameters.
func (p *EnvProvider) GoogleSecrets() (GoogleSecrets, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.google != nil {
		return *p.google, nil
	}

	packageName := os.Getenv("GOOGLE_PACKAGE_NAME")
	if packageName == "" {
		return GoogleSecrets{}, fmt.Errorf("GOOGLE_PACKAGE_NAME is not set")
	}

	credentialsPath := os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE")
	if credentialsPath == "" {
		return GoogleSecrets{}, fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_FILE is not set")
	}
	credentials, err := os.ReadFile(credentialsPath)
	if err != nil {
		return GoogleSecrets{}, fmt.Errorf("failed to read service account key: %w", err)
	}

	p.google = &GoogleSecrets{PackageName: packageName, ServiceAccountJSON: credentials}
	return *p.google, nil
}

// StaticProvider returns fixed secrets. Intended for tests.
type StaticProvider struct {
	Apple  AppleSecrets
	Google GoogleSecrets
}

// AppleSecrets returns the fixed App Store trust parameters.
func (p *StaticProvider) AppleSecrets() (AppleSecrets, error) { return p.Apple, nil }

// GoogleSecrets returns the fixed Play trust parameters.
func (p *StaticProvider) GoogleSecrets() (GoogleSecrets, error) { return p.Google, nil }
