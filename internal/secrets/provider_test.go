package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvProviderApple(t *testing.T) {
	t.Run("missing bundle id", func(t *testing.T) {
		t.Setenv("APPLE_BUNDLE_ID", "")
		_, err := NewEnvProvider().AppleSecrets()
		assert.ErrorContains(t, err, "APPLE_BUNDLE_ID")
	})

	t.Run("returns and caches bundle id", func(t *testing.T) {
		t.Setenv("APPLE_BUNDLE_ID", "com.example.app")
		p := NewEnvProvider()

		s, err := p.AppleSecrets()
		require.NoError(t, err)
		assert.Equal(t, "com.example.app", s.BundleID)

		// Cached value survives the environment changing underneath.
		t.Setenv("APPLE_BUNDLE_ID", "com.other.app")
		s, err = p.AppleSecrets()
		require.NoError(t, err)
		assert.Equal(t, "com.example.app", s.BundleID)
	})
}

func TestEnvProviderGoogle(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(keyFile, []byte(`{"type":"service_account"}`), 0o600))

	t.Run("missing package name", func(t *testing.T) {
		t.Setenv("GOOGLE_PACKAGE_NAME", "")
		_, err := NewEnvProvider().GoogleSecrets()
		assert.ErrorContains(t, err, "GOOGLE_PACKAGE_NAME")
	})

	t.Run("missing key file path", func(t *testing.T) {
		t.Setenv("GOOGLE_PACKAGE_NAME", "com.example.app")
		t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
		_, err := NewEnvProvider().GoogleSecrets()
		assert.ErrorContains(t, err, "GOOGLE_SERVICE_ACCOUNT_FILE")
	})

	t.Run("unreadable key file", func(t *testing.T) {
		t.Setenv("GOOGLE_PACKAGE_NAME", "com.example.app")
		t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", filepath.Join(t.TempDir(), "missing.json"))
		_, err := NewEnvProvider().GoogleSecrets()
		assert.ErrorContains(t, err, "service account key")
	})

	t.Run("returns credentials", func(t *testing.T) {
		t.Setenv("GOOGLE_PACKAGE_NAME", "com.example.app")
		t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", keyFile)

		s, err := NewEnvProvider().GoogleSecrets()
		require.NoError(t, err)
		assert.Equal(t, "com.example.app", s.PackageName)
		assert.JSONEq(t, `{"type":"service_account"}`, string(s.ServiceAccountJSON))
	})
}
