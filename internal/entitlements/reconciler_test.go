package entitlements_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iap-reconciler/internal/entitlements"
	"iap-reconciler/internal/testutil"
)

func expires(t *testing.T, d time.Duration) *time.Time {
	t.Helper()
	at := time.Now().Add(d)
	return &at
}

func TestReconcilerDowngradesWhenLastGrantLapses(t *testing.T) {
	store := testutil.NewFakeStore()
	store.SeedProfile(1, "creator_tier", false, entitlements.GrantSourceIAP)
	id := store.SeedEntitlement(entitlements.Entitlement{
		ProfileID:             1,
		Platform:              entitlements.PlatformApple,
		OriginalTransactionID: "L1",
		ProductType:           entitlements.ProductCreatorTier,
		IsActive:              false, // already deactivated in this transaction
	})

	rec := entitlements.NewReconciler(nil)
	ent := store.Entitlement(id)
	err := store.WithTx(context.Background(), func(tx entitlements.Tx) error {
		return rec.OnDeactivated(context.Background(), tx, &ent)
	})
	require.NoError(t, err)

	profile := store.Profile(1)
	assert.Equal(t, entitlements.BaselineAccountType, profile.AccountType)
	assert.Empty(t, profile.UpgradedBy)
}

func TestReconcilerKeepsPrivilegeWithOtherActiveGrant(t *testing.T) {
	store := testutil.NewFakeStore()
	store.SeedProfile(1, "creator_tier", false, entitlements.GrantSourceIAP)
	id := store.SeedEntitlement(entitlements.Entitlement{
		ProfileID:             1,
		Platform:              entitlements.PlatformApple,
		OriginalTransactionID: "L1",
		ProductType:           entitlements.ProductCreatorTier,
		IsActive:              false,
	})
	// A still-active Play grant for the same privilege.
	store.SeedEntitlement(entitlements.Entitlement{
		ProfileID:      1,
		Platform:       entitlements.PlatformGoogle,
		StoreProductID: "creator.monthly",
		RawReceipt:     "token-1",
		ProductType:    entitlements.ProductCreatorTier,
		IsActive:       true,
		ExpiresDate:    expires(t, time.Hour),
	})

	rec := entitlements.NewReconciler(nil)
	ent := store.Entitlement(id)
	err := store.WithTx(context.Background(), func(tx entitlements.Tx) error {
		return rec.OnDeactivated(context.Background(), tx, &ent)
	})
	require.NoError(t, err)

	profile := store.Profile(1)
	assert.Equal(t, "creator_tier", profile.AccountType)
	assert.Equal(t, entitlements.GrantSourceIAP, profile.UpgradedBy)
}

func TestReconcilerRespectsGrantSourceGuard(t *testing.T) {
	store := testutil.NewFakeStore()
	// Privilege granted by an admin override, not by this subsystem.
	store.SeedProfile(1, "business_tier", true, "admin")
	id := store.SeedEntitlement(entitlements.Entitlement{
		ProfileID:             1,
		Platform:              entitlements.PlatformApple,
		OriginalTransactionID: "L2",
		ProductType:           entitlements.ProductBusinessTier,
		IsActive:              false,
	})

	rec := entitlements.NewReconciler(nil)
	ent := store.Entitlement(id)
	err := store.WithTx(context.Background(), func(tx entitlements.Tx) error {
		return rec.OnDeactivated(context.Background(), tx, &ent)
	})
	require.NoError(t, err)

	profile := store.Profile(1)
	assert.Equal(t, "business_tier", profile.AccountType)
	assert.Equal(t, "admin", profile.UpgradedBy)
}

func TestReconcilerClearsVerifiedBadge(t *testing.T) {
	store := testutil.NewFakeStore()
	store.SeedProfile(7, entitlements.BaselineAccountType, true, entitlements.GrantSourceIAP)
	id := store.SeedEntitlement(entitlements.Entitlement{
		ProfileID:             7,
		Platform:              entitlements.PlatformApple,
		OriginalTransactionID: "L3",
		ProductType:           entitlements.ProductVerifiedBadge,
		IsActive:              false,
	})

	rec := entitlements.NewReconciler(nil)
	ent := store.Entitlement(id)
	err := store.WithTx(context.Background(), func(tx entitlements.Tx) error {
		return rec.OnDeactivated(context.Background(), tx, &ent)
	})
	require.NoError(t, err)

	assert.False(t, store.Profile(7).IsVerified)
}
