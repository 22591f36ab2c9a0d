package testutil

import (
	"context"
	"sync"
	"time"

	"iap-reconciler/internal/entitlements"
)

// Profile mirrors the privileged-state fields the reconciler touches.
type Profile struct {
	AccountType string
	IsVerified  bool
	UpgradedBy  string
}

// FakeStore is an in-memory entitlements.Store with real rollback semantics:
// WithTx snapshots state before running fn and restores it on error.
type FakeStore struct {
	mu           sync.Mutex
	nextID       int64
	Entitlements map[int64]*entitlements.Entitlement
	Profiles     map[int64]*Profile

	// TxErr, when set, makes WithTx fail before running fn. Simulates a
	// database outage.
	TxErr error
	// Mutations counts entitlement rows changed across all transactions.
	Mutations int
}

// NewFakeStore creates an empty fake store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		nextID:       1,
		Entitlements: make(map[int64]*entitlements.Entitlement),
		Profiles:     make(map[int64]*Profile),
	}
}

// SeedProfile adds a profile row.
func (s *FakeStore) SeedProfile(id int64, accountType string, verified bool, upgradedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Profiles[id] = &Profile{AccountType: accountType, IsVerified: verified, UpgradedBy: upgradedBy}
}

// SeedEntitlement adds an entitlement row and returns its id.
func (s *FakeStore) SeedEntitlement(ent entitlements.Entitlement) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent.ID = s.nextID
	s.nextID++
	s.Entitlements[ent.ID] = &ent
	return ent.ID
}

// Entitlement returns a copy of the row with the given id.
func (s *FakeStore) Entitlement(id int64) entitlements.Entitlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.Entitlements[id]
}

// Profile returns a copy of the profile with the given id.
func (s *FakeStore) Profile(id int64) Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.Profiles[id]
}

// WithTx implements entitlements.Store.
func (s *FakeStore) WithTx(ctx context.Context, fn func(tx entitlements.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.TxErr != nil {
		return s.TxErr
	}

	snapshot := s.snapshotLocked()
	tx := &fakeTx{store: s}
	if err := fn(tx); err != nil {
		s.restoreLocked(snapshot)
		return err
	}
	s.Mutations += tx.mutations
	return nil
}

type storeSnapshot struct {
	entitlements map[int64]*entitlements.Entitlement
	profiles     map[int64]*Profile
}

func (s *FakeStore) snapshotLocked() storeSnapshot {
	snap := storeSnapshot{
		entitlements: make(map[int64]*entitlements.Entitlement, len(s.Entitlements)),
		profiles:     make(map[int64]*Profile, len(s.Profiles)),
	}
	for id, ent := range s.Entitlements {
		cp := *ent
		snap.entitlements[id] = &cp
	}
	for id, p := range s.Profiles {
		cp := *p
		snap.profiles[id] = &cp
	}
	return snap
}

func (s *FakeStore) restoreLocked(snap storeSnapshot) {
	s.Entitlements = snap.entitlements
	s.Profiles = snap.profiles
}

// ListExpiredActive implements entitlements.Store.
func (s *FakeStore) ListExpiredActive(ctx context.Context, cutoff time.Time, limit int) ([]entitlements.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []entitlements.Entitlement
	for _, ent := range s.Entitlements {
		if len(result) >= limit {
			break
		}
		if ent.IsActive && ent.ExpiresDate != nil && ent.ExpiresDate.Before(cutoff) {
			result = append(result, *ent)
		}
	}
	return result, nil
}

// Ping implements entitlements.Store.
func (s *FakeStore) Ping(ctx context.Context) error { return s.TxErr }

// Close implements entitlements.Store.
func (s *FakeStore) Close() {}

// fakeTx methods run with the store mutex already held by WithTx.
type fakeTx struct {
	store     *FakeStore
	mutations int
}

func (t *fakeTx) match(key entitlements.LineageKey) *entitlements.Entitlement {
	for _, ent := range t.store.Entitlements {
		if ent.Platform != key.Platform {
			continue
		}
		switch key.Platform {
		case entitlements.PlatformApple:
			if ent.OriginalTransactionID == key.OriginalTransactionID {
				return ent
			}
		case entitlements.PlatformGoogle:
			if ent.StoreProductID == key.StoreProductID && ent.RawReceipt == key.PurchaseToken {
				return ent
			}
		}
	}
	return nil
}

func (t *fakeTx) Activate(ctx context.Context, key entitlements.LineageKey, expires *time.Time, autoRenew bool) (*entitlements.Entitlement, error) {
	ent := t.match(key)
	if ent == nil {
		return nil, nil
	}
	ent.IsActive = true
	ent.ExpiresDate = expires
	ent.AutoRenewStatus = autoRenew
	ent.UpdatedAt = time.Now()
	t.mutations++
	cp := *ent
	return &cp, nil
}

func (t *fakeTx) Deactivate(ctx context.Context, key entitlements.LineageKey) (*entitlements.Entitlement, error) {
	ent := t.match(key)
	if ent == nil {
		return nil, nil
	}
	ent.IsActive = false
	ent.UpdatedAt = time.Now()
	t.mutations++
	cp := *ent
	return &cp, nil
}

func (t *fakeTx) DeactivateByTransactionID(ctx context.Context, platform entitlements.Platform, transactionID string) (*entitlements.Entitlement, error) {
	for _, ent := range t.store.Entitlements {
		if ent.Platform == platform && ent.OriginalTransactionID == transactionID && ent.IsActive {
			ent.IsActive = false
			ent.UpdatedAt = time.Now()
			t.mutations++
			cp := *ent
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *fakeTx) DeactivateByID(ctx context.Context, id int64) (*entitlements.Entitlement, error) {
	ent, ok := t.store.Entitlements[id]
	if !ok || !ent.IsActive {
		return nil, nil
	}
	ent.IsActive = false
	ent.UpdatedAt = time.Now()
	t.mutations++
	cp := *ent
	return &cp, nil
}

func (t *fakeTx) OtherActiveExists(ctx context.Context, profileID int64, productType entitlements.ProductType, excludeID int64) (bool, error) {
	for _, ent := range t.store.Entitlements {
		if ent.ID != excludeID && ent.ProfileID == profileID && ent.ProductType == productType && ent.IsActive {
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeTx) DowngradeProfile(ctx context.Context, profileID int64, productType entitlements.ProductType) (bool, error) {
	profile, ok := t.store.Profiles[profileID]
	if !ok || profile.UpgradedBy != entitlements.GrantSourceIAP {
		return false, nil
	}
	switch productType {
	case entitlements.ProductCreatorTier, entitlements.ProductBusinessTier:
		profile.AccountType = entitlements.BaselineAccountType
		profile.UpgradedBy = ""
	case entitlements.ProductVerifiedBadge:
		profile.IsVerified = false
	}
	return true, nil
}
