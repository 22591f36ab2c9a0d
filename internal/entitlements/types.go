// Package entitlements holds the durable record of purchased rights and the
// rules for reconciling account-level privileges when a grant lapses.
package entitlements

import (
	"strings"
	"time"
)

// Platform identifies the payment platform a grant came through.
type Platform string

const (
	// PlatformApple is the App Store signed-notification channel
	PlatformApple Platform = "apple"
	// PlatformGoogle is the Play Pub/Sub notification channel
	PlatformGoogle Platform = "google"
)

// ProductType identifies the privilege a purchase grants.
type ProductType string

const (
	// ProductCreatorTier elevates the account to the creator tier
	ProductCreatorTier ProductType = "creator_tier"
	// ProductBusinessTier elevates the account to the business tier
	ProductBusinessTier ProductType = "business_tier"
	// ProductVerifiedBadge grants the verified badge
	ProductVerifiedBadge ProductType = "verified_badge"
)

// AccountType values mirrored from the profile subsystem.
const (
	// BaselineAccountType is what downgrades reset the account tier to
	BaselineAccountType = "standard"
	// GrantSourceIAP marks privileges granted by this subsystem. Privileges
	// carrying any other marker are never downgraded here.
	GrantSourceIAP = "iap"
)

// ProductTypeForID maps a store product identifier to the internal product
// type. Both platforms embed the product family in their product ids.
func ProductTypeForID(productID string) (ProductType, bool) {
	id := strings.ToLower(productID)
	switch {
	case strings.Contains(id, "creator"):
		return ProductCreatorTier, true
	case strings.Contains(id, "business"):
		return ProductBusinessTier, true
	case strings.Contains(id, "verified"):
		return ProductVerifiedBadge, true
	default:
		return "", false
	}
}

// Transition is the closed set of normalized lifecycle moves a platform
// notification can map to.
type Transition int

const (
	// TransitionNoOp acknowledges without mutating anything
	TransitionNoOp Transition = iota
	// TransitionActivate turns a grant on (purchase, renewal, recovery)
	TransitionActivate
	// TransitionDeactivate turns a grant off by lineage key
	TransitionDeactivate
	// TransitionRefund turns a grant off by the individual store
	// transaction id instead of the lineage key
	TransitionRefund
)

// String returns the transition name for logging.
func (t Transition) String() string {
	switch t {
	case TransitionActivate:
		return "activate"
	case TransitionDeactivate:
		return "deactivate"
	case TransitionRefund:
		return "refund"
	default:
		return "noop"
	}
}

// LineageKey identifies a renewable subscription lineage within a platform.
// Apple lineages key on the original transaction id; Google lineages key on
// the (subscription product id, purchase token) pair.
type LineageKey struct {
	Platform              Platform
	OriginalTransactionID string
	StoreProductID        string
	PurchaseToken         string
}

// Entitlement is one row of user_entitlements: a specific account holding a
// specific purchased privilege through a specific platform lineage.
type Entitlement struct {
	ID                    int64
	ProfileID             int64
	Platform              Platform
	OriginalTransactionID string
	StoreProductID        string
	RawReceipt            string
	ProductType           ProductType
	ExpiresDate           *time.Time
	IsActive              bool
	AutoRenewStatus       bool
	UpdatedAt             time.Time
}

// Key reconstructs the lineage key for this row.
func (e *Entitlement) Key() LineageKey {
	return LineageKey{
		Platform:              e.Platform,
		OriginalTransactionID: e.OriginalTransactionID,
		StoreProductID:        e.StoreProductID,
		PurchaseToken:         e.RawReceipt,
	}
}
