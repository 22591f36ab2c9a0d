package entitlements

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProductTypeForID(t *testing.T) {
	tests := []struct {
		productID string
		expected  ProductType
		known     bool
	}{
		{"com.example.creator.monthly", ProductCreatorTier, true},
		{"com.example.CREATOR.yearly", ProductCreatorTier, true},
		{"com.example.business.monthly", ProductBusinessTier, true},
		{"com.example.verified.badge", ProductVerifiedBadge, true},
		{"com.example.coins.100", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.productID, func(t *testing.T) {
			pt, ok := ProductTypeForID(tt.productID)
			assert.Equal(t, tt.known, ok)
			assert.Equal(t, tt.expected, pt)
		})
	}
}

func TestTransitionString(t *testing.T) {
	assert.Equal(t, "activate", TransitionActivate.String())
	assert.Equal(t, "deactivate", TransitionDeactivate.String())
	assert.Equal(t, "refund", TransitionRefund.String())
	assert.Equal(t, "noop", TransitionNoOp.String())
}

func TestEntitlementKey(t *testing.T) {
	apple := Entitlement{Platform: PlatformApple, OriginalTransactionID: "orig-1"}
	assert.Equal(t, LineageKey{Platform: PlatformApple, OriginalTransactionID: "orig-1"}, apple.Key())

	google := Entitlement{Platform: PlatformGoogle, StoreProductID: "creator.monthly", RawReceipt: "tok"}
	key := google.Key()
	assert.Equal(t, "creator.monthly", key.StoreProductID)
	assert.Equal(t, "tok", key.PurchaseToken)
}
