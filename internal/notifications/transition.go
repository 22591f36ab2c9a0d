package notifications

import (
	"iap-reconciler/internal/entitlements"
)

// App Store server notification V2 types handled by the normalizer.
const (
	appleTypeSubscribed             = "SUBSCRIBED"
	appleTypeDidRenew               = "DID_RENEW"
	appleTypeDidChangeRenewalStatus = "DID_CHANGE_RENEWAL_STATUS"
	appleTypeExpired                = "EXPIRED"
	appleTypeRevoke                 = "REVOKE"
	appleTypeGracePeriodExpired     = "GRACE_PERIOD_EXPIRED"
	appleTypeRefund                 = "REFUND"
	appleTypeDidChangeRenewalPref   = "DID_CHANGE_RENEWAL_PREF"

	appleSubtypeAutoRenewDisabled = "AUTO_RENEW_DISABLED"
)

// appleTransition maps an App Store notification type (+ subtype) to the
// internal transition vocabulary. The second return value is the auto-renew
// status an activation should record: a renewal-status change with the
// disabled subtype turns it off, everything else leaves it on.
func appleTransition(notificationType, subtype string) (entitlements.Transition, bool) {
	switch notificationType {
	case appleTypeSubscribed, appleTypeDidRenew:
		return entitlements.TransitionActivate, true
	case appleTypeDidChangeRenewalStatus:
		return entitlements.TransitionActivate, subtype != appleSubtypeAutoRenewDisabled
	case appleTypeExpired, appleTypeRevoke, appleTypeGracePeriodExpired:
		return entitlements.TransitionDeactivate, false
	case appleTypeRefund:
		return entitlements.TransitionRefund, false
	case appleTypeDidChangeRenewalPref:
		// Plan change within the same lineage; the next renewal carries the
		// new product.
		return entitlements.TransitionNoOp, false
	default:
		return entitlements.TransitionNoOp, false
	}
}

// Play real-time developer notification codes for the subscription family.
const (
	playSubscriptionRecovered           = 1
	playSubscriptionRenewed             = 2
	playSubscriptionCanceled            = 3
	playSubscriptionPurchased           = 4
	playSubscriptionOnHold              = 5
	playSubscriptionInGracePeriod       = 6
	playSubscriptionRestarted           = 7
	playSubscriptionPriceChangeConfirm  = 8
	playSubscriptionDeferred            = 9
	playSubscriptionPaused              = 10
	playSubscriptionPauseScheduleChange = 11
	playSubscriptionRevoked             = 12
	playSubscriptionExpired             = 13
)

// googleTransition maps a Play subscription notification code to the internal
// transition vocabulary. CANCELED keeps the grant active until expiry but
// records auto-renew as off, mirroring the Apple renewal-status change.
func googleTransition(code int) (entitlements.Transition, bool) {
	switch code {
	case playSubscriptionRecovered, playSubscriptionRenewed,
		playSubscriptionPurchased, playSubscriptionRestarted,
		playSubscriptionDeferred:
		return entitlements.TransitionActivate, true
	case playSubscriptionCanceled:
		return entitlements.TransitionActivate, false
	case playSubscriptionOnHold, playSubscriptionPaused,
		playSubscriptionRevoked, playSubscriptionExpired:
		return entitlements.TransitionDeactivate, false
	default:
		// Grace period, price change, pause schedule and anything new stay
		// no-ops so unknown upstream types never break ingestion.
		return entitlements.TransitionNoOp, false
	}
}
