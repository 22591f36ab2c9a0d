package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"iap-reconciler/internal/common/logging"
	"iap-reconciler/internal/entitlements"
)

// applePayload is the webhook body for App Store server notifications V2.
type applePayload struct {
	SignedPayload string `json:"signedPayload"`
}

// appleNotificationClaims is the outer signed envelope.
type appleNotificationClaims struct {
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype"`
	NotificationUUID string `json:"notificationUUID"`
	SignedDate       int64  `json:"signedDate"` // epoch millis
	Data             struct {
		BundleID              string `json:"bundleId"`
		Environment           string `json:"environment"`
		SignedTransactionInfo string `json:"signedTransactionInfo"`
		SignedRenewalInfo     string `json:"signedRenewalInfo"`
	} `json:"data"`
	jwt.RegisteredClaims
}

// appleTransactionClaims is the inner signed transaction payload.
type appleTransactionClaims struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	PurchaseDate          int64  `json:"purchaseDate"` // epoch millis
	ExpiresDate           int64  `json:"expiresDate"`  // epoch millis
	jwt.RegisteredClaims
}

// appleRenewalClaims is the inner signed renewal payload.
type appleRenewalClaims struct {
	AutoRenewProductID string `json:"autoRenewProductId"`
	AutoRenewStatus    int    `json:"autoRenewStatus"`
	jwt.RegisteredClaims
}

// processApple handles one App Store notification end to end: verify the
// outer envelope, check trust parameters and freshness, verify the inner
// transaction, then apply the normalized transition in one transaction.
func (h *Handler) processApple(ctx context.Context, body []byte) (int, string) {
	var payload applePayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.SignedPayload == "" {
		return http.StatusBadRequest, "invalid payload"
	}

	var claims appleNotificationClaims
	if err := h.verifier.Verify(payload.SignedPayload, &claims); err != nil {
		h.logger.Warn("apple envelope verification failed",
			logging.Field{Key: "security_event", Value: true}, logging.Err(err))
		return http.StatusForbidden, "signature verification failed"
	}

	trust, err := h.secrets.AppleSecrets()
	if err != nil {
		h.logger.Error("apple trust parameters unavailable", err)
		return http.StatusInternalServerError, "internal error"
	}
	if claims.Data.BundleID != trust.BundleID {
		h.logger.Warn("apple bundle identifier mismatch",
			logging.Field{Key: "security_event", Value: true},
			logging.Field{Key: "bundle_id", Value: claims.Data.BundleID},
		)
		return http.StatusForbidden, "bundle identifier mismatch"
	}

	signedAt := time.UnixMilli(claims.SignedDate)
	if err := checkFreshness(signedAt, h.now(), h.appleMaxAge); err != nil {
		h.logger.Warn("stale apple notification rejected",
			logging.Field{Key: "notification_uuid", Value: claims.NotificationUUID},
			logging.Err(err))
		return http.StatusBadRequest, "stale notification"
	}

	transition, autoRenew := appleTransition(claims.NotificationType, claims.Subtype)
	if transition == entitlements.TransitionNoOp {
		h.logger.Info("apple notification acknowledged without action",
			logging.Field{Key: "notification_type", Value: claims.NotificationType},
			logging.Field{Key: "subtype", Value: claims.Subtype},
		)
		return http.StatusOK, "acknowledged"
	}

	if h.checkSeen(ctx, claims.NotificationUUID) {
		h.logger.Info("duplicate apple notification",
			logging.Field{Key: "notification_uuid", Value: claims.NotificationUUID})
		return http.StatusOK, "duplicate notification"
	}

	if claims.Data.SignedTransactionInfo == "" {
		return http.StatusBadRequest, "missing transaction info"
	}
	var txn appleTransactionClaims
	if err := h.verifier.Verify(claims.Data.SignedTransactionInfo, &txn); err != nil {
		// The outer envelope verified but the embedded transaction did not:
		// hard reject.
		h.logger.Warn("apple transaction verification failed",
			logging.Field{Key: "security_event", Value: true}, logging.Err(err))
		return http.StatusForbidden, "signature verification failed"
	}
	if claims.Data.SignedRenewalInfo != "" {
		var renewal appleRenewalClaims
		if err := h.verifier.Verify(claims.Data.SignedRenewalInfo, &renewal); err != nil {
			h.logger.Warn("apple renewal info verification failed",
				logging.Field{Key: "security_event", Value: true}, logging.Err(err))
			return http.StatusForbidden, "signature verification failed"
		}
	}

	var expiresAt *time.Time
	if txn.ExpiresDate > 0 {
		at := time.UnixMilli(txn.ExpiresDate).UTC()
		expiresAt = &at
	}
	key := entitlements.LineageKey{
		Platform:              entitlements.PlatformApple,
		OriginalTransactionID: txn.OriginalTransactionID,
	}
	productType, _ := entitlements.ProductTypeForID(txn.ProductID)

	err = h.store.WithTx(ctx, func(tx entitlements.Tx) error {
		switch transition {
		case entitlements.TransitionActivate:
			ent, err := tx.Activate(ctx, key, expiresAt, autoRenew)
			if err != nil {
				return err
			}
			if ent == nil {
				h.logger.Warn("no entitlement lineage on file for activation",
					logging.Field{Key: "original_transaction_id", Value: txn.OriginalTransactionID},
					logging.Field{Key: "product_type", Value: productType},
				)
			}
			return nil
		case entitlements.TransitionDeactivate:
			ent, err := tx.Deactivate(ctx, key)
			if err != nil || ent == nil {
				return err
			}
			return h.reconciler.OnDeactivated(ctx, tx, ent)
		case entitlements.TransitionRefund:
			ent, err := tx.DeactivateByTransactionID(ctx, entitlements.PlatformApple, txn.TransactionID)
			if err != nil || ent == nil {
				return err
			}
			return h.reconciler.OnDeactivated(ctx, tx, ent)
		}
		return nil
	})
	if err != nil {
		h.logger.Error("failed to apply apple notification", err,
			logging.Field{Key: "notification_uuid", Value: claims.NotificationUUID},
			logging.Field{Key: "transition", Value: transition.String()},
		)
		return http.StatusInternalServerError, "failed to process notification"
	}

	h.recordProcessed(ctx, claims.NotificationUUID)
	h.logger.Info("apple notification processed",
		logging.Field{Key: "notification_uuid", Value: claims.NotificationUUID},
		logging.Field{Key: "notification_type", Value: claims.NotificationType},
		logging.Field{Key: "transition", Value: transition.String()},
		logging.Field{Key: "product_type", Value: productType},
	)
	return http.StatusOK, "processed"
}
