package notifications

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"iap-reconciler/internal/common/logging"
	"iap-reconciler/internal/entitlements"
)

// pubSubEnvelope is the Pub/Sub push wrapper around a Play notification.
type pubSubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// developerNotification is the decoded Play real-time developer notification.
type developerNotification struct {
	Version          string `json:"version"`
	PackageName      string `json:"packageName"`
	EventTimeMillis  int64  `json:"eventTimeMillis,string"`
	SubscriptionData *struct {
		Version          string `json:"version"`
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		SubscriptionID   string `json:"subscriptionId"`
	} `json:"subscriptionNotification"`
	OneTimeProductData *struct {
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		SKU              string `json:"sku"`
	} `json:"oneTimeProductNotification"`
	TestData *struct {
		Version string `json:"version"`
	} `json:"testNotification"`
}

// processGoogle handles a Pub/Sub push delivery. The envelope carries the
// notification base64-encoded in message.data.
func (h *Handler) processGoogle(ctx context.Context, body []byte) (int, string) {
	var envelope pubSubEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Message.Data == "" {
		return http.StatusBadRequest, "invalid payload"
	}

	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		h.logger.Warn("google message data is not valid base64",
			logging.Field{Key: "message_id", Value: envelope.Message.MessageID}, logging.Err(err))
		return http.StatusBadRequest, "invalid message encoding"
	}

	return h.ProcessPubSubMessage(ctx, envelope.Message.MessageID, data)
}

// ProcessPubSubMessage applies one decoded Play notification. It is shared by
// the push endpoint and the pull consumer; the returned status follows the
// webhook convention, where any 2xx acknowledges the message.
func (h *Handler) ProcessPubSubMessage(ctx context.Context, messageID string, data []byte) (int, string) {
	var note developerNotification
	if err := json.Unmarshal(data, &note); err != nil {
		h.logger.Warn("google notification body is not valid JSON",
			logging.Field{Key: "message_id", Value: messageID}, logging.Err(err))
		return http.StatusBadRequest, "invalid payload"
	}

	trust, err := h.secrets.GoogleSecrets()
	if err != nil {
		h.logger.Error("google trust parameters unavailable", err)
		return http.StatusInternalServerError, "internal error"
	}
	if note.PackageName != trust.PackageName {
		h.logger.Warn("google package name mismatch",
			logging.Field{Key: "security_event", Value: true},
			logging.Field{Key: "package_name", Value: note.PackageName},
		)
		return http.StatusForbidden, "package name mismatch"
	}

	if note.TestData != nil {
		h.logger.Info("google test notification acknowledged",
			logging.Field{Key: "message_id", Value: messageID})
		return http.StatusOK, "acknowledged"
	}

	// A stale Play message is acknowledged rather than rejected: Pub/Sub
	// redelivers on non-2xx, and redelivering cannot make it fresher.
	sentAt := time.UnixMilli(note.EventTimeMillis)
	if err := checkFreshness(sentAt, h.now(), h.googleMaxAge); err != nil {
		h.logger.Warn("stale google notification acknowledged without action",
			logging.Field{Key: "message_id", Value: messageID}, logging.Err(err))
		return http.StatusOK, "stale notification discarded"
	}

	if note.OneTimeProductData != nil {
		h.logger.Info("one-time product notification acknowledged without action",
			logging.Field{Key: "message_id", Value: messageID},
			logging.Field{Key: "sku", Value: note.OneTimeProductData.SKU},
		)
		return http.StatusOK, "acknowledged"
	}
	sub := note.SubscriptionData
	if sub == nil {
		h.logger.Info("google notification carries no subscription data",
			logging.Field{Key: "message_id", Value: messageID})
		return http.StatusOK, "acknowledged"
	}

	transition, autoRenew := googleTransition(sub.NotificationType)
	if transition == entitlements.TransitionNoOp {
		h.logger.Info("google notification acknowledged without action",
			logging.Field{Key: "message_id", Value: messageID},
			logging.Field{Key: "notification_type", Value: sub.NotificationType},
		)
		return http.StatusOK, "acknowledged"
	}

	if h.checkSeen(ctx, messageID) {
		h.logger.Info("duplicate google notification",
			logging.Field{Key: "message_id", Value: messageID})
		return http.StatusOK, "duplicate notification"
	}

	key := entitlements.LineageKey{
		Platform:       entitlements.PlatformGoogle,
		StoreProductID: sub.SubscriptionID,
		PurchaseToken:  sub.PurchaseToken,
	}
	productType, _ := entitlements.ProductTypeForID(sub.SubscriptionID)

	// The push payload carries no expiry; activations fetch the authoritative
	// state from the platform. A failed lookup means no mutation this
	// delivery, and acknowledging lets the next renewal notification repair
	// the state.
	var expiresAt *time.Time
	if transition == entitlements.TransitionActivate {
		status, err := h.play.SubscriptionStatus(ctx, trust.PackageName, sub.SubscriptionID, sub.PurchaseToken)
		if err != nil {
			h.logger.Warn("subscription status lookup failed, skipping mutation",
				logging.Field{Key: "message_id", Value: messageID},
				logging.Field{Key: "subscription_id", Value: sub.SubscriptionID},
				logging.Err(err))
			return http.StatusOK, "acknowledged"
		}
		expiry := status.ExpiryTime
		expiresAt = &expiry
		autoRenew = autoRenew && status.AutoRenewing
	}

	err = h.store.WithTx(ctx, func(tx entitlements.Tx) error {
		switch transition {
		case entitlements.TransitionActivate:
			ent, err := tx.Activate(ctx, key, expiresAt, autoRenew)
			if err != nil {
				return err
			}
			if ent == nil {
				h.logger.Warn("no entitlement lineage on file for activation",
					logging.Field{Key: "subscription_id", Value: sub.SubscriptionID},
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
		}
		return nil
	})
	if err != nil {
		h.logger.Error("failed to apply google notification", err,
			logging.Field{Key: "message_id", Value: messageID},
			logging.Field{Key: "transition", Value: transition.String()},
		)
		return http.StatusInternalServerError, "failed to process notification"
	}

	h.recordProcessed(ctx, messageID)
	h.logger.Info("google notification processed",
		logging.Field{Key: "message_id", Value: messageID},
		logging.Field{Key: "notification_type", Value: sub.NotificationType},
		logging.Field{Key: "transition", Value: transition.String()},
		logging.Field{Key: "product_type", Value: productType},
	)
	return http.StatusOK, "processed"
}
