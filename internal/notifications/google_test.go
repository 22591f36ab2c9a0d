package notifications

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iap-reconciler/internal/entitlements"
	"iap-reconciler/internal/playapi"
)

func (f *handlerFixture) seedGoogleGrant(productType entitlements.ProductType, subscriptionID, purchaseToken string, active bool) int64 {
	return f.store.SeedEntitlement(entitlements.Entitlement{
		ProfileID:      2,
		Platform:       entitlements.PlatformGoogle,
		StoreProductID: subscriptionID,
		RawReceipt:     purchaseToken,
		ProductType:    productType,
		IsActive:       active,
	})
}

type playNote struct {
	packageName string
	eventTime   time.Time
	code        int
	subID       string
	token       string
	oneTimeSKU  string
	test        bool
}

func (f *handlerFixture) googleBody(t *testing.T, messageID string, note playNote) []byte {
	t.Helper()

	packageName := note.packageName
	if packageName == "" {
		packageName = testPackageName
	}
	eventTime := note.eventTime
	if eventTime.IsZero() {
		eventTime = f.now
	}

	payload := map[string]interface{}{
		"version":         "1.0",
		"packageName":     packageName,
		"eventTimeMillis": strconv.FormatInt(eventTime.UnixMilli(), 10),
	}
	switch {
	case note.test:
		payload["testNotification"] = map[string]interface{}{"version": "1.0"}
	case note.oneTimeSKU != "":
		payload["oneTimeProductNotification"] = map[string]interface{}{
			"notificationType": 1,
			"purchaseToken":    note.token,
			"sku":              note.oneTimeSKU,
		}
	default:
		payload["subscriptionNotification"] = map[string]interface{}{
			"version":          "1.0",
			"notificationType": note.code,
			"purchaseToken":    note.token,
			"subscriptionId":   note.subID,
		}
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]interface{}{
		"message": map[string]interface{}{
			"data":      base64.StdEncoding.EncodeToString(data),
			"messageId": messageID,
		},
		"subscription": "projects/test/subscriptions/play-rtdn",
	})
	require.NoError(t, err)
	return body
}

func TestProcessGoogleRenewalActivatesWithPlatformExpiry(t *testing.T) {
	f := newFixture(t)
	id := f.seedGoogleGrant(entitlements.ProductCreatorTier, "creator.monthly", "token-1", false)

	expiry := f.now.Add(30 * 24 * time.Hour)
	f.play.status = &playapi.Status{ExpiryTime: expiry, AutoRenewing: true}

	body := f.googleBody(t, "msg-renew-1", playNote{
		code:  playSubscriptionRenewed,
		subID: "creator.monthly",
		token: "token-1",
	})

	status, message := f.handler.processGoogle(context.Background(), body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "processed", message)
	assert.Equal(t, 1, f.play.calls)

	ent := f.store.Entitlement(id)
	assert.True(t, ent.IsActive)
	assert.True(t, ent.AutoRenewStatus)
	require.NotNil(t, ent.ExpiresDate)
	assert.Equal(t, expiry.UnixMilli(), ent.ExpiresDate.UnixMilli())
}

func TestProcessGoogleCanceledStaysActiveWithoutRenewal(t *testing.T) {
	f := newFixture(t)
	id := f.seedGoogleGrant(entitlements.ProductCreatorTier, "creator.monthly", "token-1", true)

	// Cancellation keeps the paid-through period; the platform still reports
	// the current expiry.
	f.play.status = &playapi.Status{ExpiryTime: f.now.Add(10 * 24 * time.Hour), AutoRenewing: false}

	body := f.googleBody(t, "msg-cancel-1", playNote{
		code:  playSubscriptionCanceled,
		subID: "creator.monthly",
		token: "token-1",
	})

	status, _ := f.handler.processGoogle(context.Background(), body)
	assert.Equal(t, http.StatusOK, status)

	ent := f.store.Entitlement(id)
	assert.True(t, ent.IsActive)
	assert.False(t, ent.AutoRenewStatus)
}

func TestProcessGoogleExpiredDowngradesProfile(t *testing.T) {
	f := newFixture(t)
	f.store.SeedProfile(2, "creator", false, entitlements.GrantSourceIAP)
	id := f.seedGoogleGrant(entitlements.ProductCreatorTier, "creator.monthly", "token-1", true)

	body := f.googleBody(t, "msg-expired-1", playNote{
		code:  playSubscriptionExpired,
		subID: "creator.monthly",
		token: "token-1",
	})

	status, _ := f.handler.processGoogle(context.Background(), body)
	assert.Equal(t, http.StatusOK, status)
	assert.Zero(t, f.play.calls, "deactivation must not call the platform")

	assert.False(t, f.store.Entitlement(id).IsActive)
	assert.Equal(t, entitlements.BaselineAccountType, f.store.Profile(2).AccountType)
}

func TestProcessGoogleRetainedThroughOtherGrant(t *testing.T) {
	f := newFixture(t)
	f.store.SeedProfile(2, "creator", false, entitlements.GrantSourceIAP)
	id := f.seedGoogleGrant(entitlements.ProductCreatorTier, "creator.monthly", "token-1", true)
	// Same privilege also held through an Apple lineage.
	f.store.SeedEntitlement(entitlements.Entitlement{
		ProfileID:             2,
		Platform:              entitlements.PlatformApple,
		OriginalTransactionID: "orig-300",
		ProductType:           entitlements.ProductCreatorTier,
		IsActive:              true,
	})

	body := f.googleBody(t, "msg-expired-2", playNote{
		code:  playSubscriptionExpired,
		subID: "creator.monthly",
		token: "token-1",
	})

	status, _ := f.handler.processGoogle(context.Background(), body)
	assert.Equal(t, http.StatusOK, status)

	assert.False(t, f.store.Entitlement(id).IsActive)
	assert.Equal(t, "creator", f.store.Profile(2).AccountType, "privilege retained through the other grant")
}

func TestProcessGooglePackageMismatchRejected(t *testing.T) {
	f := newFixture(t)

	body := f.googleBody(t, "msg-pkg-1", playNote{
		packageName: "com.other.app",
		code:        playSubscriptionRenewed,
		subID:       "creator.monthly",
		token:       "token-1",
	})

	status, message := f.handler.processGoogle(context.Background(), body)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "package name mismatch", message)
	assert.Zero(t, f.store.Mutations)
}

func TestProcessGoogleStaleAcknowledgedWithoutAction(t *testing.T) {
	f := newFixture(t)
	f.seedGoogleGrant(entitlements.ProductCreatorTier, "creator.monthly", "token-1", false)

	body := f.googleBody(t, "msg-stale-1", playNote{
		eventTime: f.now.Add(-2 * time.Hour),
		code:      playSubscriptionRenewed,
		subID:     "creator.monthly",
		token:     "token-1",
	})

	status, message := f.handler.processGoogle(context.Background(), body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "stale notification discarded", message)
	assert.Zero(t, f.store.Mutations)
	assert.Zero(t, f.play.calls)
}

func TestProcessGoogleStatusLookupFailureSkipsMutation(t *testing.T) {
	f := newFixture(t)
	id := f.seedGoogleGrant(entitlements.ProductCreatorTier, "creator.monthly", "token-1", false)
	f.play.err = errors.New("androidpublisher unavailable")

	body := f.googleBody(t, "msg-lookup-1", playNote{
		code:  playSubscriptionRenewed,
		subID: "creator.monthly",
		token: "token-1",
	})

	status, message := f.handler.processGoogle(context.Background(), body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "acknowledged", message)
	assert.False(t, f.store.Entitlement(id).IsActive)

	// Nothing was committed, so the same message processes fully once the
	// platform recovers.
	f.play.err = nil
	f.play.status = &playapi.Status{ExpiryTime: f.now.Add(24 * time.Hour), AutoRenewing: true}
	status, message = f.handler.processGoogle(context.Background(), body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "processed", message)
	assert.True(t, f.store.Entitlement(id).IsActive)
}

func TestProcessGoogleDuplicateProcessedOnce(t *testing.T) {
	f := newFixture(t)
	f.seedGoogleGrant(entitlements.ProductCreatorTier, "creator.monthly", "token-1", false)
	f.play.status = &playapi.Status{ExpiryTime: f.now.Add(24 * time.Hour), AutoRenewing: true}

	body := f.googleBody(t, "msg-dup-1", playNote{
		code:  playSubscriptionRenewed,
		subID: "creator.monthly",
		token: "token-1",
	})

	status, message := f.handler.processGoogle(context.Background(), body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "processed", message)

	status, message = f.handler.processGoogle(context.Background(), body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "duplicate notification", message)
	assert.Equal(t, 1, f.store.Mutations)
	assert.Equal(t, 1, f.play.calls)
}

func TestProcessGoogleTestNotificationAcknowledged(t *testing.T) {
	f := newFixture(t)

	body := f.googleBody(t, "msg-test-1", playNote{test: true})

	status, message := f.handler.processGoogle(context.Background(), body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "acknowledged", message)
}

func TestProcessGoogleOneTimeProductAcknowledged(t *testing.T) {
	f := newFixture(t)

	body := f.googleBody(t, "msg-onetime-1", playNote{oneTimeSKU: "com.example.verified.badge", token: "token-9"})

	status, message := f.handler.processGoogle(context.Background(), body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "acknowledged", message)
	assert.Zero(t, f.store.Mutations)
}

func TestProcessGoogleUnknownLineageAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.play.status = &playapi.Status{ExpiryTime: f.now.Add(24 * time.Hour), AutoRenewing: true}

	body := f.googleBody(t, "msg-unknown-1", playNote{
		code:  playSubscriptionRenewed,
		subID: "creator.monthly",
		token: "token-nobody-bought",
	})

	status, message := f.handler.processGoogle(context.Background(), body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "processed", message)
	assert.Zero(t, f.store.Mutations)
}

func TestProcessGoogleInvalidPayload(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name        string
		body        []byte
		wantMessage string
	}{
		{"not json", []byte("not json"), "invalid payload"},
		{"empty object", []byte(`{}`), "invalid payload"},
		{"missing data", []byte(`{"message":{"messageId":"m1"}}`), "invalid payload"},
		{"bad base64", []byte(`{"message":{"messageId":"m1","data":"%%%"}}`), "invalid message encoding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message := f.handler.processGoogle(context.Background(), tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.wantMessage, message)
		})
	}
}

func TestProcessPubSubMessageDecodedNotJSON(t *testing.T) {
	f := newFixture(t)

	status, message := f.handler.ProcessPubSubMessage(context.Background(), "m1", []byte("not json"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid payload", message)
}
