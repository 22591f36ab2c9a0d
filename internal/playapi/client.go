// Package playapi wraps the androidpublisher subscription-status API. The
// Play push notification does not carry the authoritative expiry date, so
// activation transitions fetch it here.
package playapi

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"
)

// DefaultTimeout bounds the follow-up call so a slow upstream cannot stall
// the webhook handler.
const DefaultTimeout = 10 * time.Second

// Status is the authoritative subscription state from the platform.
type Status struct {
	ExpiryTime   time.Time
	AutoRenewing bool
}

// Client looks up the authoritative state of a subscription purchase.
type Client interface {
	SubscriptionStatus(ctx context.Context, packageName, subscriptionID, purchaseToken string) (*Status, error)
}

// GoogleClient implements Client against androidpublisher v3.
type GoogleClient struct {
	svc     *androidpublisher.Service
	timeout time.Duration
}

// NewClient builds an authenticated androidpublisher client from
// service-account credentials.
func NewClient(ctx context.Context, serviceAccountJSON []byte) (*GoogleClient, error) {
	svc, err := androidpublisher.NewService(ctx, option.WithCredentialsJSON(serviceAccountJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create androidpublisher service: %w", err)
	}
	return &GoogleClient{svc: svc, timeout: DefaultTimeout}, nil
}

// SubscriptionStatus fetches the purchase state for the given token.
func (c *GoogleClient) SubscriptionStatus(ctx context.Context, packageName, subscriptionID, purchaseToken string) (*Status, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	purchase, err := c.svc.Purchases.Subscriptions.
		Get(packageName, subscriptionID, purchaseToken).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("subscription status lookup failed: %w", err)
	}

	return &Status{
		ExpiryTime:   time.UnixMilli(purchase.ExpiryTimeMillis).UTC(),
		AutoRenewing: purchase.AutoRenewing,
	}, nil
}

type disabledClient struct{}

// Disabled returns a client whose lookups always fail. Used when no
// service-account credentials are configured; activations then skip their
// mutation instead of crashing.
func Disabled() Client {
	return disabledClient{}
}

func (disabledClient) SubscriptionStatus(ctx context.Context, packageName, subscriptionID, purchaseToken string) (*Status, error) {
	return nil, fmt.Errorf("play api client is not configured")
}
