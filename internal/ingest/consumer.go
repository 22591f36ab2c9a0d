// Package ingest pulls Play real-time developer notifications straight from
// the Pub/Sub subscription. It is an alternative to the push endpoint for
// deployments that cannot expose a public webhook URL; both paths feed the
// same notification handler.
package ingest

import (
	"context"
	"net/http"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	apperrors "iap-reconciler/internal/common/errors"
	"iap-reconciler/internal/common/logging"
	"iap-reconciler/internal/notifications"
)

// Consumer receives RTDN messages from a Pub/Sub subscription and applies
// them through the notification handler.
type Consumer struct {
	client  *pubsub.Client
	sub     *pubsub.Subscription
	handler *notifications.Handler
	logger  logging.Logger
}

// NewConsumer connects to Pub/Sub and verifies the subscription exists.
// Empty credentials fall back to Application Default Credentials.
func NewConsumer(ctx context.Context, projectID, subscriptionID string, credentialsJSON []byte, handler *notifications.Handler, logger logging.Logger) (*Consumer, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	var opts []option.ClientOption
	if len(credentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, apperrors.InternalError("failed to create Pub/Sub client", err)
	}

	sub := client.Subscription(subscriptionID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, apperrors.InternalError("failed to check subscription existence", err)
	}
	if !exists {
		client.Close()
		return nil, apperrors.ConfigError("subscription " + subscriptionID + " does not exist")
	}

	// One message at a time per goroutine keeps ordering pressure off the
	// dedup cache; the handler itself is safe for concurrent use.
	sub.ReceiveSettings.MaxOutstandingMessages = 32
	sub.ReceiveSettings.NumGoroutines = 1

	return &Consumer{
		client:  client,
		sub:     sub,
		handler: handler,
		logger:  logger,
	}, nil
}

// Run blocks receiving messages until ctx is cancelled. A handler outcome
// below 500 acknowledges the message: retrying cannot improve a rejection,
// only an internal failure.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("started Pub/Sub pull ingestion",
		logging.Field{Key: "subscription", Value: c.sub.ID()})

	err := c.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		status, message := c.handler.ProcessPubSubMessage(ctx, msg.ID, msg.Data)
		if status < http.StatusInternalServerError {
			msg.Ack()
			return
		}
		c.logger.Warn("nacking message for redelivery",
			logging.Field{Key: "message_id", Value: msg.ID},
			logging.Field{Key: "status", Value: status},
			logging.Field{Key: "outcome", Value: message},
		)
		msg.Nack()
	})
	if err != nil && ctx.Err() == nil {
		return apperrors.InternalError("Pub/Sub receive failed", err)
	}
	return nil
}

// Close releases the Pub/Sub client.
func (c *Consumer) Close() error {
	return c.client.Close()
}
