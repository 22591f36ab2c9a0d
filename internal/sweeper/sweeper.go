// Package sweeper runs the scheduled expiry sweep: a safety net that
// deactivates grants whose expiry passed without the platform ever sending a
// terminal notification.
package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"iap-reconciler/internal/common/logging"
	"iap-reconciler/internal/entitlements"
)

// batchSize bounds one sweep pass so a large backlog cannot hold a
// transaction open for long.
const batchSize = 200

// Sweeper periodically deactivates long-expired grants.
type Sweeper struct {
	store      entitlements.Store
	reconciler *entitlements.Reconciler
	logger     logging.Logger
	grace      time.Duration
	cron       *cron.Cron

	now func() time.Time
}

// New creates a sweeper. Grants are only swept once their expiry is more than
// grace in the past, leaving the platform's own notifications room to arrive
// first.
func New(store entitlements.Store, reconciler *entitlements.Reconciler, logger logging.Logger, grace time.Duration) *Sweeper {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Sweeper{
		store:      store,
		reconciler: reconciler,
		logger:     logger,
		grace:      grace,
		now:        time.Now,
	}
}

// Start schedules the sweep with the given cron expression and begins the
// scheduler.
func (s *Sweeper) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("expiry sweep failed", err)
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.logger.Info("expiry sweep scheduled",
		logging.Field{Key: "schedule", Value: schedule},
		logging.Field{Key: "grace", Value: s.grace.String()},
	)
	return nil
}

// Stop halts the scheduler. Safe to call when Start was never called.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep runs one pass: deactivate every active grant whose expiry is past the
// grace cutoff, reconciling profile privileges for each. Returns the number
// of grants deactivated.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.grace)
	swept := 0

	for {
		expired, err := s.store.ListExpiredActive(ctx, cutoff, batchSize)
		if err != nil {
			return swept, err
		}
		if len(expired) == 0 {
			break
		}

		batchSwept := 0
		for _, ent := range expired {
			ent := ent
			err := s.store.WithTx(ctx, func(tx entitlements.Tx) error {
				deactivated, err := tx.DeactivateByID(ctx, ent.ID)
				if err != nil || deactivated == nil {
					return err
				}
				return s.reconciler.OnDeactivated(ctx, tx, deactivated)
			})
			if err != nil {
				// Keep going; the next scheduled run retries whatever failed.
				s.logger.Error("failed to sweep expired entitlement", err,
					logging.Field{Key: "entitlement_id", Value: ent.ID},
					logging.Field{Key: "platform", Value: ent.Platform},
				)
				continue
			}
			swept++
			batchSwept++
			s.logger.Info("expired entitlement deactivated",
				logging.Field{Key: "entitlement_id", Value: ent.ID},
				logging.Field{Key: "platform", Value: ent.Platform},
				logging.Field{Key: "product_type", Value: ent.ProductType},
			)
		}

		// Rows that failed to sweep stay active and would be listed again;
		// stop once a batch makes no progress.
		if batchSwept == 0 || len(expired) < batchSize {
			break
		}
	}

	if swept > 0 {
		s.logger.Info("expiry sweep completed", logging.Field{Key: "swept", Value: swept})
	}
	return swept, nil
}
