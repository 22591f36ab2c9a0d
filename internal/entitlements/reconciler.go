package entitlements

import (
	"context"

	"iap-reconciler/internal/common/logging"
)

// Reconciler decides whether losing one entitlement changes the account's
// externally visible privileged state. It runs inside the same transaction
// as the deactivation.
type Reconciler struct {
	logger logging.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(logger logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Reconciler{logger: logger}
}

// OnDeactivated checks whether the profile retains the privilege through
// another still-active grant; if not, it downgrades the profile, but only
// when the grant-source marker shows this subsystem granted the privilege.
func (r *Reconciler) OnDeactivated(ctx context.Context, tx Tx, ent *Entitlement) error {
	retained, err := tx.OtherActiveExists(ctx, ent.ProfileID, ent.ProductType, ent.ID)
	if err != nil {
		return err
	}
	if retained {
		r.logger.Debug("privilege retained through another active grant",
			logging.Field{Key: "profile_id", Value: ent.ProfileID},
			logging.Field{Key: "product_type", Value: ent.ProductType},
		)
		return nil
	}

	changed, err := tx.DowngradeProfile(ctx, ent.ProfileID, ent.ProductType)
	if err != nil {
		return err
	}
	if changed {
		r.logger.Info("profile downgraded",
			logging.Field{Key: "profile_id", Value: ent.ProfileID},
			logging.Field{Key: "product_type", Value: ent.ProductType},
			logging.Field{Key: "platform", Value: ent.Platform},
		)
	} else {
		// Granted through another channel (admin override etc); leave it.
		r.logger.Debug("grant source mismatch, profile left unchanged",
			logging.Field{Key: "profile_id", Value: ent.ProfileID},
			logging.Field{Key: "product_type", Value: ent.ProductType},
		)
	}
	return nil
}
