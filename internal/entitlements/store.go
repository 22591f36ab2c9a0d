package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Tx exposes the mutations available inside one entitlement transaction.
// Every notification's side effects run through a single Tx so that a
// failure anywhere rolls back everything.
type Tx interface {
	// Activate turns the lineage's grant on and refreshes its expiry and
	// renewal status. Returns nil when no lineage row is on file (the
	// purchase-intent flow creates rows; an unknown lineage is logged and
	// acknowledged, not invented here).
	Activate(ctx context.Context, key LineageKey, expires *time.Time, autoRenew bool) (*Entitlement, error)
	// Deactivate turns the lineage's grant off. Returns nil when no row
	// matched.
	Deactivate(ctx context.Context, key LineageKey) (*Entitlement, error)
	// DeactivateByTransactionID handles refunds, which reference the
	// individual store transaction rather than the lineage. Returns nil
	// when the transaction id is not on file; that is not an error.
	DeactivateByTransactionID(ctx context.Context, platform Platform, transactionID string) (*Entitlement, error)
	// DeactivateByID turns off a specific row. Used by the expiry sweep.
	DeactivateByID(ctx context.Context, id int64) (*Entitlement, error)
	// OtherActiveExists reports whether any other row still grants the same
	// privilege to the same profile.
	OtherActiveExists(ctx context.Context, profileID int64, productType ProductType, excludeID int64) (bool, error)
	// DowngradeProfile reverts the profile's privileged state for the given
	// product type, guarded on the grant-source marker. Returns whether a
	// profile row actually changed.
	DowngradeProfile(ctx context.Context, profileID int64, productType ProductType) (bool, error)
}

// Store is the transactional entitlement store.
type Store interface {
	// WithTx runs fn inside one database transaction; any error rolls the
	// whole transaction back and propagates.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// ListExpiredActive returns active rows whose expiry passed before the
	// cutoff. Used by the expiry sweep.
	ListExpiredActive(ctx context.Context, cutoff time.Time, limit int) ([]Entitlement, error)
	Ping(ctx context.Context) error
	Close()
}

// PGStore implements Store on a pgx connection pool.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to PostgreSQL and runs migrations.
func NewPGStore(ctx context.Context, connString string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PGStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *PGStore) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS user_entitlements (
			id BIGSERIAL PRIMARY KEY,
			profile_id BIGINT NOT NULL,
			platform VARCHAR(16) NOT NULL,
			original_transaction_id TEXT,
			store_product_id TEXT,
			raw_receipt TEXT,
			product_type VARCHAR(32) NOT NULL,
			expires_date TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL DEFAULT false,
			auto_renew_status BOOLEAN NOT NULL DEFAULT false,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entitlements_apple_lineage
			ON user_entitlements(original_transaction_id) WHERE platform = 'apple'`,
		`CREATE INDEX IF NOT EXISTS idx_entitlements_google_lineage
			ON user_entitlements(store_product_id, raw_receipt) WHERE platform = 'google'`,
		`CREATE INDEX IF NOT EXISTS idx_entitlements_active_privilege
			ON user_entitlements(profile_id, product_type) WHERE is_active`,
		// profiles is owned by the profile subsystem; created here only so a
		// fresh development database works end to end.
		`CREATE TABLE IF NOT EXISTS profiles (
			id BIGSERIAL PRIMARY KEY,
			account_type VARCHAR(32) NOT NULL DEFAULT 'standard',
			is_verified BOOLEAN NOT NULL DEFAULT false,
			upgraded_by VARCHAR(32)
		)`,
	}

	for _, query := range queries {
		if _, err := s.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}
	return nil
}

// WithTx runs fn inside one transaction, rolling back on any error.
func (s *PGStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListExpiredActive returns active rows whose expiry passed before cutoff.
func (s *PGStore) ListExpiredActive(ctx context.Context, cutoff time.Time, limit int) ([]Entitlement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entitlementColumns+`
		FROM user_entitlements
		WHERE is_active AND expires_date IS NOT NULL AND expires_date < $1
		ORDER BY expires_date
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired entitlements: %w", err)
	}
	defer rows.Close()

	var result []Entitlement
	for rows.Next() {
		ent, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ent)
	}
	return result, rows.Err()
}

// Ping checks database connectivity.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

const entitlementColumns = `id, profile_id, platform,
	COALESCE(original_transaction_id, ''), COALESCE(store_product_id, ''),
	COALESCE(raw_receipt, ''), product_type, expires_date, is_active,
	auto_renew_status, updated_at`

type pgTx struct {
	tx pgx.Tx
}

func scanEntitlement(row pgx.Row) (*Entitlement, error) {
	var ent Entitlement
	err := row.Scan(&ent.ID, &ent.ProfileID, &ent.Platform,
		&ent.OriginalTransactionID, &ent.StoreProductID, &ent.RawReceipt,
		&ent.ProductType, &ent.ExpiresDate, &ent.IsActive,
		&ent.AutoRenewStatus, &ent.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

// lineagePredicate builds the WHERE fragment for a lineage key, appending
// bind parameters to args.
func lineagePredicate(key LineageKey, args []interface{}) (string, []interface{}, error) {
	switch key.Platform {
	case PlatformApple:
		if key.OriginalTransactionID == "" {
			return "", nil, errors.New("apple lineage key requires an original transaction id")
		}
		args = append(args, key.Platform, key.OriginalTransactionID)
		return fmt.Sprintf("platform = $%d AND original_transaction_id = $%d", len(args)-1, len(args)), args, nil
	case PlatformGoogle:
		if key.StoreProductID == "" || key.PurchaseToken == "" {
			return "", nil, errors.New("google lineage key requires a product id and purchase token")
		}
		args = append(args, key.Platform, key.StoreProductID, key.PurchaseToken)
		return fmt.Sprintf("platform = $%d AND store_product_id = $%d AND raw_receipt = $%d",
			len(args)-2, len(args)-1, len(args)), args, nil
	default:
		return "", nil, fmt.Errorf("unknown platform %q", key.Platform)
	}
}

func (t *pgTx) Activate(ctx context.Context, key LineageKey, expires *time.Time, autoRenew bool) (*Entitlement, error) {
	args := []interface{}{expires, autoRenew}
	predicate, args, err := lineagePredicate(key, args)
	if err != nil {
		return nil, err
	}

	query := `UPDATE user_entitlements
		SET is_active = true, expires_date = $1, auto_renew_status = $2, updated_at = now()
		WHERE ` + predicate + `
		RETURNING ` + entitlementColumns

	ent, err := scanEntitlement(t.tx.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to activate entitlement: %w", err)
	}
	return ent, nil
}

func (t *pgTx) Deactivate(ctx context.Context, key LineageKey) (*Entitlement, error) {
	predicate, args, err := lineagePredicate(key, nil)
	if err != nil {
		return nil, err
	}

	query := `UPDATE user_entitlements
		SET is_active = false, updated_at = now()
		WHERE ` + predicate + `
		RETURNING ` + entitlementColumns

	ent, err := scanEntitlement(t.tx.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate entitlement: %w", err)
	}
	return ent, nil
}

func (t *pgTx) DeactivateByTransactionID(ctx context.Context, platform Platform, transactionID string) (*Entitlement, error) {
	// Refunds reference the individual store transaction; for lineage rows
	// that identifier is the original transaction id.
	query := `UPDATE user_entitlements
		SET is_active = false, updated_at = now()
		WHERE platform = $1 AND original_transaction_id = $2 AND is_active
		RETURNING ` + entitlementColumns

	ent, err := scanEntitlement(t.tx.QueryRow(ctx, query, platform, transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate refunded entitlement: %w", err)
	}
	return ent, nil
}

func (t *pgTx) DeactivateByID(ctx context.Context, id int64) (*Entitlement, error) {
	query := `UPDATE user_entitlements
		SET is_active = false, updated_at = now()
		WHERE id = $1 AND is_active
		RETURNING ` + entitlementColumns

	ent, err := scanEntitlement(t.tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate entitlement %d: %w", id, err)
	}
	return ent, nil
}

func (t *pgTx) OtherActiveExists(ctx context.Context, profileID int64, productType ProductType, excludeID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM user_entitlements
			WHERE profile_id = $1 AND product_type = $2 AND is_active AND id <> $3
		)`, profileID, productType, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check for other active grants: %w", err)
	}
	return exists, nil
}

func (t *pgTx) DowngradeProfile(ctx context.Context, profileID int64, productType ProductType) (bool, error) {
	var tag pgconn.CommandTag
	var err error
	switch productType {
	case ProductCreatorTier, ProductBusinessTier:
		tag, err = t.tx.Exec(ctx, `
			UPDATE profiles
			SET account_type = $2, upgraded_by = NULL
			WHERE id = $1 AND upgraded_by = $3`,
			profileID, BaselineAccountType, GrantSourceIAP)
	case ProductVerifiedBadge:
		tag, err = t.tx.Exec(ctx, `
			UPDATE profiles
			SET is_verified = false
			WHERE id = $1 AND upgraded_by = $2`,
			profileID, GrantSourceIAP)
	default:
		return false, fmt.Errorf("unknown product type %q", productType)
	}
	if err != nil {
		return false, fmt.Errorf("failed to downgrade profile %d: %w", profileID, err)
	}
	return tag.RowsAffected() > 0, nil
}
