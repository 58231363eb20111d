package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/escrowd/coordinator/internal/domain"
)

// ErrNotFound is returned by every repository's single-row getters when no
// matching row exists.
var ErrNotFound = errors.New("store: not found")

// PaymentSourceRepo is the Persistence Façade's view of payment_sources.
type PaymentSourceRepo struct {
	db *sqlx.DB
}

type paymentSourceRow struct {
	ID                    string         `db:"id"`
	Network               string         `db:"network"`
	SmartContractAddress  string         `db:"smart_contract_address"`
	PolicyID              string         `db:"policy_id"`
	FeeRatePermille       int            `db:"fee_rate_permille"`
	AdminWalletAddresses  pq.StringArray `db:"admin_wallet_addresses"`
	RPCProviderAPIKey     string         `db:"rpc_provider_api_key"`
	LastIdentifierChecked sql.NullString `db:"last_identifier_checked"`
	SyncInProgress        bool           `db:"sync_in_progress"`
	SyncInProgressSince   sql.NullTime   `db:"sync_in_progress_since"`
	DisabledAt            sql.NullTime   `db:"disabled_at"`
	DeletedAt             sql.NullTime   `db:"deleted_at"`
}

func (r paymentSourceRow) toDomain() domain.PaymentSource {
	p := domain.PaymentSource{
		ID:                   r.ID,
		Network:              domain.Network(r.Network),
		SmartContractAddress: r.SmartContractAddress,
		PolicyID:             r.PolicyID,
		FeeRatePermille:      r.FeeRatePermille,
		AdminWalletAddresses: []string(r.AdminWalletAddresses),
		RPCProviderAPIKey:    r.RPCProviderAPIKey,
		SyncInProgress:       r.SyncInProgress,
	}
	if r.LastIdentifierChecked.Valid {
		v := r.LastIdentifierChecked.String
		p.LastIdentifierChecked = &v
	}
	if r.SyncInProgressSince.Valid {
		v := r.SyncInProgressSince.Time
		p.SyncInProgressSince = &v
	}
	if r.DisabledAt.Valid {
		v := r.DisabledAt.Time
		p.DisabledAt = &v
	}
	if r.DeletedAt.Valid {
		v := r.DeletedAt.Time
		p.DeletedAt = &v
	}
	return p
}

// ListActive returns every PaymentSource not soft-deleted or disabled, the
// set the coordinator starts a Sync Loop goroutine for.
func (r *PaymentSourceRepo) ListActive(ctx context.Context) ([]domain.PaymentSource, error) {
	var rows []paymentSourceRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, network, smart_contract_address, policy_id, fee_rate_permille,
		       admin_wallet_addresses, rpc_provider_api_key, last_identifier_checked,
		       sync_in_progress, sync_in_progress_since, disabled_at, deleted_at
		FROM payment_sources
		WHERE deleted_at IS NULL AND disabled_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: listing active payment sources: %w", err)
	}
	out := make([]domain.PaymentSource, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *PaymentSourceRepo) Get(ctx context.Context, id string) (domain.PaymentSource, error) {
	var row paymentSourceRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, network, smart_contract_address, policy_id, fee_rate_permille,
		       admin_wallet_addresses, rpc_provider_api_key, last_identifier_checked,
		       sync_in_progress, sync_in_progress_since, disabled_at, deleted_at
		FROM payment_sources WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PaymentSource{}, ErrNotFound
	}
	if err != nil {
		return domain.PaymentSource{}, fmt.Errorf("store: getting payment source %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// TryAcquireSyncLock enforces the Sync Loop's single-writer semantics
// (spec §4.3): flips sync_in_progress under the caller's serializable
// transaction if no non-expired flag is already set (expiry 3 minutes).
// Returns false without error if another instance currently holds it.
func (r *PaymentSourceRepo) TryAcquireSyncLock(ctx context.Context, tx *sqlx.Tx, sourceID string, expiry time.Duration) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE payment_sources
		SET sync_in_progress = true, sync_in_progress_since = now()
		WHERE id = $1
		  AND (sync_in_progress = false OR sync_in_progress_since < now() - $2::interval)`,
		sourceID, expiry.String())
	if err != nil {
		return false, fmt.Errorf("store: acquiring sync lock for %s: %w", sourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseSyncLock clears sync_in_progress and advances the cursor in one
// statement, called at the end of a successful sync cycle.
func (r *PaymentSourceRepo) ReleaseSyncLock(ctx context.Context, tx *sqlx.Tx, sourceID string, newCursor string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payment_sources
		SET sync_in_progress = false, sync_in_progress_since = NULL, last_identifier_checked = $2
		WHERE id = $1`, sourceID, newCursor)
	if err != nil {
		return fmt.Errorf("store: releasing sync lock for %s: %w", sourceID, err)
	}
	return nil
}
