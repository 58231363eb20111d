package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/escrowd/coordinator/internal/domain"
)

// IdentifierRepo is the Persistence Façade's view of
// payment_source_identifiers, the append-only cursor trail the Sync Loop
// uses to detect rollbacks (invariant I7).
type IdentifierRepo struct {
	db *sqlx.DB
}

// Append records a newly-processed tx hash in the trail, inside the same
// transaction that wrote its state change (spec §4.3 step 6).
func (r *IdentifierRepo) Append(ctx context.Context, tx *sqlx.Tx, sourceID, txHash string, blockTimeMs int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payment_source_identifiers (id, payment_source_id, tx_hash, block_time_ms, observed_at)
		VALUES ($1, $2, $3, $4, now())`, uuid.NewString(), sourceID, txHash, blockTimeMs)
	if err != nil {
		return fmt.Errorf("store: appending identifier %s for %s: %w", txHash, sourceID, err)
	}
	return nil
}

// Trail returns every recorded identifier for a source, most recent first —
// the rollback fork-point search walks this looking for the latest hash
// that still exists on chain.
func (r *IdentifierRepo) Trail(ctx context.Context, sourceID string) ([]domain.PaymentSourceIdentifier, error) {
	var rows []struct {
		ID              string    `db:"id"`
		PaymentSourceID string    `db:"payment_source_id"`
		TxHash          string    `db:"tx_hash"`
		BlockTimeMs     int64     `db:"block_time_ms"`
		ObservedAt      time.Time `db:"observed_at"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, payment_source_id, tx_hash, block_time_ms, observed_at
		FROM payment_source_identifiers
		WHERE payment_source_id = $1
		ORDER BY observed_at DESC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: listing identifier trail for %s: %w", sourceID, err)
	}
	out := make([]domain.PaymentSourceIdentifier, len(rows))
	for i, row := range rows {
		out[i] = domain.PaymentSourceIdentifier{
			ID:              row.ID,
			PaymentSourceID: row.PaymentSourceID,
			TxHash:          row.TxHash,
			BlockTimeMs:     row.BlockTimeMs,
			ObservedAt:      row.ObservedAt,
		}
	}
	return out, nil
}

// DeleteHashes removes specific trail entries by hash — used by the
// Rollback Handler once it has classified exactly which hashes no longer
// resolve on chain, rather than reasoning about a single fork point.
func (r *IdentifierRepo) DeleteHashes(ctx context.Context, tx *sqlx.Tx, sourceID string, txHashes []string) error {
	if len(txHashes) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM payment_source_identifiers
		WHERE payment_source_id = $1 AND tx_hash = ANY($2)`, sourceID, pq.Array(txHashes))
	if err != nil {
		return fmt.Errorf("store: deleting rolled-back identifiers for %s: %w", sourceID, err)
	}
	return nil
}

// TruncateAfter deletes every trail entry newer than keepTxHash, so the
// trail reflects only the chain's current shape going forward. Nothing in
// the module calls it; the Rollback Handler removes entries with
// DeleteHashes.
func (r *IdentifierRepo) TruncateAfter(ctx context.Context, tx *sqlx.Tx, sourceID, keepTxHash string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM payment_source_identifiers
		WHERE payment_source_id = $1
		  AND observed_at > (
		      SELECT observed_at FROM payment_source_identifiers
		      WHERE payment_source_id = $1 AND tx_hash = $2
		  )`, sourceID, keepTxHash)
	if err != nil {
		return fmt.Errorf("store: truncating identifier trail for %s after %s: %w", sourceID, keepTxHash, err)
	}
	return nil
}
