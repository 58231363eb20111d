package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/escrowd/coordinator/internal/domain"
)

// TransactionRepo is the Persistence Façade's view of transactions.
type TransactionRepo struct {
	db *sqlx.DB
}

type transactionRow struct {
	ID             string         `db:"id"`
	TxHash         string         `db:"tx_hash"`
	Status         string         `db:"status"`
	BlocksWalletID sql.NullString `db:"blocks_wallet_id"`
}

func (r transactionRow) toDomain() domain.Transaction {
	t := domain.Transaction{ID: r.ID, TxHash: r.TxHash, Status: domain.TransactionStatus(r.Status)}
	if r.BlocksWalletID.Valid {
		v := r.BlocksWalletID.String
		t.BlocksWalletID = &v
	}
	return t
}

// CreatePending inserts the placeholder Transaction{tx_hash="", status=Pending}
// a dispatcher writes before signing (spec §4.4 step 4), atomically with the
// wallet lock it's paired with via HotWalletRepo.TryLock in the same tx.
func (r *TransactionRepo) CreatePending(ctx context.Context, tx *sqlx.Tx, id, walletID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, tx_hash, status, blocks_wallet_id)
		VALUES ($1, '', 'Pending', $2)`, id, walletID)
	if err != nil {
		return fmt.Errorf("store: creating pending transaction %s: %w", id, err)
	}
	return nil
}

// SetSubmittedHash records the hash returned by ChainAdapter.SubmitTx.
func (r *TransactionRepo) SetSubmittedHash(ctx context.Context, tx *sqlx.Tx, id, txHash string) error {
	_, err := tx.ExecContext(ctx, `UPDATE transactions SET tx_hash = $2 WHERE id = $1`, id, txHash)
	if err != nil {
		return fmt.Errorf("store: setting tx hash for %s: %w", id, err)
	}
	return nil
}

// Confirm transitions Pending -> Confirmed. It only updates the status; the
// caller releases the wallet in the same transaction via WalletLocker.Release
// (invariant I2's unlock-is-atomic rule).
func (r *TransactionRepo) Confirm(ctx context.Context, tx *sqlx.Tx, id string) error {
	return r.setStatus(ctx, tx, id, domain.TxStatusConfirmed)
}

// RollBack transitions Pending -> RolledBack, used by the Rollback Handler.
func (r *TransactionRepo) RollBack(ctx context.Context, tx *sqlx.Tx, id string) error {
	return r.setStatus(ctx, tx, id, domain.TxStatusRolledBack)
}

func (r *TransactionRepo) setStatus(ctx context.Context, tx *sqlx.Tx, id string, status domain.TransactionStatus) error {
	_, err := tx.ExecContext(ctx, `UPDATE transactions SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("store: setting transaction %s status to %s: %w", id, status, err)
	}
	return nil
}

func (r *TransactionRepo) Get(ctx context.Context, id string) (domain.Transaction, error) {
	var row transactionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, tx_hash, status, blocks_wallet_id FROM transactions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transaction{}, ErrNotFound
	}
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("store: getting transaction %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// GetByTxHash locates a Transaction by its submitted hash, used by the
// Rollback Handler to map a rolled-back chain hash back to its row.
func (r *TransactionRepo) GetByTxHash(ctx context.Context, txHash string) (domain.Transaction, error) {
	var row transactionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, tx_hash, status, blocks_wallet_id FROM transactions WHERE tx_hash = $1`, txHash)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transaction{}, ErrNotFound
	}
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("store: getting transaction for hash %s: %w", txHash, err)
	}
	return row.toDomain(), nil
}

// ArchiveCurrent moves an entity's current_transaction into its
// transaction_history array, capped at MAX_HISTORY_LEVELS entries (oldest
// dropped first) — called whenever a new Transaction becomes current
// (spec §4.3.1's "move prior current_tx to history").
func (r *TransactionRepo) ArchiveCurrent(ctx context.Context, tx *sqlx.Tx, table, entityID string, maxHistory int) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET transaction_history = (
		    SELECT extended[GREATEST(1, array_length(extended, 1) - $2 + 1):]
		    FROM (SELECT array_append(transaction_history, current_transaction_id) AS extended) s
		)
		WHERE id = $1 AND current_transaction_id IS NOT NULL`, validTableIdent(table))
	_, err := tx.ExecContext(ctx, query, entityID, maxHistory)
	if err != nil {
		return fmt.Errorf("store: archiving current transaction for %s %s: %w", table, entityID, err)
	}
	return nil
}

// validTableIdent is a tiny allowlist guard: table is always one of the two
// literal constants below, never user input, but a raw Sprintf into SQL
// still gets a check so a future caller can't silently widen it.
func validTableIdent(table string) string {
	switch table {
	case "payment_requests", "purchase_requests":
		return table
	default:
		panic("store: ArchiveCurrent called with unexpected table " + table)
	}
}
