package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/escrowd/coordinator/internal/domain"
)

// HotWalletRepo is the Persistence Façade's view of hot_wallets, including
// the Wallet Locker's lock/unlock/reclaim operations (spec §4.5).
type HotWalletRepo struct {
	db *sqlx.DB
}

type hotWalletRow struct {
	ID                string         `db:"id"`
	PaymentSourceID   string         `db:"payment_source_id"`
	Role              string         `db:"role"`
	VKey              string         `db:"vkey"`
	Address           string         `db:"address"`
	CollectionAddress sql.NullString `db:"collection_address"`
	EncryptedMnemonic []byte         `db:"encrypted_mnemonic"`
	LockedAt          sql.NullTime   `db:"locked_at"`
	Note              string         `db:"note"`
}

func (r hotWalletRow) toDomain() domain.HotWallet {
	w := domain.HotWallet{
		ID:                r.ID,
		PaymentSourceID:   r.PaymentSourceID,
		Role:              domain.WalletRole(r.Role),
		VKey:              r.VKey,
		Address:           r.Address,
		EncryptedMnemonic: r.EncryptedMnemonic,
		Note:              r.Note,
	}
	if r.CollectionAddress.Valid {
		v := r.CollectionAddress.String
		w.CollectionAddress = &v
	}
	if r.LockedAt.Valid {
		v := r.LockedAt.Time
		w.LockedAt = &v
	}
	return w
}

func (r *HotWalletRepo) Get(ctx context.Context, id string) (domain.HotWallet, error) {
	var row hotWalletRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, payment_source_id, role, vkey, address, collection_address,
		       encrypted_mnemonic, locked_at, note
		FROM hot_wallets WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.HotWallet{}, ErrNotFound
	}
	if err != nil {
		return domain.HotWallet{}, fmt.Errorf("store: getting hot wallet %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// GetByAddress locates a HotWallet by its on-chain address, used to resolve
// a PaymentSource's admin_wallet_addresses back to signable HotWallet rows
// for multi-sig co-signing (spec §4.4 Authorize Refund / Withdraw Disputed).
func (r *HotWalletRepo) GetByAddress(ctx context.Context, address string) (domain.HotWallet, error) {
	var row hotWalletRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, payment_source_id, role, vkey, address, collection_address,
		       encrypted_mnemonic, locked_at, note
		FROM hot_wallets WHERE address = $1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.HotWallet{}, ErrNotFound
	}
	if err != nil {
		return domain.HotWallet{}, fmt.Errorf("store: getting hot wallet for address %s: %w", address, err)
	}
	return row.toDomain(), nil
}

// GetByVKey locates a HotWallet by its verification key, the lookup the
// downstream register_agent/create_purchase operations use to resolve a
// caller-supplied vkey to one of this coordinator's own wallets (spec.md §6).
func (r *HotWalletRepo) GetByVKey(ctx context.Context, sourceID, vkey string) (domain.HotWallet, error) {
	var row hotWalletRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, payment_source_id, role, vkey, address, collection_address,
		       encrypted_mnemonic, locked_at, note
		FROM hot_wallets WHERE payment_source_id = $1 AND vkey = $2`, sourceID, vkey)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.HotWallet{}, ErrNotFound
	}
	if err != nil {
		return domain.HotWallet{}, fmt.Errorf("store: getting hot wallet for vkey: %w", err)
	}
	return row.toDomain(), nil
}

// TryLock enforces invariant I2 in one statement inside the caller's
// serializable transaction: a wallet locks only if it is not already locked
// and has no Pending transaction outstanding.
func (r *HotWalletRepo) TryLock(ctx context.Context, tx *sqlx.Tx, walletID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE hot_wallets
		SET locked_at = now()
		WHERE id = $1
		  AND locked_at IS NULL
		  AND NOT EXISTS (
		      SELECT 1 FROM transactions
		      WHERE blocks_wallet_id = $1 AND status = 'Pending'
		  )`, walletID)
	if err != nil {
		return false, fmt.Errorf("store: locking wallet %s: %w", walletID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Unlock clears locked_at; callers apply this atomically with the
// Transaction status change (Pending -> Confirmed|RolledBack) inside the
// same serializable transaction.
func (r *HotWalletRepo) Unlock(ctx context.Context, tx *sqlx.Tx, walletID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE hot_wallets SET locked_at = NULL WHERE id = $1`, walletID)
	if err != nil {
		return fmt.Errorf("store: unlocking wallet %s: %w", walletID, err)
	}
	return nil
}

// ReclaimStale clears locked_at on any wallet whose lock has outlived
// lockTimeout (default 10 min, spec §4.5) and has no genuinely Pending
// transaction — any dispatcher may call this before attempting TryLock.
func (r *HotWalletRepo) ReclaimStale(ctx context.Context, lockTimeout time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE hot_wallets
		SET locked_at = NULL
		WHERE locked_at IS NOT NULL
		  AND locked_at < now() - $1::interval
		  AND NOT EXISTS (
		      SELECT 1 FROM transactions
		      WHERE blocks_wallet_id = hot_wallets.id AND status = 'Pending'
		  )`, lockTimeout.String())
	if err != nil {
		return 0, fmt.Errorf("store: reclaiming stale wallet locks: %w", err)
	}
	return res.RowsAffected()
}

// ListByRole returns every HotWallet of a role for a PaymentSource, used to
// pick the fee-receiver or find the one selling/purchasing wallet a
// dispatcher should sign with.
func (r *HotWalletRepo) ListByRole(ctx context.Context, sourceID string, role domain.WalletRole) ([]domain.HotWallet, error) {
	var rows []hotWalletRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, payment_source_id, role, vkey, address, collection_address,
		       encrypted_mnemonic, locked_at, note
		FROM hot_wallets WHERE payment_source_id = $1 AND role = $2`, sourceID, string(role))
	if err != nil {
		return nil, fmt.Errorf("store: listing %s wallets for %s: %w", role, sourceID, err)
	}
	out := make([]domain.HotWallet, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}
