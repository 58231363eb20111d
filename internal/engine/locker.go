package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/escrowd/coordinator/internal/chainadapter"
	"github.com/escrowd/coordinator/internal/store"
)

// DefaultLockTimeout is LOCK_TIMEOUT (spec §4.5): how long a HotWallet lock
// may stand before any dispatcher is allowed to reclaim it as stale.
const DefaultLockTimeout = 10 * time.Minute

// WalletLocker enforces invariant I2: a wallet locks only while it is free
// and has no Pending transaction, and unlock happens atomically with the
// Transaction's terminal status change.
type WalletLocker struct {
	store *store.Store
}

func NewWalletLocker(s *store.Store) *WalletLocker {
	return &WalletLocker{store: s}
}

// LockForTransaction reclaims any stale lock on walletID, then attempts to
// acquire it and create the placeholder Pending Transaction in the same
// serializable transaction (spec §4.4 steps 3-4, §4.5). It returns the new
// Transaction id, or chainadapter.ErrCodeWalletLocked wrapped as a
// UserIntervention ChainError if another instance holds the wallet.
func (l *WalletLocker) LockForTransaction(ctx context.Context, walletID string) (string, error) {
	if _, err := l.store.HotWallets.ReclaimStale(ctx, DefaultLockTimeout); err != nil {
		return "", err
	}

	txID := uuid.NewString()
	err := l.store.WithSerializable(ctx, func(tx *sqlx.Tx) error {
		locked, err := l.store.HotWallets.TryLock(ctx, tx, walletID)
		if err != nil {
			return err
		}
		if !locked {
			return chainadapter.NewUserInterventionError(chainadapter.ErrCodeWalletLocked, "wallet "+walletID+" is already locked", nil)
		}
		return l.store.Transactions.CreatePending(ctx, tx, txID, walletID)
	})
	if err != nil {
		return "", err
	}
	return txID, nil
}

// Release applies the Transaction's terminal status and clears the wallet
// lock atomically, as invariant I2 requires.
func (l *WalletLocker) Release(ctx context.Context, walletID, transactionID string, confirmed bool) error {
	return l.store.WithSerializable(ctx, func(tx *sqlx.Tx) error {
		if confirmed {
			if err := l.store.Transactions.Confirm(ctx, tx, transactionID); err != nil {
				return err
			}
		} else {
			if err := l.store.Transactions.RollBack(ctx, tx, transactionID); err != nil {
				return err
			}
		}
		return l.store.HotWallets.Unlock(ctx, tx, walletID)
	})
}
