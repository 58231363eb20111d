// Package store is the coordinator's Persistence Façade: narrow,
// entity-scoped repositories wrapping a Postgres pool, plus the
// serializable-transaction helper every invariant in the State Engine
// depends on. No other package opens a *sql.DB directly.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// serializationFailure is Postgres's SQLSTATE for a SERIALIZABLE transaction
// that lost a write-write or read-write conflict and must be retried from
// the top; see https://www.postgresql.org/docs/current/errcodes-appendix.html.
const serializationFailure = "40001"

// serializableRetryBudget bounds how long WithSerializable keeps retrying a
// conflicting transaction before giving up and surfacing the error.
const serializableRetryBudget = 5 * time.Second

// Store bundles the pool and every repository. It is constructed once at
// process bootstrap and shared by every Sync Loop / Action Dispatcher.
type Store struct {
	db *sqlx.DB

	PaymentSources  *PaymentSourceRepo
	HotWallets      *HotWalletRepo
	PaymentRequests *PaymentRequestRepo
	Purchases       *PurchaseRequestRepo
	Registry        *RegistryRequestRepo
	Transactions    *TransactionRepo
	Identifiers     *IdentifierRepo
}

// Open connects to Postgres via pgx's database/sql driver (registered under
// stdlib.Driver) wrapped in sqlx for scan convenience, and wires up every
// repository against the shared pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connecting to postgres: %w", err)
	}

	s := &Store{db: db}
	s.PaymentSources = &PaymentSourceRepo{db: db}
	s.HotWallets = &HotWalletRepo{db: db}
	s.PaymentRequests = &PaymentRequestRepo{db: db}
	s.Purchases = &PurchaseRequestRepo{db: db}
	s.Registry = &RegistryRequestRepo{db: db}
	s.Transactions = &TransactionRepo{db: db}
	s.Identifiers = &IdentifierRepo{db: db}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithSerializable runs fn inside a SERIALIZABLE transaction, committing on
// nil return and rolling back otherwise. Every cross-entity invariant in the
// State Engine (wallet locking, cursor advancement, mirror-entity updates)
// goes through this so concurrent Sync Loop / Action Dispatcher instances
// never observe a half-applied state.
//
// A SERIALIZABLE transaction can abort with a 40001 serialization_failure
// when it loses a conflict to a concurrent transaction; that failure means
// "retry from the start," not "the operation is invalid." WithSerializable
// retries fn on 40001 with a short jittered backoff until either it succeeds
// or serializableRetryBudget elapses, at which point it gives up and returns
// the last error.
func (s *Store) WithSerializable(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	deadline := time.Now().Add(serializableRetryBudget)
	attempt := 0

	for {
		err := s.runSerializable(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) || time.Now().After(deadline) {
			return err
		}

		attempt++
		backoff := time.Duration(attempt) * 20 * time.Millisecond
		backoff += time.Duration(rand.Int63n(int64(10 * time.Millisecond)))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
	}
}

func (s *Store) runSerializable(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("store: beginning serializable tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: rollback after %w failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing serializable tx: %w", err)
	}
	return nil
}

// isSerializationFailure reports whether err is (or wraps) a Postgres 40001
// serialization_failure, the only error class worth retrying here — any
// other error, including fn's own validation errors, propagates immediately.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}
