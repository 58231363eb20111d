package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/escrowd/coordinator/internal/chainadapter"
	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/plutus"
	"github.com/escrowd/coordinator/internal/store"
)

// SyncLockExpiry is the non-expired window a sync_in_progress flag holds
// before another instance is allowed to take over (spec §4.3: "expiry = 3 min").
const SyncLockExpiry = 3 * time.Minute

// SyncLoop reconciles on-chain reality into the relational store for one
// PaymentSource per invocation (spec §4.3). Callers schedule Run on a
// ~10s timer, one goroutine per active PaymentSource.
type SyncLoop struct {
	chain              chainadapter.ChainAdapter
	store              *store.Store
	log                *zap.Logger
	blockConfThreshold int
	maxParallelTx      int
	maxHistoryLevels   int
}

func NewSyncLoop(chain chainadapter.ChainAdapter, s *store.Store, log *zap.Logger, blockConfThreshold, maxParallelTx, maxHistoryLevels int) *SyncLoop {
	return &SyncLoop{
		chain:              chain,
		store:              s,
		log:                log,
		blockConfThreshold: blockConfThreshold,
		maxParallelTx:      maxParallelTx,
		maxHistoryLevels:   maxHistoryLevels,
	}
}

// Run executes one sync cycle for source. It is a no-op, not an error, if
// another instance currently holds the source's sync lock.
func (sl *SyncLoop) Run(ctx context.Context, source domain.PaymentSource) error {
	acquired := false
	err := sl.store.WithSerializable(ctx, func(tx *sqlx.Tx) error {
		ok, err := sl.store.PaymentSources.TryAcquireSyncLock(ctx, tx, source.ID, SyncLockExpiry)
		acquired = ok
		return err
	})
	if err != nil {
		return fmt.Errorf("engine: acquiring sync lock for %s: %w", source.ID, err)
	}
	if !acquired {
		sl.log.Debug("sync already in progress, skipping cycle", zap.String("payment_source_id", source.ID))
		return nil
	}

	discovery, err := sl.discover(ctx, source)
	if err != nil {
		return err
	}

	if len(discovery.RolledBack) > 0 {
		if err := sl.handleRollback(ctx, source, discovery.RolledBack); err != nil {
			return err
		}
	}

	lastHash := source.LastIdentifierChecked
	var lastChecked string
	if lastHash != nil {
		lastChecked = *lastHash
	}

	for _, batch := range batchTxHashes(discovery.New, sl.maxParallelTx) {
		details, err := sl.fetchExtended(ctx, batch)
		if err != nil {
			return err
		}
		for _, d := range details {
			if d.Confirmations < sl.blockConfThreshold {
				sl.log.Debug("tx below confirmation threshold, stopping forward progress",
					zap.String("tx_hash", d.TxHash), zap.Int("confirmations", d.Confirmations))
				return sl.finish(ctx, source.ID, lastChecked)
			}
			if err := sl.processConfirmedTx(ctx, source, d); err != nil {
				sl.log.Error("processing confirmed tx failed", zap.String("tx_hash", d.TxHash), zap.Error(err))
			}
			lastChecked = d.TxHash
		}
	}

	return sl.finish(ctx, source.ID, lastChecked)
}

func (sl *SyncLoop) finish(ctx context.Context, sourceID, newCursor string) error {
	return sl.store.WithSerializable(ctx, func(tx *sqlx.Tx) error {
		return sl.store.PaymentSources.ReleaseSyncLock(ctx, tx, sourceID, newCursor)
	})
}

type discoveryResult struct {
	New        []string // chronological order (oldest first)
	RolledBack []string
}

// discover implements spec §4.3 step 1: page newest-first until the known
// cursor is found, or detect a rollback if it never turns up.
func (sl *SyncLoop) discover(ctx context.Context, source domain.PaymentSource) (discoveryResult, error) {
	var newest []string
	found := source.LastIdentifierChecked == nil

	for page := 1; !found; page++ {
		refs, err := sl.chain.ListTxsAt(ctx, source.SmartContractAddress, page)
		if err != nil {
			return discoveryResult{}, fmt.Errorf("engine: listing txs at %s page %d: %w", source.SmartContractAddress, page, err)
		}
		if len(refs) == 0 {
			break // exhausted the indexer without finding the cursor: rollback
		}
		for _, ref := range refs {
			if source.LastIdentifierChecked != nil && ref.TxHash == *source.LastIdentifierChecked {
				found = true
				break
			}
			newest = append(newest, ref.TxHash)
		}
	}

	chronological := make([]string, len(newest))
	for i, h := range newest {
		chronological[len(newest)-1-i] = h
	}

	if found || source.LastIdentifierChecked == nil {
		return discoveryResult{New: chronological}, nil
	}

	return sl.resolveRollback(ctx, source, chronological)
}

// resolveRollback implements the fork-point search: walk the recorded
// trail, newest first, until a hash is found that still resolves on chain;
// everything newer in the trail is the rollback set.
func (sl *SyncLoop) resolveRollback(ctx context.Context, source domain.PaymentSource, newHashes []string) (discoveryResult, error) {
	trail, err := sl.store.Identifiers.Trail(ctx, source.ID)
	if err != nil {
		return discoveryResult{}, err
	}

	var rolledBack []string
	for _, entry := range trail {
		if _, err := sl.chain.GetTx(ctx, entry.TxHash); err == nil {
			break // fork point found
		}
		rolledBack = append(rolledBack, entry.TxHash)
	}

	return discoveryResult{New: newHashes, RolledBack: rolledBack}, nil
}

func (sl *SyncLoop) handleRollback(ctx context.Context, source domain.PaymentSource, txHashes []string) error {
	handler := &RollbackHandler{store: sl.store, log: sl.log}
	return handler.Handle(ctx, source, txHashes)
}

// fetchExtended runs GetTx for a batch of hashes concurrently, bounded by
// MAX_PARALLEL_TX (spec §4.3 step 3, §5 suspension points).
func (sl *SyncLoop) fetchExtended(ctx context.Context, hashes []string) ([]*chainadapter.TxDetail, error) {
	details := make([]*chainadapter.TxDetail, len(hashes))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range hashes {
		i, h := i, h
		g.Go(func() error {
			d, err := sl.chain.GetTx(gctx, h)
			if err != nil {
				return fmt.Errorf("engine: fetching tx %s: %w", h, err)
			}
			details[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return details, nil
}

func batchTxHashes(hashes []string, size int) [][]string {
	if size <= 0 {
		size = 10
	}
	var batches [][]string
	for i := 0; i < len(hashes); i += size {
		end := i + size
		if end > len(hashes) {
			end = len(hashes)
		}
		batches = append(batches, hashes[i:end])
	}
	return batches
}

// processConfirmedTx classifies one confirmed transaction against the
// script address and dispatches it (spec §4.3 steps 4-6).
func (sl *SyncLoop) processConfirmedTx(ctx context.Context, source domain.PaymentSource, d *chainadapter.TxDetail) error {
	io := extractScriptIO(source.SmartContractAddress, d)

	switch Classify(io) {
	case ClassInitial:
		return sl.processInitial(ctx, source, d, io)
	case ClassTransaction:
		return sl.processTransition(ctx, source, d, io)
	case ClassInvalid:
		sl.log.Warn("invalid script transaction shape, skipping", zap.String("tx_hash", d.TxHash))
		return nil
	default:
		return nil
	}
}

func extractScriptIO(scriptAddr string, d *chainadapter.TxDetail) scriptIO {
	var io scriptIO
	for _, in := range d.Inputs {
		if in.Address == scriptAddr {
			io.ScriptInputs = append(io.ScriptInputs, in)
		}
	}
	for _, out := range d.Outputs {
		if out.Address == scriptAddr {
			io.ScriptOutputs = append(io.ScriptOutputs, out)
		}
	}
	for _, tag := range d.RedeemerTags {
		io.Redeemers = append(io.Redeemers, plutus.Redeemer{Tag: domain.RedeemerTag(tag)})
	}
	return io
}

// decodeOutputDatum decodes a script output's inline datum, returning
// nil if it is absent or undecodable — callers treat both as "skip".
func decodeOutputDatum(u chainadapter.UTXO, log *zap.Logger) *plutus.EscrowDatum {
	if len(u.InlineDatum) == 0 {
		return nil
	}
	d, err := plutus.DecodeDatum(u.InlineDatum)
	if err != nil {
		log.Debug("undecodable inline datum, skipping output", zap.String("tx_hash", u.TxHash), zap.Error(err))
		return nil
	}
	return &d
}
