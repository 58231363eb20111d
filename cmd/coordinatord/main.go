// Command coordinatord is the escrow coordinator's long-running process:
// one Sync Loop goroutine and one Action Dispatcher goroutine per active
// PaymentSource, each on its own ticker, until SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/escrowd/coordinator/internal/chainadapter"
	"github.com/escrowd/coordinator/internal/config"
	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/engine"
	"github.com/escrowd/coordinator/internal/store"
	"github.com/escrowd/coordinator/internal/walletsigner"
)

// dispatchInterval and syncInterval are the dispatcher/sync-loop cadences
// named in spec §4.3/§4.4 ("schedule Run on a ~10s timer").
const (
	syncInterval      = 10 * time.Second
	dispatchInterval  = 10 * time.Second
	reclaimInterval   = time.Minute
	activeSourcesPoll = 30 * time.Second
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("loading configuration", zap.Error(err))
	}
	cfg.WarnIfInsecure(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("opening store", zap.Error(err))
	}
	defer db.Close()

	indexerTimeout, err := time.ParseDuration(cfg.IndexerTimeout)
	if err != nil {
		log.Fatal("parsing INDEXER_TIMEOUT", zap.Error(err))
	}
	chain := chainadapter.NewIndexerClient(cfg.IndexerBaseURL, cfg.IndexerAPIKey, indexerTimeout, log)

	lockTimeout, err := time.ParseDuration(cfg.LockTimeout)
	if err != nil {
		log.Fatal("parsing LOCK_TIMEOUT", zap.Error(err))
	}
	validityWindow, err := time.ParseDuration(cfg.RevealDataValidityTime)
	if err != nil {
		log.Fatal("parsing REVEAL_DATA_VALIDITY_TIME", zap.Error(err))
	}

	signer := walletsigner.NewSigner([]byte(cfg.AdminKey))
	syncLoop := engine.NewSyncLoop(chain, db, log, cfg.BlockConfirmationsThreshold, cfg.MaxParallelTx, cfg.MaxHistoryLevels)
	dispatcher := engine.NewDispatcher(chain, db, signer, log, engine.DispatcherConfig{
		MaxUTXOsPerTx:         cfg.MaxUTXOsPerTx,
		MinCollateralLovelace: cfg.MinCollateralLovelace,
		ValidityWindow:        validityWindow,
		MaxHistoryLevels:      cfg.MaxHistoryLevels,
	})

	sup := newSupervisor(db, syncLoop, dispatcher, log, lockTimeout)
	if err := sup.run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("supervisor exited", zap.Error(err))
	}
	log.Info("shutting down")
}

// supervisor keeps one goroutine pair (sync loop + dispatch round) running
// per active PaymentSource, starting a pair for each newly active source;
// pairs already running are neither stopped nor restarted when the roster
// changes.
type supervisor struct {
	store      *store.Store
	syncLoop   *engine.SyncLoop
	dispatcher *engine.Dispatcher
	log        *zap.Logger
	lockTimeout time.Duration

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func newSupervisor(s *store.Store, sl *engine.SyncLoop, d *engine.Dispatcher, log *zap.Logger, lockTimeout time.Duration) *supervisor {
	return &supervisor{
		store:       s,
		syncLoop:    sl,
		dispatcher:  d,
		log:         log,
		lockTimeout: lockTimeout,
		running:     make(map[string]context.CancelFunc),
	}
}

func (sup *supervisor) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sup.reconcileLoop(ctx) })
	g.Go(func() error { return sup.reclaimLoop(ctx) })

	<-ctx.Done()
	sup.mu.Lock()
	for _, cancel := range sup.running {
		cancel()
	}
	sup.mu.Unlock()
	return g.Wait()
}

// reconcileLoop polls for active PaymentSources and starts a worker pair for
// any one not already running, on activeSourcesPoll (spec.md's roster is
// expected to change rarely: new sources are provisioned out-of-band).
func (sup *supervisor) reconcileLoop(ctx context.Context) error {
	ticker := time.NewTicker(activeSourcesPoll)
	defer ticker.Stop()

	for {
		sources, err := sup.store.PaymentSources.ListActive(ctx)
		if err != nil {
			sup.log.Error("listing active payment sources", zap.Error(err))
		} else {
			sup.startMissing(ctx, sources)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// startMissing launches a worker goroutine pair for every source not already
// running. Workers are never stopped individually when a source disappears
// from the active roster mid-run; they exit on ctx cancellation like
// everything else, and a disabled/deleted source's own dispatchers simply
// find nothing left to select.
func (sup *supervisor) startMissing(ctx context.Context, sources []domain.PaymentSource) {
	sup.mu.Lock()
	defer sup.mu.Unlock()

	for _, source := range sources {
		if _, ok := sup.running[source.ID]; ok {
			continue
		}
		workerCtx, cancel := context.WithCancel(ctx)
		sup.running[source.ID] = cancel
		go sup.runSyncLoop(workerCtx, source)
		go sup.runDispatchLoop(workerCtx, source)
	}
}

func (sup *supervisor) runSyncLoop(ctx context.Context, source domain.PaymentSource) {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sup.syncLoop.Run(ctx, source); err != nil {
				sup.log.Error("sync loop cycle failed", zap.String("payment_source_id", source.ID), zap.Error(err))
			}
		}
	}
}

func (sup *supervisor) runDispatchLoop(ctx context.Context, source domain.PaymentSource) {
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sup.dispatcher.DispatchRound(ctx, source, time.Now().UnixMilli())
		}
	}
}

// reclaimLoop clears stale hot-wallet locks on its own cadence, independent
// of any one PaymentSource's dispatch round (spec §4.5 lock reclamation).
func (sup *supervisor) reclaimLoop(ctx context.Context) error {
	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := sup.store.HotWallets.ReclaimStale(ctx, sup.lockTimeout); err != nil {
				sup.log.Error("reclaiming stale wallet locks", zap.Error(err))
			} else if n > 0 {
				sup.log.Info("reclaimed stale wallet locks", zap.Int64("count", n))
			}
		}
	}
}
