package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/escrowd/coordinator/internal/chainadapter"
	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/plutus"
	"github.com/escrowd/coordinator/internal/store"
	"github.com/escrowd/coordinator/internal/walletsigner"
)

// DispatcherConfig holds the settings every Action Dispatcher needs
// (spec.md §6's MAX_UTXOS_PER_TX, MIN_COLLATERAL_LOVELACE).
type DispatcherConfig struct {
	MaxUTXOsPerTx         int
	MinCollateralLovelace int64
	ValidityWindow        time.Duration // +/- applied to valid_before/valid_after
	MaxHistoryLevels      int           // mirrors SyncLoop's MAX_HISTORY_LEVELS for ArchiveCurrent
}

// Dispatcher is the shared machinery every one of the ten Action
// Dispatchers builds on: coin selection, build-evaluate-rebuild, the
// placeholder Transaction + lock dance, signing and submission
// (spec §4.4 steps 1-6).
type Dispatcher struct {
	chain  chainadapter.ChainAdapter
	store  *store.Store
	codec  *plutus.Codec
	signer *walletsigner.Signer
	locker *WalletLocker
	log    *zap.Logger
	cfg    DispatcherConfig
}

func NewDispatcher(chain chainadapter.ChainAdapter, s *store.Store, signer *walletsigner.Signer, log *zap.Logger, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		chain:  chain,
		store:  s,
		codec:  plutus.NewCodec(),
		signer: signer,
		locker: NewWalletLocker(s),
		log:    log,
		cfg:    cfg,
	}
}

// buildInputs performs step 1: fetch UTXOs at wallet.Address, coin-select
// down to cfg.MaxUTXOsPerTx, and convert to the Codec's TxInput shape.
func (d *Dispatcher) buildInputs(ctx context.Context, wallet domain.HotWallet, requiredLovelace int64) ([]plutus.TxInput, int64, error) {
	utxos, err := d.chain.ListUTXOsAt(ctx, wallet.Address)
	if err != nil {
		return nil, 0, fmt.Errorf("engine: listing utxos at %s: %w", wallet.Address, err)
	}
	selected, total, err := chainadapter.SelectUTXOs(utxos, requiredLovelace, d.cfg.MaxUTXOsPerTx)
	if err != nil {
		return nil, 0, err
	}
	return toTxInputs(selected), total, nil
}

func (d *Dispatcher) buildCollateral(ctx context.Context, wallet domain.HotWallet) (*plutus.TxInput, error) {
	utxos, err := d.chain.ListUTXOsAt(ctx, wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("engine: listing utxos at %s: %w", wallet.Address, err)
	}
	collateral, err := chainadapter.SelectCollateral(utxos, d.cfg.MinCollateralLovelace)
	if err != nil {
		return nil, err
	}
	in := toTxInput(collateral)
	return &in, nil
}

func toTxInputs(utxos []chainadapter.UTXO) []plutus.TxInput {
	out := make([]plutus.TxInput, len(utxos))
	for i, u := range utxos {
		out[i] = toTxInput(u)
	}
	return out
}

func toTxInput(u chainadapter.UTXO) plutus.TxInput {
	in := plutus.TxInput{TxHash: u.TxHash, OutputIndex: u.OutputIndex, Address: u.Address, Assets: map[string]int64{}}
	for _, a := range u.Amounts {
		if a.Unit == "lovelace" {
			in.Lovelace = a.Quantity
			continue
		}
		in.Assets[a.Unit] = a.Quantity
	}
	return in
}

func amountEntriesToOutputValue(requested []domain.AmountEntry) (int64, map[string]int64) {
	var lovelace int64
	assets := map[string]int64{}
	for _, e := range requested {
		if e.Unit == "lovelace" {
			lovelace += e.Amount
			continue
		}
		assets[e.Unit] = e.Amount
	}
	return lovelace, assets
}

// validityWindow computes slot bounds for tx.valid_before/valid_after
// (spec §4.4: "now - 150s .. now + 150s"). nowSlot is passed in rather than
// derived from time.Now() so dispatch tests stay deterministic.
func validityWindow(nowSlot int64, window time.Duration) (from, to int64) {
	secs := int64(window.Seconds())
	return nowSlot - secs, nowSlot + secs
}

// submitAndFinalize performs steps 4-6 shared by every dispatcher: lock the
// wallet and create the placeholder Transaction, sign, submit, and record
// the result. onSuccess/onFailure let each dispatcher apply its own entity
// state transition while sharing the lock/sign/submit mechanics.
func (d *Dispatcher) submitAndFinalize(ctx context.Context, wallet domain.HotWallet, unsignedTx []byte, coSigners []domain.HotWallet, threshold int, onSuccess func(tx *sqlx.Tx, txID, txHash string) error, onFailure func(tx *sqlx.Tx, txID string, cause error) error) error {
	txID, err := d.locker.LockForTransaction(ctx, wallet.ID)
	if err != nil {
		return err
	}

	signed, signErr := d.signTransaction(wallet, unsignedTx, coSigners, threshold)
	if signErr != nil {
		return d.fail(ctx, wallet.ID, txID, signErr, onFailure)
	}

	txHash, submitErr := d.chain.SubmitTx(ctx, signed)
	if submitErr != nil {
		return d.fail(ctx, wallet.ID, txID, submitErr, onFailure)
	}
	d.logSubmission(wallet, txHash)

	return d.store.WithSerializable(ctx, func(tx *sqlx.Tx) error {
		if err := d.store.Transactions.SetSubmittedHash(ctx, tx, txID, txHash); err != nil {
			return err
		}
		return onSuccess(tx, txID, txHash)
	})
}

func (d *Dispatcher) signTransaction(wallet domain.HotWallet, unsignedTx []byte, coSigners []domain.HotWallet, threshold int) ([]byte, error) {
	primary, err := d.signer.Sign(wallet, unsignedTx)
	if err != nil {
		return nil, err
	}
	vkeys := [][]byte{decodeVKey(wallet)}
	sigs := [][]byte{primary}

	if len(coSigners) > 0 {
		adminSigs, err := d.signer.CoSign(coSigners, threshold, unsignedTx)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, adminSigs...)
		// CoSign stops as soon as threshold is reached, skipping wallets it
		// can't decrypt, so only the first len(adminSigs) coSigners in order
		// actually contributed a signature.
		for i := 0; i < len(adminSigs); i++ {
			vkeys = append(vkeys, decodeVKey(coSigners[i]))
		}
	}
	return plutus.AttachWitnesses(unsignedTx, vkeys, sigs)
}

// logSubmission logs a submitted transaction with the wallet's address in
// CIP-19 bech32 form, since the hex credential pairs this module stores
// internally aren't something an operator can recognize at a glance.
func (d *Dispatcher) logSubmission(wallet domain.HotWallet, txHash string) {
	addr, err := plutus.DecodeAddress(wallet.Address)
	if err != nil {
		d.log.Info("submitted transaction", zap.String("tx_hash", txHash), zap.String("wallet_id", wallet.ID))
		return
	}
	bech32Addr, err := plutus.EncodeAddressBech32(addr)
	if err != nil {
		d.log.Info("submitted transaction", zap.String("tx_hash", txHash), zap.String("wallet_id", wallet.ID))
		return
	}
	d.log.Info("submitted transaction", zap.String("tx_hash", txHash), zap.String("wallet_address", bech32Addr))
}

func decodeVKey(wallet domain.HotWallet) []byte {
	raw, err := hex.DecodeString(wallet.VKey)
	if err != nil {
		return nil
	}
	return raw
}

// buildEvaluateRebuild performs spec §4.4 steps 2-3. This Codec's builder
// (apollo's Complete) balances and bakes in redeemer execution-unit budgets
// as part of a single build pass, so there is no separate rebuild call here;
// EvaluateTx is still invoked against the built body whenever a script is
// involved, so an evaluation failure fails the dispatch; the budgets it
// returns are discarded, neither logged nor threaded back into a second
// Build call.
func (d *Dispatcher) buildEvaluateRebuild(ctx context.Context, plan plutus.TxPlan) ([]byte, error) {
	unsigned, err := d.codec.Build(plan)
	if err != nil {
		return nil, fmt.Errorf("engine: building transaction: %w", err)
	}
	if plan.ScriptInput != nil || plan.MintAssetName != nil {
		if _, err := d.chain.EvaluateTx(ctx, unsigned); err != nil {
			return nil, fmt.Errorf("engine: evaluating transaction: %w", err)
		}
	}
	return unsigned, nil
}

// currentSlot stands in for a real slot-tip lookup: nothing in the
// retrieval pack exposes a chain-tip/slot-conversion endpoint, and post-
// Shelley Cardano slots advance one per second, so unix time is a safe
// approximation for the +/-150s validity window spec §4.4 asks for.
func (d *Dispatcher) currentSlot() int64 {
	return time.Now().Unix()
}

// findScriptUTXO locates the one script-address UTXO whose inline datum
// carries blockchainID, the input every state-transition dispatcher spends
// (spec §4.4 step 2's "script attachment").
func (d *Dispatcher) findScriptUTXO(ctx context.Context, scriptAddr, blockchainID string) (chainadapter.UTXO, plutus.EscrowDatum, error) {
	utxos, err := d.chain.ListUTXOsAt(ctx, scriptAddr)
	if err != nil {
		return chainadapter.UTXO{}, plutus.EscrowDatum{}, fmt.Errorf("engine: listing script utxos at %s: %w", scriptAddr, err)
	}
	for _, u := range utxos {
		if len(u.InlineDatum) == 0 {
			continue
		}
		datum, err := plutus.DecodeDatum(u.InlineDatum)
		if err != nil {
			continue
		}
		if datum.BlockchainIdentifier == blockchainID {
			return u, datum, nil
		}
	}
	return chainadapter.UTXO{}, plutus.EscrowDatum{}, fmt.Errorf("engine: no script utxo found for blockchain identifier %s", blockchainID)
}

// adminCoSigners resolves a PaymentSource's admin addresses to the
// coordinator's own HotWallet rows for co-signing (spec §4.4 Authorize
// Refund / Withdraw Disputed); an admin address this instance does not hold
// a HotWallet row for is skipped, the same "not locally held" tolerance
// walletsigner.CoSign already applies to the signing step itself.
func (d *Dispatcher) adminCoSigners(ctx context.Context, source domain.PaymentSource) []domain.HotWallet {
	wallets := make([]domain.HotWallet, 0, len(source.AdminWalletAddresses))
	for _, addr := range source.AdminWalletAddresses {
		w, err := d.store.HotWallets.GetByAddress(ctx, addr)
		if err != nil {
			continue
		}
		wallets = append(wallets, w)
	}
	return wallets
}

func strPtr(s string) *string { return &s }

func (d *Dispatcher) fail(ctx context.Context, walletID, txID string, cause error, onFailure func(tx *sqlx.Tx, txID string, cause error) error) error {
	d.log.Error("dispatcher attempt failed", zap.String("wallet_id", walletID), zap.String("transaction_id", txID), zap.Error(cause))
	return d.store.WithSerializable(ctx, func(tx *sqlx.Tx) error {
		if err := onFailure(tx, txID, cause); err != nil {
			return err
		}
		return d.store.HotWallets.Unlock(ctx, tx, walletID)
	})
}
