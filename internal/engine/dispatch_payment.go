package engine

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/plutus"
)

// paymentSpendPlan parameterizes dispatchSpendRedeemerPayment across the
// payment-side redeemer dispatchers, mirroring spendRedeemerPlan on the
// purchase side.
type paymentSpendPlan struct {
	redeemer        domain.RedeemerTag
	initiatedAction domain.PaymentAction
	requestedAction domain.PaymentAction
	mutateDatum     func(datum *plutus.EscrowDatum) // nil when the redeemer leaves no script output
	payoutToSeller  bool
	coSigned        bool
}

// DispatchSubmitResult runs the Submit Result dispatcher (redeemer 5,
// spec §4.4): writes the seller's result_hash into the new datum.
func (d *Dispatcher) DispatchSubmitResult(ctx context.Context, source domain.PaymentSource) {
	reqs, err := d.store.PaymentRequests.ListByNextAction(ctx, source.ID, domain.PaymentActionSubmitResultRequested)
	if err != nil {
		d.log.Error("listing submit-result requests failed", zap.String("payment_source_id", source.ID), zap.Error(err))
		return
	}
	for _, req := range reqs {
		resultHash := req.ResultHash
		if err := d.dispatchSpendRedeemerPayment(ctx, source, req, paymentSpendPlan{
			redeemer:        domain.RedeemerSubmitResult,
			initiatedAction: domain.PaymentActionSubmitResultInitiated,
			requestedAction: domain.PaymentActionSubmitResultRequested,
			mutateDatum: func(datum *plutus.EscrowDatum) {
				datum.ResultHash = resultHash
				if datum.State == domain.ContractRefundRequested || datum.State == domain.ContractDisputed {
					return // a pending refund request turns a late result into a dispute; state already reflects it
				}
				datum.State = domain.ContractResultSubmitted
			},
		}); err != nil {
			d.log.Error("submit result dispatch failed", zap.String("payment_request_id", req.ID), zap.Error(err))
		}
	}
}

// DispatchAuthorizeRefund runs the Authorize Refund dispatcher (redeemer 6,
// admin multi-sig path, spec §4.4).
func (d *Dispatcher) DispatchAuthorizeRefund(ctx context.Context, source domain.PaymentSource) {
	reqs, err := d.store.PaymentRequests.ListByNextAction(ctx, source.ID, domain.PaymentActionAuthorizeRefundRequested)
	if err != nil {
		d.log.Error("listing authorize-refund requests failed", zap.String("payment_source_id", source.ID), zap.Error(err))
		return
	}
	for _, req := range reqs {
		if err := d.dispatchSpendRedeemerPayment(ctx, source, req, paymentSpendPlan{
			redeemer:        domain.RedeemerAllowRefund,
			initiatedAction: domain.PaymentActionAuthorizeRefundInitiated,
			requestedAction: domain.PaymentActionAuthorizeRefundRequested,
			mutateDatum: func(datum *plutus.EscrowDatum) {
				datum.State = domain.ContractRefundRequested
			},
			coSigned: true,
		}); err != nil {
			d.log.Error("authorize refund dispatch failed", zap.String("payment_request_id", req.ID), zap.Error(err))
		}
	}
}

// DispatchWithdraw runs the Withdraw dispatcher (redeemer 0, seller path,
// spec §4.4): eligible once unlock_time has passed and the on-chain state is
// ResultSubmitted.
func (d *Dispatcher) DispatchWithdraw(ctx context.Context, source domain.PaymentSource, nowMs int64) {
	reqs, err := d.store.PaymentRequests.ListByNextAction(ctx, source.ID, domain.PaymentActionWithdrawRequested)
	if err != nil {
		d.log.Error("listing withdraw requests failed", zap.String("payment_source_id", source.ID), zap.Error(err))
		return
	}
	for _, req := range reqs {
		if req.UnlockTime > nowMs {
			continue
		}
		if req.OnChainState == nil || *req.OnChainState != domain.OnChainResultSubmitted {
			continue
		}
		if err := d.dispatchSpendRedeemerPayment(ctx, source, req, paymentSpendPlan{
			redeemer:        domain.RedeemerWithdraw,
			initiatedAction: domain.PaymentActionWithdrawInitiated,
			requestedAction: domain.PaymentActionWithdrawRequested,
			payoutToSeller:  true,
		}); err != nil {
			d.log.Error("withdraw dispatch failed", zap.String("payment_request_id", req.ID), zap.Error(err))
		}
	}
}

// DispatchWithdrawDisputed runs the Withdraw Disputed dispatcher (redeemer
// 4, admin multi-sig path, spec §4.4): eligible once
// external_dispute_unlock_time has passed on a Disputed request. There is no
// *Requested action for this path — an admin triggers it out of band once a
// dispute has sat unresolved past its unlock time — so the target set comes
// from on_chain_state rather than next_action.
func (d *Dispatcher) DispatchWithdrawDisputed(ctx context.Context, source domain.PaymentSource, nowMs int64) {
	reqs, err := d.store.PaymentRequests.ListDisputedPastUnlock(ctx, source.ID, nowMs)
	if err != nil {
		d.log.Error("listing disputed withdrawals failed", zap.String("payment_source_id", source.ID), zap.Error(err))
		return
	}
	for _, req := range reqs {
		if err := d.dispatchWithdrawDisputed(ctx, source, req); err != nil {
			d.log.Error("withdraw disputed dispatch failed", zap.String("payment_request_id", req.ID), zap.Error(err))
		}
	}
}

// dispatchWithdrawDisputed splits the disputed UTXO's value between seller
// and buyer: the seller recovers exactly what was requested of them, the
// buyer takes the collateral-return share plus any remainder. Nothing in
// the retrieval pack's escrow scripts specifies a disputed-withdrawal split
// policy beyond "funds leave the script", so this split (seller gets the
// requested funds, buyer the remaining lovelace) is this coordinator's own
// simplification.
func (d *Dispatcher) dispatchWithdrawDisputed(ctx context.Context, source domain.PaymentSource, req domain.PaymentRequest) error {
	wallet, err := d.store.HotWallets.Get(ctx, req.SmartContractWalletID)
	if err != nil {
		return err
	}
	coSigners := d.adminCoSigners(ctx, source)
	threshold := source.AdminThreshold()

	scriptUTXO, _, err := d.findScriptUTXO(ctx, source.SmartContractAddress, req.BlockchainIdentifier)
	if err != nil {
		return err
	}
	txIn := toTxInput(scriptUTXO)

	inputs, _, err := d.buildInputs(ctx, wallet, d.cfg.MinCollateralLovelace)
	if err != nil {
		return err
	}
	collateral, err := d.buildCollateral(ctx, wallet)
	if err != nil {
		return err
	}

	sellerLovelace, sellerAssets := amountEntriesToOutputValue(req.RequestedFunds)
	buyerLovelace := txIn.Lovelace - sellerLovelace
	if buyerLovelace < 0 {
		buyerLovelace = 0
		sellerLovelace = txIn.Lovelace
	}
	buyerAddr := ""
	if req.CounterpartyWallet != nil {
		buyerAddr = req.CounterpartyWallet.Address
	}

	outputs := []plutus.TxOutput{{Address: wallet.Address, Lovelace: sellerLovelace, Assets: sellerAssets}}
	if buyerAddr != "" && buyerLovelace > 0 {
		outputs = append(outputs, plutus.TxOutput{Address: buyerAddr, Lovelace: buyerLovelace})
	}

	from, to := validityWindow(d.currentSlot(), d.cfg.ValidityWindow)
	plan := plutus.TxPlan{
		Inputs:          inputs,
		ScriptInput:     &txIn,
		Outputs:         outputs,
		Collateral:      collateral,
		ChangeAddress:   wallet.Address,
		Redeemer:        &plutus.Redeemer{Tag: domain.RedeemerWithdrawDisputed},
		ValidFromSlot:   from,
		ValidBeforeSlot: to,
	}
	unsigned, err := d.buildEvaluateRebuild(ctx, plan)
	if err != nil {
		return err
	}

	return d.submitAndFinalize(ctx, wallet, unsigned, coSigners, threshold,
		func(tx *sqlx.Tx, txID, txHash string) error {
			if err := d.store.Transactions.ArchiveCurrent(ctx, tx, "payment_requests", req.ID, d.cfg.MaxHistoryLevels); err != nil {
				return err
			}
			return d.store.PaymentRequests.BeginDispatch(ctx, tx, req.ID, domain.PaymentActionWaitingForManualAction, txID)
		},
		func(tx *sqlx.Tx, txID string, cause error) error {
			return d.store.PaymentRequests.FailDispatch(ctx, tx, req.ID, domain.PaymentActionWaitingForManualAction, domain.ErrorTypeTransient, cause.Error())
		})
}

func (d *Dispatcher) dispatchSpendRedeemerPayment(ctx context.Context, source domain.PaymentSource, req domain.PaymentRequest, p paymentSpendPlan) error {
	wallet, err := d.store.HotWallets.Get(ctx, req.SmartContractWalletID)
	if err != nil {
		return err
	}

	var coSigners []domain.HotWallet
	threshold := 0
	if p.coSigned {
		coSigners = d.adminCoSigners(ctx, source)
		threshold = source.AdminThreshold()
	}

	scriptUTXO, oldDatum, err := d.findScriptUTXO(ctx, source.SmartContractAddress, req.BlockchainIdentifier)
	if err != nil {
		return err
	}
	txIn := toTxInput(scriptUTXO)

	inputs, _, err := d.buildInputs(ctx, wallet, d.cfg.MinCollateralLovelace)
	if err != nil {
		return err
	}
	collateral, err := d.buildCollateral(ctx, wallet)
	if err != nil {
		return err
	}

	var outputs []plutus.TxOutput
	if p.mutateDatum != nil {
		newDatum := oldDatum
		p.mutateDatum(&newDatum)
		datumCBOR, err := newDatum.Encode()
		if err != nil {
			return err
		}
		outputs = []plutus.TxOutput{{
			Address:     source.SmartContractAddress,
			Lovelace:    txIn.Lovelace,
			Assets:      txIn.Assets,
			InlineDatum: datumCBOR,
		}}
	} else if p.payoutToSeller {
		outputs = []plutus.TxOutput{{Address: wallet.Address, Lovelace: txIn.Lovelace, Assets: txIn.Assets}}
	}

	from, to := validityWindow(d.currentSlot(), d.cfg.ValidityWindow)
	plan := plutus.TxPlan{
		Inputs:          inputs,
		ScriptInput:     &txIn,
		Outputs:         outputs,
		Collateral:      collateral,
		ChangeAddress:   wallet.Address,
		Redeemer:        &plutus.Redeemer{Tag: p.redeemer},
		ValidFromSlot:   from,
		ValidBeforeSlot: to,
	}
	unsigned, err := d.buildEvaluateRebuild(ctx, plan)
	if err != nil {
		return err
	}

	return d.submitAndFinalize(ctx, wallet, unsigned, coSigners, threshold,
		func(tx *sqlx.Tx, txID, txHash string) error {
			if err := d.store.Transactions.ArchiveCurrent(ctx, tx, "payment_requests", req.ID, d.cfg.MaxHistoryLevels); err != nil {
				return err
			}
			return d.store.PaymentRequests.BeginDispatch(ctx, tx, req.ID, p.initiatedAction, txID)
		},
		func(tx *sqlx.Tx, txID string, cause error) error {
			return d.store.PaymentRequests.FailDispatch(ctx, tx, req.ID, p.requestedAction, domain.ErrorTypeTransient, cause.Error())
		})
}
