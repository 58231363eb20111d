package engine

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/plutus"
)

// DispatchLockFunds runs the Lock Funds dispatcher: every PurchaseRequest in
// FundsLockingRequested gets its Initial transaction built and submitted
// (spec §4.4).
func (d *Dispatcher) DispatchLockFunds(ctx context.Context, source domain.PaymentSource) {
	reqs, err := d.store.Purchases.ListByNextAction(ctx, source.ID, domain.PurchasingActionFundsLockingRequested)
	if err != nil {
		d.log.Error("listing fund-locking requests failed", zap.String("payment_source_id", source.ID), zap.Error(err))
		return
	}
	for _, req := range reqs {
		if err := d.dispatchLockFunds(ctx, source, req); err != nil {
			d.log.Error("lock funds dispatch failed", zap.String("purchase_request_id", req.ID), zap.Error(err))
		}
	}
}

func (d *Dispatcher) dispatchLockFunds(ctx context.Context, source domain.PaymentSource, req domain.PurchaseRequest) error {
	wallet, err := d.store.HotWallets.Get(ctx, req.SmartContractWalletID)
	if err != nil {
		return err
	}
	lovelace, assets := amountEntriesToOutputValue(req.RequestedFunds)
	lovelace += req.CollateralReturnLovelace

	inputs, _, err := d.buildInputs(ctx, wallet, lovelace)
	if err != nil {
		return err
	}
	collateral, err := d.buildCollateral(ctx, wallet)
	if err != nil {
		return err
	}

	buyerAddr, err := plutus.DecodeAddress(wallet.Address)
	if err != nil {
		return err
	}
	var sellerVKey string
	var sellerAddr plutus.Address
	if req.CounterpartyWallet != nil {
		sellerVKey = req.CounterpartyWallet.VKey
		sellerAddr, err = plutus.DecodeAddress(req.CounterpartyWallet.Address)
		if err != nil {
			return err
		}
	}

	datum := plutus.EscrowDatum{
		BuyerVKey:                 wallet.VKey,
		BuyerAddress:              buyerAddr,
		SellerVKey:                sellerVKey,
		SellerAddress:             sellerAddr,
		BlockchainIdentifier:      req.BlockchainIdentifier,
		ResultHash:                "",
		ResultTime:                req.SubmitResultTime,
		UnlockTime:                req.UnlockTime,
		ExternalDisputeUnlockTime: req.ExternalDisputeUnlockTime,
		PayByTime:                 req.PayByTime,
		BuyerCooldownTime:         0,
		SellerCooldownTime:        0,
		State:                     domain.ContractFundsLocked,
		InputHash:                 req.InputHash,
		CollateralReturnLovelace:  req.CollateralReturnLovelace,
	}
	datumCBOR, err := datum.Encode()
	if err != nil {
		return err
	}

	from, to := validityWindow(d.currentSlot(), d.cfg.ValidityWindow)
	plan := plutus.TxPlan{
		Inputs: inputs,
		Outputs: []plutus.TxOutput{{
			Address:     source.SmartContractAddress,
			Lovelace:    lovelace,
			Assets:      assets,
			InlineDatum: datumCBOR,
		}},
		Collateral:      collateral,
		ChangeAddress:   wallet.Address,
		ValidFromSlot:   from,
		ValidBeforeSlot: to,
	}
	unsigned, err := d.buildEvaluateRebuild(ctx, plan)
	if err != nil {
		return err
	}

	return d.submitAndFinalize(ctx, wallet, unsigned, nil, 0,
		func(tx *sqlx.Tx, txID, txHash string) error {
			if err := d.store.Transactions.ArchiveCurrent(ctx, tx, "purchase_requests", req.ID, d.cfg.MaxHistoryLevels); err != nil {
				return err
			}
			return d.store.Purchases.BeginDispatch(ctx, tx, req.ID, domain.PurchasingActionFundsLockingInitiated, txID)
		},
		func(tx *sqlx.Tx, txID string, cause error) error {
			return d.store.Purchases.FailDispatch(ctx, tx, req.ID, domain.PurchasingActionFundsLockingRequested, domain.ErrorTypeTransient, cause.Error())
		})
}

// DispatchRequestRefund runs the Request Refund dispatcher (redeemer 1,
// spec §4.4).
func (d *Dispatcher) DispatchRequestRefund(ctx context.Context, source domain.PaymentSource) {
	reqs, err := d.store.Purchases.ListByNextAction(ctx, source.ID, domain.PurchasingActionSetRefundRequestedRequested)
	if err != nil {
		d.log.Error("listing refund requests failed", zap.String("payment_source_id", source.ID), zap.Error(err))
		return
	}
	for _, req := range reqs {
		if err := d.dispatchSpendRedeemer(ctx, source, req, spendRedeemerPlan{
			redeemer:          domain.RedeemerRequestRefund,
			initiatedAction:   domain.PurchasingActionSetRefundRequestedInitiated,
			requestedAction:   domain.PurchasingActionSetRefundRequestedRequested,
			newState:          domain.ContractRefundRequested,
			keepScriptOutput:  true,
		}); err != nil {
			d.log.Error("request refund dispatch failed", zap.String("purchase_request_id", req.ID), zap.Error(err))
		}
	}
}

// DispatchCancelRefundRequest runs the Cancel Refund Request dispatcher
// (redeemer 2, spec §4.4).
func (d *Dispatcher) DispatchCancelRefundRequest(ctx context.Context, source domain.PaymentSource) {
	reqs, err := d.store.Purchases.ListByNextAction(ctx, source.ID, domain.PurchasingActionCancelRefundRequestRequested)
	if err != nil {
		d.log.Error("listing cancel-refund requests failed", zap.String("payment_source_id", source.ID), zap.Error(err))
		return
	}
	for _, req := range reqs {
		target := domain.ContractFundsLocked
		if req.ResultHash != "" {
			target = domain.ContractResultSubmitted
		}
		if err := d.dispatchSpendRedeemer(ctx, source, req, spendRedeemerPlan{
			redeemer:         domain.RedeemerCancelRefundRequest,
			initiatedAction:  domain.PurchasingActionCancelRefundRequestInitiated,
			requestedAction:  domain.PurchasingActionCancelRefundRequestRequested,
			newState:         target,
			keepScriptOutput: true,
		}); err != nil {
			d.log.Error("cancel refund request dispatch failed", zap.String("purchase_request_id", req.ID), zap.Error(err))
		}
	}
}

// DispatchWithdrawRefund runs the Withdraw Refund dispatcher (redeemer 3,
// buyer path, spec §4.4): only requests past unlock_time whose on-chain
// state is RefundRequested are eligible.
func (d *Dispatcher) DispatchWithdrawRefund(ctx context.Context, source domain.PaymentSource, nowMs int64) {
	reqs, err := d.store.Purchases.ListByNextAction(ctx, source.ID, domain.PurchasingActionWithdrawRefundRequested)
	if err != nil {
		d.log.Error("listing withdraw-refund requests failed", zap.String("payment_source_id", source.ID), zap.Error(err))
		return
	}
	for _, req := range reqs {
		if req.UnlockTime > nowMs {
			continue
		}
		if req.OnChainState == nil || *req.OnChainState != domain.OnChainRefundRequested {
			continue
		}
		if err := d.dispatchSpendRedeemer(ctx, source, req, spendRedeemerPlan{
			redeemer:         domain.RedeemerWithdrawRefund,
			initiatedAction:  domain.PurchasingActionWithdrawRefundInitiated,
			requestedAction:  domain.PurchasingActionWithdrawRefundRequested,
			keepScriptOutput: false,
			payoutToBuyer:    true,
		}); err != nil {
			d.log.Error("withdraw refund dispatch failed", zap.String("purchase_request_id", req.ID), zap.Error(err))
		}
	}
}

// spendRedeemerPlan parameterizes dispatchSpendRedeemer across the three
// purchase-side redeemer dispatchers that spend the existing script UTXO: it
// either rewrites the datum in place (keepScriptOutput) or withdraws the
// whole value to the buyer's own wallet.
type spendRedeemerPlan struct {
	redeemer         domain.RedeemerTag
	initiatedAction  domain.PurchasingAction
	requestedAction  domain.PurchasingAction
	newState         domain.SmartContractState
	keepScriptOutput bool
	payoutToBuyer    bool
}

func (d *Dispatcher) dispatchSpendRedeemer(ctx context.Context, source domain.PaymentSource, req domain.PurchaseRequest, p spendRedeemerPlan) error {
	wallet, err := d.store.HotWallets.Get(ctx, req.SmartContractWalletID)
	if err != nil {
		return err
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
	if p.keepScriptOutput {
		newDatum := oldDatum
		newDatum.State = p.newState
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
	} else if p.payoutToBuyer {
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

	return d.submitAndFinalize(ctx, wallet, unsigned, nil, 0,
		func(tx *sqlx.Tx, txID, txHash string) error {
			if err := d.store.Transactions.ArchiveCurrent(ctx, tx, "purchase_requests", req.ID, d.cfg.MaxHistoryLevels); err != nil {
				return err
			}
			return d.store.Purchases.BeginDispatch(ctx, tx, req.ID, p.initiatedAction, txID)
		},
		func(tx *sqlx.Tx, txID string, cause error) error {
			return d.store.Purchases.FailDispatch(ctx, tx, req.ID, p.requestedAction, domain.ErrorTypeTransient, cause.Error())
		})
}
