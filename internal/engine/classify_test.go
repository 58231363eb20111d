package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/escrowd/coordinator/internal/chainadapter"
	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/plutus"
)

func TestClassify(t *testing.T) {
	refScript := "deadbeef"

	cases := []struct {
		name string
		io   scriptIO
		want TxClassification
	}{
		{
			name: "one script output, no inputs, no redeemers is Initial",
			io:   scriptIO{ScriptOutputs: []chainadapter.UTXO{{}}},
			want: ClassInitial,
		},
		{
			name: "one script input, one redeemer, one output is Transaction",
			io: scriptIO{
				ScriptInputs:  []chainadapter.UTXO{{}},
				ScriptOutputs: []chainadapter.UTXO{{}},
				Redeemers:     []plutus.Redeemer{{}},
			},
			want: ClassTransaction,
		},
		{
			name: "one script input, one redeemer, no output is Transaction (terminal redeemer)",
			io: scriptIO{
				ScriptInputs: []chainadapter.UTXO{{}},
				Redeemers:    []plutus.Redeemer{{}},
			},
			want: ClassTransaction,
		},
		{
			name: "no script inputs or outputs is Unrelated",
			io:   scriptIO{},
			want: ClassUnrelated,
		},
		{
			name: "script output with a reference script hash is always Invalid",
			io:   scriptIO{ScriptOutputs: []chainadapter.UTXO{{ReferenceScriptHash: &refScript}}},
			want: ClassInvalid,
		},
		{
			name: "two script inputs is Invalid",
			io: scriptIO{
				ScriptInputs: []chainadapter.UTXO{{}, {}},
				Redeemers:    []plutus.Redeemer{{}},
			},
			want: ClassInvalid,
		},
		{
			name: "script input with no redeemer is Invalid",
			io:   scriptIO{ScriptInputs: []chainadapter.UTXO{{}}},
			want: ClassInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.io))
		})
	}
}

func TestResultingOnChainState(t *testing.T) {
	disputedDatum := &plutus.EscrowDatum{ResultHash: "result-hash"}
	submittedDatum := &plutus.EscrowDatum{State: domain.ContractDisputed}

	cases := []struct {
		name     string
		redeemer domain.RedeemerTag
		newDatum *plutus.EscrowDatum
		amountOK bool
		want     domain.OnChainState
	}{
		{"withdraw always terminal", domain.RedeemerWithdraw, nil, true, domain.OnChainWithdrawn},
		{"request refund with no result hash", domain.RedeemerRequestRefund, nil, true, domain.OnChainRefundRequested},
		{"request refund after a result hash was set becomes disputed", domain.RedeemerRequestRefund, disputedDatum, true, domain.OnChainDisputed},
		{"cancel refund request restores FundsLocked when amount ok", domain.RedeemerCancelRefundRequest, nil, true, domain.OnChainFundsLocked},
		{"cancel refund request with bad amount", domain.RedeemerCancelRefundRequest, nil, false, domain.OnChainFundsOrDatumInvalid},
		{"cancel refund request restores ResultSubmitted when result hash present", domain.RedeemerCancelRefundRequest, disputedDatum, true, domain.OnChainResultSubmitted},
		{"withdraw refund", domain.RedeemerWithdrawRefund, nil, true, domain.OnChainRefundWithdrawn},
		{"withdraw disputed", domain.RedeemerWithdrawDisputed, nil, true, domain.OnChainDisputedWithdrawn},
		{"submit result moves to ResultSubmitted", domain.RedeemerSubmitResult, nil, true, domain.OnChainResultSubmitted},
		{"submit result while already disputed/refund-requested stays Disputed", domain.RedeemerSubmitResult, submittedDatum, true, domain.OnChainDisputed},
		{"allow refund", domain.RedeemerAllowRefund, nil, true, domain.OnChainRefundRequested},
		{"unknown redeemer is invalid", domain.RedeemerTag(99), nil, true, domain.OnChainFundsOrDatumInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResultingOnChainState(tc.redeemer, tc.newDatum, tc.amountOK)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAmountCorrect(t *testing.T) {
	requested := []domain.AmountEntry{{Unit: "lovelace", Amount: 10_000_000}, {Unit: "policyid.token", Amount: 2}}

	cases := []struct {
		name    string
		have    []chainadapter.Amount
		collRet int64
		want    bool
	}{
		{
			name:    "exact match",
			have:    []chainadapter.Amount{{Unit: "lovelace", Quantity: 10_000_000}, {Unit: "policyid.token", Quantity: 2}},
			collRet: 0,
			want:    true,
		},
		{
			name:    "lovelace must also cover collateral return",
			have:    []chainadapter.Amount{{Unit: "lovelace", Quantity: 10_000_000}, {Unit: "policyid.token", Quantity: 2}},
			collRet: 2_000_000,
			want:    false,
		},
		{
			name:    "lovelace covering requested plus collateral return passes",
			have:    []chainadapter.Amount{{Unit: "lovelace", Quantity: 12_000_000}, {Unit: "policyid.token", Quantity: 2}},
			collRet: 2_000_000,
			want:    true,
		},
		{
			name:    "token unit must match exactly, excess fails",
			have:    []chainadapter.Amount{{Unit: "lovelace", Quantity: 10_000_000}, {Unit: "policyid.token", Quantity: 3}},
			collRet: 0,
			want:    false,
		},
		{
			name:    "missing requested unit fails",
			have:    []chainadapter.Amount{{Unit: "lovelace", Quantity: 10_000_000}},
			collRet: 0,
			want:    false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AmountCorrect(tc.have, requested, tc.collRet))
		})
	}
}
