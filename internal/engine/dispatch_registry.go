package engine

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/escrowd/coordinator/internal/chainadapter"
	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/plutus"
)

const (
	mintOutputLovelace = 2_000_000 // minimum UTXO value carrying the minted/burned asset

	metadataLabelAgentInfo = 721
	metadataLabelMsg       = 674
)

// DispatchRegisterAgent runs the Register Agent dispatcher over every
// RegistryRequest in RegistrationRequested for source (spec §4.4).
func (d *Dispatcher) DispatchRegisterAgent(ctx context.Context, source domain.PaymentSource) {
	reqs, err := d.store.Registry.ListByState(ctx, source.ID, domain.RegistrationRequested)
	if err != nil {
		d.log.Error("listing registration requests failed", zap.String("payment_source_id", source.ID), zap.Error(err))
		return
	}
	for _, rr := range reqs {
		if err := d.dispatchRegisterAgent(ctx, source, rr); err != nil {
			d.log.Error("register agent dispatch failed", zap.String("registry_request_id", rr.ID), zap.Error(err))
		}
	}
}

func (d *Dispatcher) dispatchRegisterAgent(ctx context.Context, source domain.PaymentSource, rr domain.RegistryRequest) error {
	wallet, err := d.store.HotWallets.Get(ctx, rr.SellingWalletID)
	if err != nil {
		return err
	}

	inputs, _, err := d.buildInputs(ctx, wallet, mintOutputLovelace)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("engine: no spendable utxos at %s to mint an agent identifier from", wallet.Address)
	}
	collateral, err := d.buildCollateral(ctx, wallet)
	if err != nil {
		return err
	}

	assetName, err := deriveAssetName(inputs[0])
	if err != nil {
		return err
	}
	unit := source.PolicyID + hex.EncodeToString(assetName)
	agentIdentifier := unit

	metadata, err := registerAgentMetadata(rr)
	if err != nil {
		return fmt.Errorf("engine: building register agent metadata: %w", err)
	}

	from, to := validityWindow(d.currentSlot(), d.cfg.ValidityWindow)
	plan := plutus.TxPlan{
		Inputs: inputs,
		Outputs: []plutus.TxOutput{{
			Address:  wallet.Address,
			Lovelace: mintOutputLovelace,
			Assets:   map[string]int64{unit: 1},
		}},
		Collateral:      collateral,
		ChangeAddress:   wallet.Address,
		Metadata:        metadata,
		MintAssetName:   assetName,
		MintPolicyID:    source.PolicyID,
		MintQuantity:    1,
		ValidFromSlot:   from,
		ValidBeforeSlot: to,
	}
	unsigned, err := d.buildEvaluateRebuild(ctx, plan)
	if err != nil {
		return err
	}

	return d.submitAndFinalize(ctx, wallet, unsigned, nil, 0,
		func(tx *sqlx.Tx, txID, txHash string) error {
			return d.store.Registry.SetMintedIdentifier(ctx, tx, rr.ID, agentIdentifier, txID)
		},
		func(tx *sqlx.Tx, txID string, cause error) error {
			return d.store.Registry.SetState(ctx, tx, rr.ID, domain.RegistrationFailed, strPtr(cause.Error()))
		})
}

// DispatchDeregisterAgent runs the Deregister Agent dispatcher over every
// RegistryRequest in DeregistrationRequested for source (spec §4.4).
func (d *Dispatcher) DispatchDeregisterAgent(ctx context.Context, source domain.PaymentSource) {
	reqs, err := d.store.Registry.ListByState(ctx, source.ID, domain.DeregistrationRequested)
	if err != nil {
		d.log.Error("listing deregistration requests failed", zap.String("payment_source_id", source.ID), zap.Error(err))
		return
	}
	for _, rr := range reqs {
		if err := d.dispatchDeregisterAgent(ctx, source, rr); err != nil {
			d.log.Error("deregister agent dispatch failed", zap.String("registry_request_id", rr.ID), zap.Error(err))
		}
	}
}

func (d *Dispatcher) dispatchDeregisterAgent(ctx context.Context, source domain.PaymentSource, rr domain.RegistryRequest) error {
	wallet, err := d.store.HotWallets.Get(ctx, rr.SellingWalletID)
	if err != nil {
		return err
	}
	if len(rr.AgentIdentifier) < len(source.PolicyID) {
		return fmt.Errorf("engine: registry request %s has no minted agent identifier to burn", rr.ID)
	}
	assetName, err := hex.DecodeString(rr.AgentIdentifier[len(source.PolicyID):])
	if err != nil {
		return fmt.Errorf("engine: decoding asset name from agent identifier: %w", err)
	}
	unit := rr.AgentIdentifier

	inputs, err := d.burnInputs(ctx, wallet, unit)
	if err != nil {
		return err
	}
	collateral, err := d.buildCollateral(ctx, wallet)
	if err != nil {
		return err
	}

	from, to := validityWindow(d.currentSlot(), d.cfg.ValidityWindow)
	plan := plutus.TxPlan{
		Inputs:          inputs,
		Collateral:      collateral,
		ChangeAddress:   wallet.Address,
		MintAssetName:   assetName,
		MintPolicyID:    source.PolicyID,
		MintQuantity:    -1,
		ValidFromSlot:   from,
		ValidBeforeSlot: to,
	}
	unsigned, err := d.buildEvaluateRebuild(ctx, plan)
	if err != nil {
		return err
	}

	return d.submitAndFinalize(ctx, wallet, unsigned, nil, 0,
		func(tx *sqlx.Tx, txID, txHash string) error {
			return d.store.Registry.BeginDispatch(ctx, tx, rr.ID, domain.DeregistrationInitiated, txID)
		},
		func(tx *sqlx.Tx, txID string, cause error) error {
			return d.store.Registry.SetState(ctx, tx, rr.ID, domain.RegistrationFailed, strPtr(cause.Error()))
		})
}

// burnInputs fetches UTXOs at wallet.Address and selects the UTXO actually
// carrying unit, since a burn must spend the asset it destroys, plus the
// other UTXOs there up to MaxUTXOsPerTx; no fee reserve is computed.
func (d *Dispatcher) burnInputs(ctx context.Context, wallet domain.HotWallet, unit string) ([]plutus.TxInput, error) {
	utxos, err := d.chain.ListUTXOsAt(ctx, wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("engine: listing utxos at %s: %w", wallet.Address, err)
	}
	selected, _, err := chainadapter.SelectUTXOsCarrying(utxos, unit, d.cfg.MaxUTXOsPerTx)
	if err != nil {
		return nil, err
	}
	return toTxInputs(selected), nil
}

// deriveAssetName implements spec §4.4's Register Agent naming rule:
// asset_name = blake2b_256(first_utxo.tx_hash || first_utxo.output_index_be32)[0:32].
func deriveAssetName(firstUTXO plutus.TxInput) ([]byte, error) {
	txHash, err := hex.DecodeString(firstUTXO.TxHash)
	if err != nil {
		return nil, fmt.Errorf("engine: decoding input tx hash for asset name: %w", err)
	}
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(firstUTXO.OutputIndex))

	seed := make([]byte, 0, len(txHash)+4)
	seed = append(seed, txHash...)
	seed = append(seed, idx[:]...)

	sum := blake2b.Sum256(seed)
	return sum[:32], nil
}

// registerAgentMetadata builds the CIP-25/CIP-721 metadata the mint
// transaction carries: label 721 with the agent's public info, label 674
// with the standard Masumi-style message tag (spec §4.4).
func registerAgentMetadata(rr domain.RegistryRequest) (map[uint][]byte, error) {
	info := map[string]interface{}{
		"name":        plutus.StringToMetadata(rr.Name),
		"description": plutus.StringToMetadata(rr.Description),
		"api_base_url": plutus.StringToMetadata(rr.APIBaseURL),
		"capability": map[string]interface{}{
			"name":    rr.Capability.Name,
			"version": rr.Capability.Version,
		},
		"author": map[string]interface{}{
			"name":         rr.Author.Name,
			"contact":      rr.Author.ContactInfo,
			"organization": rr.Author.Organization,
		},
		"legal": map[string]interface{}{
			"privacy_policy": rr.Legal.PrivacyPolicy,
			"terms":          rr.Legal.Terms,
			"other":          rr.Legal.Other,
		},
		"tags":            rr.Tags,
		"example_outputs": rr.ExampleOutputs,
		"metadata_version": rr.MetadataVersion,
	}
	agentInfoCBOR, err := plutus.MarshalMetadataValue(info)
	if err != nil {
		return nil, err
	}
	msgCBOR, err := plutus.MarshalMetadataValue(map[string]interface{}{
		"msg": []string{"Masumi", "RegisterAgent"},
	})
	if err != nil {
		return nil, err
	}
	return map[uint][]byte{
		metadataLabelAgentInfo: agentInfoCBOR,
		metadataLabelMsg:       msgCBOR,
	}, nil
}
