package domain

import (
	"fmt"
	"regexp"
)

// DefaultMinCollateralLovelace is the default for config.MinCollateralLovelace;
// domain-level validation (I5) uses whatever value the caller supplies so
// it stays a single source of truth in internal/config.
const DefaultMinCollateralLovelace int64 = 5_000_000

var hexPattern = regexp.MustCompile(`^[0-9a-f]+$`)

// ValidateInputHash enforces I3: input_hash is hex-only, length >= 56.
func ValidateInputHash(hash string) error {
	if len(hash) < 56 {
		return fmt.Errorf("input_hash must be at least 56 hex chars, got %d", len(hash))
	}
	if !hexPattern.MatchString(hash) {
		return fmt.Errorf("input_hash must be lowercase hex")
	}
	return nil
}

// ValidateTimings enforces I4: pay_by_time < submit_result_time <=
// unlock_time <= external_dispute_unlock_time.
func ValidateTimings(payByTime, submitResultTime, unlockTime, externalDisputeUnlockTime int64) error {
	if !(payByTime < submitResultTime) {
		return fmt.Errorf("pay_by_time (%d) must be before submit_result_time (%d)", payByTime, submitResultTime)
	}
	if !(submitResultTime <= unlockTime) {
		return fmt.Errorf("submit_result_time (%d) must be <= unlock_time (%d)", submitResultTime, unlockTime)
	}
	if !(unlockTime <= externalDisputeUnlockTime) {
		return fmt.Errorf("unlock_time (%d) must be <= external_dispute_unlock_time (%d)", unlockTime, externalDisputeUnlockTime)
	}
	return nil
}

// ValidateCollateral enforces I5: collateral_return_lovelace is 0 or >= min.
func ValidateCollateral(amount, minCollateral int64) error {
	if amount == 0 {
		return nil
	}
	if amount < minCollateral {
		return fmt.Errorf("collateral_return_lovelace %d is below minimum %d", amount, minCollateral)
	}
	return nil
}

// AgentIdentifierHexLen is the canonical length of policy_id (28B) ‖
// asset_name (32B) encoded as hex: 120 chars (Design Note: "Unknown
// asset_name length").
const AgentIdentifierHexLen = 120

func ValidateAgentIdentifier(id string) error {
	if len(id) != AgentIdentifierHexLen {
		return fmt.Errorf("agent_identifier must be %d hex chars, got %d", AgentIdentifierHexLen, len(id))
	}
	if !hexPattern.MatchString(id) {
		return fmt.Errorf("agent_identifier must be lowercase hex")
	}
	return nil
}
