package chainadapter

import "sort"

// DefaultMaxUTXOsPerTx is MAX_UTXOS_PER_TX: how many UTXOs a dispatcher will
// ever feed into one transaction, even if more are available.
const DefaultMaxUTXOsPerTx = 10

// SelectUTXOs implements the coordinator's largest-first coin selection
// (spec §4.4 step 1): sort by lovelace descending, accumulate until the
// requested lovelace amount is covered, truncated to maxUTXOs regardless of
// whether that covers the amount (the caller treats a short selection as
// insufficient funds).
func SelectUTXOs(utxos []UTXO, requiredLovelace int64, maxUTXOs int) ([]UTXO, int64, error) {
	if maxUTXOs <= 0 {
		maxUTXOs = DefaultMaxUTXOsPerTx
	}

	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sort.Slice(sorted, func(i, j int) bool {
		return lovelaceOf(sorted[i]) > lovelaceOf(sorted[j])
	})

	if len(sorted) > maxUTXOs {
		sorted = sorted[:maxUTXOs]
	}

	var selected []UTXO
	var total int64
	for _, u := range sorted {
		selected = append(selected, u)
		total += lovelaceOf(u)
		if total >= requiredLovelace {
			break
		}
	}

	if total < requiredLovelace {
		return nil, 0, NewNonRetryableError(
			ErrCodeInsufficientFunds,
			"insufficient lovelace across available UTXOs",
			nil,
		)
	}
	return selected, total - requiredLovelace, nil
}

// SelectUTXOsCarrying picks the UTXO holding unit plus the remaining UTXOs
// (largest lovelace first) up to maxUTXOs in total, for dispatchers that must
// spend a specific asset — Deregister Agent's burn input (spec §4.4). It
// sets no fee target and does not skip UTXOs that carry other assets.
func SelectUTXOsCarrying(utxos []UTXO, unit string, maxUTXOs int) ([]UTXO, int64, error) {
	if maxUTXOs <= 0 {
		maxUTXOs = DefaultMaxUTXOsPerTx
	}

	var holder *UTXO
	var rest []UTXO
	for i := range utxos {
		if holder == nil && hasUnit(utxos[i], unit) {
			u := utxos[i]
			holder = &u
			continue
		}
		rest = append(rest, utxos[i])
	}
	if holder == nil {
		return nil, 0, NewNonRetryableError(ErrCodeInsufficientFunds, "no utxo carries unit "+unit, nil)
	}

	sort.Slice(rest, func(i, j int) bool { return lovelaceOf(rest[i]) > lovelaceOf(rest[j]) })

	selected := []UTXO{*holder}
	total := lovelaceOf(*holder)
	for _, u := range rest {
		if len(selected) >= maxUTXOs {
			break
		}
		selected = append(selected, u)
		total += lovelaceOf(u)
	}
	return selected, total, nil
}

func hasUnit(u UTXO, unit string) bool {
	for _, a := range u.Amounts {
		if a.Unit == unit {
			return true
		}
	}
	return false
}

func lovelaceOf(u UTXO) int64 {
	for _, a := range u.Amounts {
		if a.Unit == "lovelace" {
			return a.Quantity
		}
	}
	return 0
}

// SelectCollateral picks a single UTXO holding at least minLovelace and
// carrying no other native-asset units, as Cardano collateral inputs must
// be pure-ADA (spec §4.4: "a single UTXO of at least MIN_COLLATERAL_LOVELACE").
func SelectCollateral(utxos []UTXO, minLovelace int64) (UTXO, error) {
	for _, u := range utxos {
		if len(u.Amounts) == 1 && u.Amounts[0].Unit == "lovelace" && u.Amounts[0].Quantity >= minLovelace {
			return u, nil
		}
	}
	return UTXO{}, NewNonRetryableError(ErrCodeInsufficientFunds, "no pure-ADA UTXO meets the collateral minimum", nil)
}
