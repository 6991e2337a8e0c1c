package cashback

import "math/big"

const (
	// BpsDenominator defines the scaling factor used for basis point math
	// when computing cashback amounts.
	BpsDenominator = 10_000
	// MaxPercentageBps is the highest allowed rule percentage (10%). Exposed
	// so clients can validate registrations before submitting them.
	MaxPercentageBps = 1_000
)

// EligibleAmount computes the cashback payable for a transaction of the given
// amount under the supplied rule and usage. It is a pure function: the same
// implementation backs both the read-only preview and the mutating processing
// path, so the two can never disagree on identical state.
//
// The raw percentage is truncated toward zero (fractional wei is forfeited),
// then bounded by the rule's per-transaction cap and by the user's remaining
// cumulative allowance. Any form of ineligibility yields zero, never an error.
func EligibleAmount(rule *Rule, usage *UserUsage, amount *big.Int, now uint64) *big.Int {
	if rule.Empty() || !rule.Active {
		return big.NewInt(0)
	}
	if now < rule.ValidFrom || now > rule.ValidUntil {
		return big.NewInt(0)
	}
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}

	raw := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(rule.PercentageBps)))
	raw.Quo(raw, big.NewInt(BpsDenominator))

	capped := raw
	if rule.CapPerTx != nil && rule.CapPerTx.Sign() > 0 && capped.Cmp(rule.CapPerTx) > 0 {
		capped = new(big.Int).Set(rule.CapPerTx)
	}

	remaining := remainingAllowance(rule, usage)
	if capped.Cmp(remaining) > 0 {
		capped = remaining
	}
	return capped
}

// remainingAllowance returns the user's unspent share of the rule's cumulative
// limit, floored at zero once the limit is met or exceeded.
func remainingAllowance(rule *Rule, usage *UserUsage) *big.Int {
	limit := cloneBigInt(rule.CumulativeLimit)
	received := big.NewInt(0)
	if usage != nil && usage.TotalReceived != nil {
		received = usage.TotalReceived
	}
	remaining := limit.Sub(limit, received)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	return remaining
}
