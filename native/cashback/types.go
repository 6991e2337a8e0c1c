package cashback

import "math/big"

// RuleID uniquely identifies a cashback rule. It is computed as
// keccak256(registrar || parameters || timestamp || nonce) so that two
// registrations with identical parameters never collide.
type RuleID [32]byte

// IsZero reports whether the identifier is the all-zero value.
func (id RuleID) IsZero() bool {
	return id == RuleID{}
}

// Rule captures an admin-defined cashback policy. Rules are immutable after
// registration and become inert only by expiry of their validity window.
type Rule struct {
	ID              RuleID
	PercentageBps   uint32
	CapPerTx        *big.Int
	CumulativeLimit *big.Int
	ValidFrom       uint64
	ValidUntil      uint64
	Active          bool
}

// Empty reports whether the rule is the zero-valued record returned for an
// unknown identifier. ValidFrom is always the registration time, so a zero
// ValidFrom marks a rule that was never stored.
func (r *Rule) Empty() bool {
	return r == nil || r.ValidFrom == 0
}

// Clone produces a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	clone := *r
	clone.CapPerTx = cloneBigInt(r.CapPerTx)
	clone.CumulativeLimit = cloneBigInt(r.CumulativeLimit)
	return &clone
}

// UserUsage is the per-address running total of cashback paid out. The
// cumulative limit is tracked globally per user, not per rule.
type UserUsage struct {
	TotalReceived    *big.Int
	TransactionCount uint64
	LastUpdated      uint64
}

// Normalize ensures pointer fields are non-nil for ease of use. The method
// returns the receiver to allow chaining.
func (u *UserUsage) Normalize() *UserUsage {
	if u == nil {
		return nil
	}
	if u.TotalReceived == nil {
		u.TotalReceived = big.NewInt(0)
	}
	return u
}

// Clone produces a deep copy of the usage record.
func (u *UserUsage) Clone() *UserUsage {
	if u == nil {
		return nil
	}
	clone := *u
	clone.TotalReceived = cloneBigInt(u.TotalReceived)
	return &clone
}

// Account holds the spendable balance credited to an address by cashback
// payouts and reserve withdrawals.
type Account struct {
	Balance *big.Int
}

// Normalize ensures pointer fields are non-nil for ease of use.
func (a *Account) Normalize() *Account {
	if a == nil {
		return nil
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	return a
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func isZeroAddress(addr [20]byte) bool {
	return addr == [20]byte{}
}
