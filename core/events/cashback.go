package events

import "math/big"

const (
	// TypeCashbackRuleRegistered is emitted when an admin registers a new
	// cashback rule.
	TypeCashbackRuleRegistered = "cashback.rule.registered"
	// TypeCashbackDistributed is emitted when a transaction pays cashback to
	// a user. A zero payout still produces the event.
	TypeCashbackDistributed = "cashback.distributed"
	// TypeCashbackFundsWithdrawn is emitted when the admin withdraws from the
	// reserve.
	TypeCashbackFundsWithdrawn = "cashback.funds.withdrawn"
	// TypeCashbackAdminChanged is emitted when the admin role is handed over.
	TypeCashbackAdminChanged = "cashback.admin.changed"
	// TypeCashbackReserveDeposited is emitted for every inbound funding of
	// the reserve.
	TypeCashbackReserveDeposited = "cashback.reserve.deposited"
	// TypeCashbackPaused is emitted when the module circuit breaker trips.
	TypeCashbackPaused = "cashback.paused"
	// TypeCashbackUnpaused is emitted when the module circuit breaker resets.
	TypeCashbackUnpaused = "cashback.unpaused"
)

// RuleRegistered captures the full record of a newly registered cashback rule.
type RuleRegistered struct {
	ID              [32]byte
	PercentageBps   uint32
	CapPerTx        *big.Int
	CumulativeLimit *big.Int
	ValidFrom       uint64
	ValidUntil      uint64
}

// EventType implements the Event interface.
func (RuleRegistered) EventType() string { return TypeCashbackRuleRegistered }

// CashbackDistributed captures a processed transaction and the cashback paid
// out for it.
type CashbackDistributed struct {
	User     [20]byte
	Cashback *big.Int
	RuleID   [32]byte
	Amount   *big.Int
}

// EventType implements the Event interface.
func (CashbackDistributed) EventType() string { return TypeCashbackDistributed }

// FundsWithdrawn captures an admin withdrawal from the reserve.
type FundsWithdrawn struct {
	Admin  [20]byte
	Amount *big.Int
}

// EventType implements the Event interface.
func (FundsWithdrawn) EventType() string { return TypeCashbackFundsWithdrawn }

// AdminChanged captures the admin role handover.
type AdminChanged struct {
	OldAdmin [20]byte
	NewAdmin [20]byte
}

// EventType implements the Event interface.
func (AdminChanged) EventType() string { return TypeCashbackAdminChanged }

// ReserveDeposited captures an inbound funding of the reserve, including the
// implicit deposit performed by transaction processing.
type ReserveDeposited struct {
	From   [20]byte
	Amount *big.Int
}

// EventType implements the Event interface.
func (ReserveDeposited) EventType() string { return TypeCashbackReserveDeposited }

// Paused captures the pause of the cashback module.
type Paused struct {
	Caller [20]byte
}

// EventType implements the Event interface.
func (Paused) EventType() string { return TypeCashbackPaused }

// Unpaused captures the resume of the cashback module.
type Unpaused struct {
	Caller [20]byte
}

// EventType implements the Event interface.
func (Unpaused) EventType() string { return TypeCashbackUnpaused }
