package cashback

import (
	"math/big"
	"sync/atomic"

	"cashbackd/core/events"
	nativecommon "cashbackd/native/common"
)

// Engine orchestrates transaction processing against the cashback ledger:
// rule lookup, eligibility computation, usage accounting, and reserve
// movements. The host serializes calls; the engine's own busy flag is a
// second, independent layer that rejects reentrant entry into any
// fund-transferring operation.
type Engine struct {
	st      LedgerState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	busy    atomic.Bool
}

// NewEngine creates an engine backed by the provided state.
func NewEngine(st LedgerState) *Engine {
	return &Engine{st: st, emitter: events.NoopEmitter{}, pauses: statePauses{st: st}}
}

// SetEmitter configures the event emitter used to broadcast ledger changes.
// Passing nil resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// acquire marks the engine busy for the duration of a fund-transferring
// operation. A nested entry fails immediately instead of observing
// intermediate state.
func (e *Engine) acquire() error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (e *Engine) release() {
	e.busy.Store(false)
}

// ProcessTransaction deposits the incoming amount into the reserve, computes
// the payer's eligible cashback, commits the usage accounting, and credits the
// payout to the payer's account. Effects are persisted strictly before the
// payout credit. A failed call leaves no state behind.
//
// A zero-value transaction is legal: it pays zero cashback but still counts
// against the payer's transaction tally and still notifies observers.
func (e *Engine) ProcessTransaction(payer [20]byte, ruleID RuleID, amount *big.Int, now uint64) (*big.Int, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()

	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	rule, ok, err := e.st.CashbackRule(ruleID)
	if err != nil {
		return nil, err
	}
	if !ok || rule.Empty() {
		return nil, ErrRuleNotFound
	}
	if now > rule.ValidUntil {
		return nil, ErrRuleExpired
	}
	if amount == nil {
		amount = big.NewInt(0)
	}

	usage, err := e.st.CashbackUserUsage(payer)
	if err != nil {
		return nil, err
	}
	usage = usage.Normalize()
	// An exhausted allowance fails the transaction outright. The read-only
	// preview silently returns zero for the same state; the asymmetry is
	// deliberate and load-bearing for callers.
	if remainingAllowance(rule, usage).Sign() == 0 {
		return nil, ErrLimitExceeded
	}
	eligible := EligibleAmount(rule, usage, amount, now)

	reserve, err := e.st.CashbackReserve()
	if err != nil {
		return nil, err
	}
	newReserve := new(big.Int).Add(reserve, amount)
	// Defensive invariant: eligible <= amount <= post-deposit balance, so
	// this gate is unreachable under correct accounting.
	if newReserve.Cmp(eligible) < 0 {
		return nil, ErrInsufficientFunds
	}

	usage.TotalReceived = new(big.Int).Add(usage.TotalReceived, eligible)
	usage.TransactionCount++
	usage.LastUpdated = now
	if err := e.st.SetCashbackUserUsage(payer, usage); err != nil {
		return nil, err
	}
	if err := e.st.SetCashbackReserve(newReserve.Sub(newReserve, eligible)); err != nil {
		return nil, err
	}
	if eligible.Sign() > 0 {
		account, err := e.st.Account(payer)
		if err != nil {
			return nil, err
		}
		account = account.Normalize()
		account.Balance = new(big.Int).Add(account.Balance, eligible)
		if err := e.st.PutAccount(payer, account); err != nil {
			return nil, err
		}
	}

	e.emit(events.CashbackDistributed{
		User:     payer,
		Cashback: new(big.Int).Set(eligible),
		RuleID:   ruleID,
		Amount:   new(big.Int).Set(amount),
	})
	return eligible, nil
}

// CalculateCashback previews the cashback a transaction of the given amount
// would pay right now. It never fails; every form of ineligibility, including
// an unknown rule or an exhausted allowance, yields zero.
func (e *Engine) CalculateCashback(ruleID RuleID, user [20]byte, amount *big.Int, now uint64) *big.Int {
	rule, ok, err := e.st.CashbackRule(ruleID)
	if err != nil || !ok {
		return big.NewInt(0)
	}
	usage, err := e.st.CashbackUserUsage(user)
	if err != nil {
		return big.NewInt(0)
	}
	return EligibleAmount(rule, usage.Normalize(), amount, now)
}

// UserUsage returns the payer's usage record. Unknown users yield a
// zero-valued record.
func (e *Engine) UserUsage(addr [20]byte) (*UserUsage, error) {
	usage, err := e.st.CashbackUserUsage(addr)
	if err != nil {
		return nil, err
	}
	return usage.Normalize(), nil
}

// Deposit credits the reserve. Anyone may fund the reserve; the operation
// never fails for business reasons.
func (e *Engine) Deposit(from [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		amount = big.NewInt(0)
	}
	reserve, err := e.st.CashbackReserve()
	if err != nil {
		return err
	}
	if err := e.st.SetCashbackReserve(new(big.Int).Add(reserve, amount)); err != nil {
		return err
	}
	e.emit(events.ReserveDeposited{From: from, Amount: new(big.Int).Set(amount)})
	return nil
}

// WithdrawFunds moves reserve funds to the admin's account. Admin only.
func (e *Engine) WithdrawFunds(caller [20]byte, amount *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	admin, err := e.requireAdmin(caller)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	reserve, err := e.st.CashbackReserve()
	if err != nil {
		return err
	}
	if reserve.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	if err := e.st.SetCashbackReserve(new(big.Int).Sub(reserve, amount)); err != nil {
		return err
	}
	account, err := e.st.Account(admin)
	if err != nil {
		return err
	}
	account = account.Normalize()
	account.Balance = new(big.Int).Add(account.Balance, amount)
	if err := e.st.PutAccount(admin, account); err != nil {
		return err
	}
	e.emit(events.FundsWithdrawn{Admin: admin, Amount: new(big.Int).Set(amount)})
	return nil
}

// ReserveBalance returns the pooled balance available for payouts.
func (e *Engine) ReserveBalance() (*big.Int, error) {
	return e.st.CashbackReserve()
}

// AccountBalance returns the spendable balance credited to an address.
func (e *Engine) AccountBalance(addr [20]byte) (*big.Int, error) {
	account, err := e.st.Account(addr)
	if err != nil {
		return nil, err
	}
	return account.Normalize().Balance, nil
}

// Pause trips the module circuit breaker. Admin only; fails when already
// paused.
func (e *Engine) Pause(caller [20]byte) error {
	if _, err := e.requireAdmin(caller); err != nil {
		return err
	}
	paused, err := e.st.CashbackPaused()
	if err != nil {
		return err
	}
	if paused {
		return ErrAlreadyPaused
	}
	if err := e.st.SetCashbackPaused(true); err != nil {
		return err
	}
	e.emit(events.Paused{Caller: caller})
	return nil
}

// Unpause resets the module circuit breaker. Admin only; fails when not
// paused.
func (e *Engine) Unpause(caller [20]byte) error {
	if _, err := e.requireAdmin(caller); err != nil {
		return err
	}
	paused, err := e.st.CashbackPaused()
	if err != nil {
		return err
	}
	if !paused {
		return ErrNotPaused
	}
	if err := e.st.SetCashbackPaused(false); err != nil {
		return err
	}
	e.emit(events.Unpaused{Caller: caller})
	return nil
}

// Paused reports whether the module circuit breaker is engaged.
func (e *Engine) Paused() (bool, error) {
	return e.st.CashbackPaused()
}

// TransferAdmin hands the admin role to a new address. Admin only; the new
// admin must be non-zero.
func (e *Engine) TransferAdmin(caller, newAdmin [20]byte) error {
	oldAdmin, err := e.requireAdmin(caller)
	if err != nil {
		return err
	}
	if isZeroAddress(newAdmin) {
		return ErrZeroAddress
	}
	if err := e.st.SetCashbackAdmin(newAdmin); err != nil {
		return err
	}
	e.emit(events.AdminChanged{OldAdmin: oldAdmin, NewAdmin: newAdmin})
	return nil
}

// Admin returns the current admin address.
func (e *Engine) Admin() ([20]byte, error) {
	return e.st.CashbackAdmin()
}

// InitializeAdmin installs the bootstrap admin. It fails once an admin has
// been persisted so a restart cannot silently replace the role.
func (e *Engine) InitializeAdmin(addr [20]byte) error {
	if isZeroAddress(addr) {
		return ErrZeroAddress
	}
	current, err := e.st.CashbackAdmin()
	if err != nil {
		return err
	}
	if !isZeroAddress(current) {
		if current == addr {
			return nil
		}
		return ErrAdminInitialized
	}
	return e.st.SetCashbackAdmin(addr)
}

func (e *Engine) requireAdmin(caller [20]byte) ([20]byte, error) {
	admin, err := e.st.CashbackAdmin()
	if err != nil {
		return [20]byte{}, err
	}
	if caller != admin {
		return [20]byte{}, ErrUnauthorized
	}
	return admin, nil
}

func (e *Engine) emit(event events.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}
