package cashback

import "math/big"

// RegistryState describes the minimal state access the rule registry needs
// from the surrounding state implementation.
type RegistryState interface {
	CashbackAdmin() ([20]byte, error)
	CashbackPaused() (bool, error)
	CashbackRule(id RuleID) (*Rule, bool, error)
	PutCashbackRule(rule *Rule) error
	CashbackRuleNonce() (uint64, error)
	SetCashbackRuleNonce(nonce uint64) error
}

// LedgerState extends RegistryState with the accessors required to process
// transactions, move reserve funds, and administer the module.
type LedgerState interface {
	RegistryState
	CashbackUserUsage(addr [20]byte) (*UserUsage, error)
	SetCashbackUserUsage(addr [20]byte, usage *UserUsage) error
	CashbackReserve() (*big.Int, error)
	SetCashbackReserve(balance *big.Int) error
	Account(addr [20]byte) (*Account, error)
	PutAccount(addr [20]byte, account *Account) error
	SetCashbackAdmin(addr [20]byte) error
	SetCashbackPaused(paused bool) error
}

// statePauses adapts the stored pause flag to the common module guard.
type statePauses struct {
	st RegistryState
}

func (p statePauses) IsPaused(module string) bool {
	if p.st == nil || module != moduleName {
		return false
	}
	paused, err := p.st.CashbackPaused()
	if err != nil {
		// Fail closed: an unreadable pause flag blocks mutations.
		return true
	}
	return paused
}
