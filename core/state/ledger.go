package state

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"cashbackd/native/cashback"
	"cashbackd/storage"
)

var (
	rulePrefix    = []byte("cashback/rule/")
	usagePrefix   = []byte("cashback/usage/")
	accountPrefix = []byte("cashback/account/")
	reserveKey    = []byte("cashback/reserve")
	adminKey      = []byte("cashback/admin")
	pausedKey     = []byte("cashback/paused")
	ruleNonceKey  = []byte("cashback/rule-nonce")
)

// Ledger persists the cashback module's state to a key-value store using RLP
// encoding. It implements cashback.LedgerState.
type Ledger struct {
	mu sync.RWMutex
	db storage.Database
}

// NewLedger creates a ledger backed by the provided database.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) kvPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return l.db.Put(key, encoded)
}

// kvGet decodes the value stored under key into out. The boolean return
// reports whether the key existed.
func (l *Ledger) kvGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("state: key must not be empty")
	}
	data, err := l.db.Get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func ruleKey(id cashback.RuleID) []byte {
	key := make([]byte, len(rulePrefix)+len(id))
	copy(key, rulePrefix)
	copy(key[len(rulePrefix):], id[:])
	return key
}

func usageKey(addr [20]byte) []byte {
	key := make([]byte, len(usagePrefix)+len(addr))
	copy(key, usagePrefix)
	copy(key[len(usagePrefix):], addr[:])
	return key
}

func accountKey(addr [20]byte) []byte {
	key := make([]byte, len(accountPrefix)+len(addr))
	copy(key, accountPrefix)
	copy(key[len(accountPrefix):], addr[:])
	return key
}

// CashbackRule loads a rule by id.
func (l *Ledger) CashbackRule(id cashback.RuleID) (*cashback.Rule, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rule := new(cashback.Rule)
	ok, err := l.kvGet(ruleKey(id), rule)
	if err != nil || !ok {
		return nil, false, err
	}
	return rule, true, nil
}

// PutCashbackRule persists a rule under its id.
func (l *Ledger) PutCashbackRule(rule *cashback.Rule) error {
	if rule == nil {
		return fmt.Errorf("state: nil rule")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	stored := rule.Clone()
	return l.kvPut(ruleKey(stored.ID), stored)
}

// CashbackRuleNonce returns the monotonically increasing registration nonce.
func (l *Ledger) CashbackRuleNonce() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var nonce uint64
	if _, err := l.kvGet(ruleNonceKey, &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// SetCashbackRuleNonce persists the registration nonce.
func (l *Ledger) SetCashbackRuleNonce(nonce uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.kvPut(ruleNonceKey, nonce)
}

// CashbackUserUsage returns the usage record for an address. Unknown addresses
// yield an implicitly created zero-valued record.
func (l *Ledger) CashbackUserUsage(addr [20]byte) (*cashback.UserUsage, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	usage := new(cashback.UserUsage)
	if _, err := l.kvGet(usageKey(addr), usage); err != nil {
		return nil, err
	}
	return usage.Normalize(), nil
}

// SetCashbackUserUsage persists the usage record for an address.
func (l *Ledger) SetCashbackUserUsage(addr [20]byte, usage *cashback.UserUsage) error {
	if usage == nil {
		return fmt.Errorf("state: nil usage")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.kvPut(usageKey(addr), usage.Clone().Normalize())
}

// CashbackReserve returns the pooled balance available for payouts.
func (l *Ledger) CashbackReserve() (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance := new(big.Int)
	if _, err := l.kvGet(reserveKey, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// SetCashbackReserve persists the reserve balance.
func (l *Ledger) SetCashbackReserve(balance *big.Int) error {
	if balance == nil || balance.Sign() < 0 {
		return fmt.Errorf("state: reserve balance must be non-negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.kvPut(reserveKey, balance)
}

// Account returns the account record for an address, implicitly created when
// unknown.
func (l *Ledger) Account(addr [20]byte) (*cashback.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	account := new(cashback.Account)
	if _, err := l.kvGet(accountKey(addr), account); err != nil {
		return nil, err
	}
	return account.Normalize(), nil
}

// PutAccount persists the account record for an address.
func (l *Ledger) PutAccount(addr [20]byte, account *cashback.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.kvPut(accountKey(addr), account.Normalize())
}

// CashbackAdmin returns the stored admin address, zero when uninitialized.
func (l *Ledger) CashbackAdmin() ([20]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var admin [20]byte
	if _, err := l.kvGet(adminKey, &admin); err != nil {
		return [20]byte{}, err
	}
	return admin, nil
}

// SetCashbackAdmin persists the admin address.
func (l *Ledger) SetCashbackAdmin(addr [20]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.kvPut(adminKey, addr)
}

// CashbackPaused returns the module pause flag.
func (l *Ledger) CashbackPaused() (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var paused bool
	if _, err := l.kvGet(pausedKey, &paused); err != nil {
		return false, err
	}
	return paused, nil
}

// SetCashbackPaused persists the module pause flag.
func (l *Ledger) SetCashbackPaused(paused bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.kvPut(pausedKey, paused)
}
