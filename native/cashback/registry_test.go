package cashback_test

import (
	"errors"
	"math/big"
	"testing"

	"cashbackd/core/events"
	"cashbackd/core/state"
	cashback "cashbackd/native/cashback"
	nativecommon "cashbackd/native/common"
	"cashbackd/storage"
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(e events.Event) {
	c.events = append(c.events, e)
}

var (
	testAdmin = [20]byte{0x01}
	testNow   = uint64(1_700_000_000)

	oneEth  = big.NewInt(1_000_000_000_000_000_000)
	capEth  = big.NewInt(100_000_000_000_000_000) // 0.1
	limEth  = big.NewInt(500_000_000_000_000_000) // 0.5
	thirtyD = uint64(30 * 24 * 3600)
)

func newTestLedger(t *testing.T) *state.Ledger {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	ledger := state.NewLedger(db)
	if err := ledger.SetCashbackAdmin(testAdmin); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	return ledger
}

func TestRegisterRuleStoresRecord(t *testing.T) {
	ledger := newTestLedger(t)
	registry := cashback.NewRegistry(ledger)
	emitter := &capturingEmitter{}
	registry.SetEmitter(emitter)

	id, err := registry.RegisterRule(testAdmin, 200, capEth, limEth, thirtyD, testNow)
	if err != nil {
		t.Fatalf("register rule: %v", err)
	}
	if id.IsZero() {
		t.Fatalf("expected non-zero rule id")
	}

	rule, ok := registry.GetRule(id)
	if !ok || rule.Empty() {
		t.Fatalf("expected rule to exist")
	}
	if rule.PercentageBps != 200 {
		t.Fatalf("unexpected percentage: %d", rule.PercentageBps)
	}
	if rule.CapPerTx.Cmp(capEth) != 0 || rule.CumulativeLimit.Cmp(limEth) != 0 {
		t.Fatalf("unexpected bounds: cap %s limit %s", rule.CapPerTx, rule.CumulativeLimit)
	}
	if rule.ValidFrom != testNow || rule.ValidUntil != testNow+thirtyD {
		t.Fatalf("unexpected window: (%d, %d)", rule.ValidFrom, rule.ValidUntil)
	}
	if !rule.Active {
		t.Fatalf("expected rule active at creation")
	}

	if len(emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.events))
	}
	registered, ok := emitter.events[0].(events.RuleRegistered)
	if !ok {
		t.Fatalf("unexpected event %#v", emitter.events[0])
	}
	if registered.ID != [32]byte(id) || registered.ValidFrom != testNow || registered.ValidUntil != testNow+thirtyD {
		t.Fatalf("event does not carry the full record: %+v", registered)
	}
}

func TestRegisterRuleUniqueIDs(t *testing.T) {
	ledger := newTestLedger(t)
	registry := cashback.NewRegistry(ledger)

	first, err := registry.RegisterRule(testAdmin, 200, capEth, limEth, thirtyD, testNow)
	if err != nil {
		t.Fatalf("first registration: %v", err)
	}
	second, err := registry.RegisterRule(testAdmin, 200, capEth, limEth, thirtyD, testNow)
	if err != nil {
		t.Fatalf("second registration: %v", err)
	}
	if first == second {
		t.Fatalf("identical registrations must produce distinct ids")
	}
}

func TestRegisterRuleValidation(t *testing.T) {
	ledger := newTestLedger(t)
	registry := cashback.NewRegistry(ledger)

	cases := []struct {
		name    string
		caller  [20]byte
		pct     uint32
		cap     *big.Int
		limit   *big.Int
		window  uint64
		wantErr error
	}{
		{"non-admin", [20]byte{0xFF}, 200, capEth, limEth, thirtyD, cashback.ErrUnauthorized},
		{"zero percentage", testAdmin, 0, capEth, limEth, thirtyD, cashback.ErrInvalidPercentage},
		{"percentage too high", testAdmin, 1001, capEth, limEth, thirtyD, cashback.ErrInvalidPercentage},
		{"zero cap", testAdmin, 200, big.NewInt(0), limEth, thirtyD, cashback.ErrZeroAmount},
		{"zero limit", testAdmin, 200, capEth, big.NewInt(0), thirtyD, cashback.ErrZeroAmount},
		{"zero window", testAdmin, 200, capEth, limEth, 0, cashback.ErrInvalidValidityWindow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := registry.RegisterRule(tc.caller, tc.pct, tc.cap, tc.limit, tc.window, testNow)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestRegisterRuleMaxPercentageAllowed(t *testing.T) {
	ledger := newTestLedger(t)
	registry := cashback.NewRegistry(ledger)

	if _, err := registry.RegisterRule(testAdmin, cashback.MaxPercentageBps, capEth, limEth, thirtyD, testNow); err != nil {
		t.Fatalf("10%% rule should register: %v", err)
	}
}

func TestRegisterRuleWhilePaused(t *testing.T) {
	ledger := newTestLedger(t)
	registry := cashback.NewRegistry(ledger)
	if err := ledger.SetCashbackPaused(true); err != nil {
		t.Fatalf("set paused: %v", err)
	}

	_, err := registry.RegisterRule(testAdmin, 200, capEth, limEth, thirtyD, testNow)
	if !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause error, got %v", err)
	}
}

func TestGetRuleUnknown(t *testing.T) {
	ledger := newTestLedger(t)
	registry := cashback.NewRegistry(ledger)

	rule, ok := registry.GetRule(cashback.RuleID{0xAB})
	if ok {
		t.Fatalf("expected ok=false for unknown id")
	}
	if !rule.Empty() {
		t.Fatalf("expected zero-valued record, got %+v", rule)
	}

	again, _ := registry.GetRule(cashback.RuleID{0xAB})
	if *again != *rule {
		t.Fatalf("repeated reads must return identical results")
	}
}
