package cashback

import (
	"encoding/binary"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"cashbackd/core/events"
	nativecommon "cashbackd/native/common"
)

const moduleName = "cashback"

// Registry manages registration and retrieval of cashback rules.
type Registry struct {
	st      RegistryState
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// NewRegistry creates a registry backed by the provided state.
func NewRegistry(st RegistryState) *Registry {
	return &Registry{st: st, emitter: events.NoopEmitter{}, pauses: statePauses{st: st}}
}

// SetEmitter configures the event emitter used to broadcast registrations.
// Passing nil resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// RegisterRule validates and persists a new cashback rule. Only the admin may
// register rules, and only while the module is not paused. The returned id is
// unique even across registrations with identical parameters.
func (r *Registry) RegisterRule(caller [20]byte, percentageBps uint32, capPerTx, cumulativeLimit *big.Int, validityWindow uint64, now uint64) (RuleID, error) {
	admin, err := r.st.CashbackAdmin()
	if err != nil {
		return RuleID{}, err
	}
	if caller != admin {
		return RuleID{}, ErrUnauthorized
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return RuleID{}, err
	}
	if percentageBps == 0 || percentageBps > MaxPercentageBps {
		return RuleID{}, ErrInvalidPercentage
	}
	if capPerTx == nil || capPerTx.Sign() <= 0 {
		return RuleID{}, ErrZeroAmount
	}
	if cumulativeLimit == nil || cumulativeLimit.Sign() <= 0 {
		return RuleID{}, ErrZeroAmount
	}
	if validityWindow == 0 {
		return RuleID{}, ErrInvalidValidityWindow
	}

	nonce, err := r.st.CashbackRuleNonce()
	if err != nil {
		return RuleID{}, err
	}
	id := deriveRuleID(caller, percentageBps, capPerTx, cumulativeLimit, validityWindow, now, nonce)
	// The nonce makes collisions unreachable; the loop is a stored-id safety
	// net so an existing rule is never overwritten.
	for {
		_, exists, err := r.st.CashbackRule(id)
		if err != nil {
			return RuleID{}, err
		}
		if !exists {
			break
		}
		nonce++
		id = deriveRuleID(caller, percentageBps, capPerTx, cumulativeLimit, validityWindow, now, nonce)
	}

	rule := &Rule{
		ID:              id,
		PercentageBps:   percentageBps,
		CapPerTx:        cloneBigInt(capPerTx),
		CumulativeLimit: cloneBigInt(cumulativeLimit),
		ValidFrom:       now,
		ValidUntil:      now + validityWindow,
		Active:          true,
	}
	if err := r.st.PutCashbackRule(rule); err != nil {
		return RuleID{}, err
	}
	if err := r.st.SetCashbackRuleNonce(nonce + 1); err != nil {
		return RuleID{}, err
	}
	r.emit(events.RuleRegistered{
		ID:              id,
		PercentageBps:   rule.PercentageBps,
		CapPerTx:        cloneBigInt(rule.CapPerTx),
		CumulativeLimit: cloneBigInt(rule.CumulativeLimit),
		ValidFrom:       rule.ValidFrom,
		ValidUntil:      rule.ValidUntil,
	})
	return id, nil
}

// GetRule retrieves a rule by its identifier. Unknown identifiers yield a
// zero-valued rule and ok=false rather than an error; callers distinguish
// existence through Rule.Empty.
func (r *Registry) GetRule(id RuleID) (*Rule, bool) {
	rule, ok, err := r.st.CashbackRule(id)
	if err != nil || !ok {
		return &Rule{}, false
	}
	return rule.Clone(), true
}

func (r *Registry) emit(event events.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(event)
}

func deriveRuleID(registrar [20]byte, percentageBps uint32, capPerTx, cumulativeLimit *big.Int, validityWindow, now, nonce uint64) RuleID {
	buf := make([]byte, 0, 96)
	buf = append(buf, registrar[:]...)
	buf = binary.BigEndian.AppendUint32(buf, percentageBps)
	buf = append(buf, capPerTx.Bytes()...)
	buf = append(buf, cumulativeLimit.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, validityWindow)
	buf = binary.BigEndian.AppendUint64(buf, now)
	buf = binary.BigEndian.AppendUint64(buf, nonce)

	var id RuleID
	copy(id[:], ethcrypto.Keccak256(buf))
	return id
}
