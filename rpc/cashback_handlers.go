package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"cashbackd/crypto"
	"cashbackd/native/cashback"
	nativecommon "cashbackd/native/common"
	"cashbackd/observability/metrics"
)

type registerRuleParams struct {
	Caller                string `json:"caller"`
	PercentageBps         uint32 `json:"percentageBps"`
	CapPerTx              string `json:"capPerTx"`
	CumulativeLimit       string `json:"cumulativeLimit"`
	ValidityWindowSeconds uint64 `json:"validityWindowSeconds"`
}

type ruleResult struct {
	ID              string `json:"id"`
	PercentageBps   uint32 `json:"percentageBps"`
	CapPerTx        string `json:"capPerTx"`
	CumulativeLimit string `json:"cumulativeLimit"`
	ValidFrom       uint64 `json:"validFrom"`
	ValidUntil      uint64 `json:"validUntil"`
	Active          bool   `json:"active"`
}

type processTransactionParams struct {
	Payer  string `json:"payer"`
	RuleID string `json:"ruleId"`
	Amount string `json:"amount"`
}

type processTransactionResult struct {
	Cashback string `json:"cashback"`
}

type calculateCashbackParams struct {
	RuleID string `json:"ruleId"`
	User   string `json:"user"`
	Amount string `json:"amount"`
}

type getRuleParams struct {
	RuleID string `json:"ruleId"`
}

type userParams struct {
	User string `json:"user"`
}

type userUsageResult struct {
	TotalReceived    string `json:"totalReceived"`
	TransactionCount uint64 `json:"transactionCount"`
	LastUpdated      uint64 `json:"lastUpdated"`
}

type depositParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type withdrawFundsParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type callerParams struct {
	Caller string `json:"caller"`
}

type transferAdminParams struct {
	Caller   string `json:"caller"`
	NewAdmin string `json:"newAdmin"`
}

type reserveResult struct {
	Balance string `json:"balance"`
}

func (s *Server) handleRegisterRule(w http.ResponseWriter, req *RPCRequest) {
	var params registerRuleParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	capPerTx, err := parseAmount(params.CapPerTx)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid capPerTx", err.Error())
		return
	}
	cumulativeLimit, err := parseAmount(params.CumulativeLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid cumulativeLimit", err.Error())
		return
	}

	id, err := s.registry.RegisterRule(caller, params.PercentageBps, capPerTx, cumulativeLimit, params.ValidityWindowSeconds, s.now())
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	metrics.Cashback().RuleRegistered()
	writeResult(w, req.ID, map[string]string{"ruleId": encodeRuleID(id)})
}

func (s *Server) handleProcessTransaction(w http.ResponseWriter, req *RPCRequest) {
	var params processTransactionParams
	if !decodeParams(w, req, &params) {
		return
	}
	payer, err := decodeAddr(params.Payer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payer address", err.Error())
		return
	}
	ruleID, err := decodeRuleID(params.RuleID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid ruleId", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}

	cashbackPaid, err := s.engine.ProcessTransaction(payer, ruleID, amount, s.now())
	metrics.Cashback().ObserveTransaction(transactionOutcome(err))
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	metrics.Cashback().AddCashbackPaid(cashbackPaid)
	s.refreshReserveGauge()
	writeResult(w, req.ID, processTransactionResult{Cashback: cashbackPaid.String()})
}

func (s *Server) handleCalculateCashback(w http.ResponseWriter, req *RPCRequest) {
	var params calculateCashbackParams
	if !decodeParams(w, req, &params) {
		return
	}
	user, err := decodeAddr(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid user address", err.Error())
		return
	}
	ruleID, err := decodeRuleID(params.RuleID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid ruleId", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	eligible := s.engine.CalculateCashback(ruleID, user, amount, s.now())
	writeResult(w, req.ID, map[string]string{"cashback": eligible.String()})
}

func (s *Server) handleGetRule(w http.ResponseWriter, req *RPCRequest) {
	var params getRuleParams
	if !decodeParams(w, req, &params) {
		return
	}
	ruleID, err := decodeRuleID(params.RuleID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid ruleId", err.Error())
		return
	}
	rule, _ := s.registry.GetRule(ruleID)
	writeResult(w, req.ID, formatRule(ruleID, rule))
}

func (s *Server) handleGetUserUsage(w http.ResponseWriter, req *RPCRequest) {
	var params userParams
	if !decodeParams(w, req, &params) {
		return
	}
	user, err := decodeAddr(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid user address", err.Error())
		return
	}
	usage, err := s.engine.UserUsage(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "usage lookup failed", err.Error())
		return
	}
	writeResult(w, req.ID, userUsageResult{
		TotalReceived:    usage.TotalReceived.String(),
		TransactionCount: usage.TransactionCount,
		LastUpdated:      usage.LastUpdated,
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, req *RPCRequest) {
	var params depositParams
	if !decodeParams(w, req, &params) {
		return
	}
	from, err := decodeAddr(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.engine.Deposit(from, amount); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	s.refreshReserveGauge()
	writeResult(w, req.ID, "reserve credited")
}

func (s *Server) handleWithdrawFunds(w http.ResponseWriter, req *RPCRequest) {
	var params withdrawFundsParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.engine.WithdrawFunds(caller, amount); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	metrics.Cashback().WithdrawalProcessed()
	s.refreshReserveGauge()
	writeResult(w, req.ID, "funds withdrawn")
}

func (s *Server) handlePause(w http.ResponseWriter, req *RPCRequest) {
	var params callerParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.engine.Pause(caller); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "paused")
}

func (s *Server) handleUnpause(w http.ResponseWriter, req *RPCRequest) {
	var params callerParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.engine.Unpause(caller); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "unpaused")
}

func (s *Server) handleTransferAdmin(w http.ResponseWriter, req *RPCRequest) {
	var params transferAdminParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	newAdmin, err := decodeAddr(params.NewAdmin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid newAdmin address", err.Error())
		return
	}
	if err := s.engine.TransferAdmin(caller, newAdmin); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "admin transferred")
}

func (s *Server) handleGetReserve(w http.ResponseWriter, req *RPCRequest) {
	balance, err := s.engine.ReserveBalance()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "reserve lookup failed", err.Error())
		return
	}
	writeResult(w, req.ID, reserveResult{Balance: balance.String()})
}

// --- helpers ---

func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

func decodeAddr(value string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func decodeRuleID(value string) (cashback.RuleID, error) {
	var id cashback.RuleID
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("rule id must be %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func encodeRuleID(id cashback.RuleID) string {
	return "0x" + hex.EncodeToString(id[:])
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return amount, nil
}

func formatRule(id cashback.RuleID, rule *cashback.Rule) ruleResult {
	if rule == nil {
		rule = &cashback.Rule{}
	}
	capPerTx := "0"
	if rule.CapPerTx != nil {
		capPerTx = rule.CapPerTx.String()
	}
	cumulativeLimit := "0"
	if rule.CumulativeLimit != nil {
		cumulativeLimit = rule.CumulativeLimit.String()
	}
	return ruleResult{
		ID:              encodeRuleID(id),
		PercentageBps:   rule.PercentageBps,
		CapPerTx:        capPerTx,
		CumulativeLimit: cumulativeLimit,
		ValidFrom:       rule.ValidFrom,
		ValidUntil:      rule.ValidUntil,
		Active:          rule.Active,
	}
}

var domainErrors = []error{
	cashback.ErrUnauthorized,
	cashback.ErrInvalidPercentage,
	cashback.ErrZeroAmount,
	cashback.ErrInvalidValidityWindow,
	cashback.ErrRuleNotFound,
	cashback.ErrRuleExpired,
	cashback.ErrLimitExceeded,
	cashback.ErrInsufficientFunds,
	cashback.ErrAlreadyPaused,
	cashback.ErrNotPaused,
	cashback.ErrZeroAddress,
	cashback.ErrReentrantCall,
	nativecommon.ErrModulePaused,
}

func writeDomainError(w http.ResponseWriter, id interface{}, err error) {
	if errors.Is(err, cashback.ErrUnauthorized) {
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
		return
	}
	for _, domain := range domainErrors {
		if errors.Is(err, domain) {
			writeError(w, http.StatusBadRequest, id, codeServerError, err.Error(), nil)
			return
		}
	}
	writeError(w, http.StatusInternalServerError, id, codeServerError, "internal error", err.Error())
}

func transactionOutcome(err error) string {
	switch {
	case err == nil:
		return "paid"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	case errors.Is(err, cashback.ErrRuleNotFound):
		return "rule_not_found"
	case errors.Is(err, cashback.ErrRuleExpired):
		return "rule_expired"
	case errors.Is(err, cashback.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, cashback.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, cashback.ErrReentrantCall):
		return "reentrant"
	default:
		return "error"
	}
}

func (s *Server) refreshReserveGauge() {
	if balance, err := s.engine.ReserveBalance(); err == nil {
		metrics.Cashback().SetReserveBalance(balance)
	}
}
