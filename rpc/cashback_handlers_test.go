package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"cashbackd/core/state"
	"cashbackd/crypto"
	"cashbackd/native/cashback"
	"cashbackd/storage"
)

var (
	testEpoch = time.Unix(1_700_000_000, 0).UTC()

	adminBytes = [20]byte{0x01}
	payerBytes = [20]byte{0x42}
)

func addrString(b [20]byte) string {
	return crypto.NewAddress(crypto.CBPrefix, b[:]).String()
}

type testEnv struct {
	server *Server
	clock  *clockwork.FakeClock
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	ledger := state.NewLedger(storage.NewMemDB())
	require.NoError(t, ledger.SetCashbackAdmin(adminBytes))

	engine := cashback.NewEngine(ledger)
	registry := cashback.NewRegistry(ledger)
	clock := clockwork.NewFakeClockAt(testEpoch)
	return &testEnv{server: NewServer(engine, registry, clock), clock: clock}
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func (env *testEnv) call(t *testing.T, method string, params interface{}, token string) (int, rpcReply) {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	var reply rpcReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	return rec.Code, reply
}

func (env *testEnv) registerRule(t *testing.T) string {
	t.Helper()
	status, reply := env.call(t, "cashback_registerRule", registerRuleParams{
		Caller:                addrString(adminBytes),
		PercentageBps:         200,
		CapPerTx:              "100000000000000000",
		CumulativeLimit:       "500000000000000000",
		ValidityWindowSeconds: 30 * 24 * 3600,
	}, "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)

	var result map[string]string
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	require.Len(t, result["ruleId"], 66)
	return result["ruleId"]
}

func TestRegisterAndProcessFlow(t *testing.T) {
	env := newTestServer(t)
	ruleID := env.registerRule(t)

	status, reply := env.call(t, "cashback_deposit", depositParams{
		From:   addrString(adminBytes),
		Amount: "10000000000000000000",
	}, "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)

	status, reply = env.call(t, "cashback_processTransaction", processTransactionParams{
		Payer:  addrString(payerBytes),
		RuleID: ruleID,
		Amount: "1000000000000000000",
	}, "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)

	var processed processTransactionResult
	require.NoError(t, json.Unmarshal(reply.Result, &processed))
	require.Equal(t, "20000000000000000", processed.Cashback)

	status, reply = env.call(t, "cashback_getUserUsage", userParams{User: addrString(payerBytes)}, "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)
	var usage userUsageResult
	require.NoError(t, json.Unmarshal(reply.Result, &usage))
	require.Equal(t, "20000000000000000", usage.TotalReceived)
	require.Equal(t, uint64(1), usage.TransactionCount)
	require.Equal(t, uint64(testEpoch.Unix()), usage.LastUpdated)

	// 10.0 funded + 1.0 deposited with the transaction - 0.02 paid out.
	status, reply = env.call(t, "cashback_getReserve", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)
	var reserve reserveResult
	require.NoError(t, json.Unmarshal(reply.Result, &reserve))
	require.Equal(t, "10980000000000000000", reserve.Balance)
}

func TestRegisterRuleUnauthorized(t *testing.T) {
	env := newTestServer(t)

	status, reply := env.call(t, "cashback_registerRule", registerRuleParams{
		Caller:                addrString(payerBytes),
		PercentageBps:         200,
		CapPerTx:              "1",
		CumulativeLimit:       "1",
		ValidityWindowSeconds: 3600,
	}, "")
	require.Equal(t, http.StatusForbidden, status)
	require.NotNil(t, reply.Error)
	require.Equal(t, codeUnauthorized, reply.Error.Code)
}

func TestProcessTransactionExpiredRule(t *testing.T) {
	env := newTestServer(t)
	status, reply := env.call(t, "cashback_registerRule", registerRuleParams{
		Caller:                addrString(adminBytes),
		PercentageBps:         200,
		CapPerTx:              "100000000000000000",
		CumulativeLimit:       "500000000000000000",
		ValidityWindowSeconds: 3600,
	}, "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)
	var registered map[string]string
	require.NoError(t, json.Unmarshal(reply.Result, &registered))

	env.clock.Advance(2 * time.Hour)

	status, reply = env.call(t, "cashback_processTransaction", processTransactionParams{
		Payer:  addrString(payerBytes),
		RuleID: registered["ruleId"],
		Amount: "1000000000000000000",
	}, "")
	require.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, reply.Error)
	require.Contains(t, reply.Error.Message, "expired")
}

func TestMutationRequiresBearerToken(t *testing.T) {
	t.Setenv(rpcTokenEnv, "sekrit")
	env := newTestServer(t)

	status, reply := env.call(t, "cashback_pause", callerParams{Caller: addrString(adminBytes)}, "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, reply.Error)
	require.Equal(t, codeUnauthorized, reply.Error.Code)

	status, reply = env.call(t, "cashback_pause", callerParams{Caller: addrString(adminBytes)}, "sekrit")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)

	// Reads stay open without a token.
	status, reply = env.call(t, "cashback_getReserve", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)
}

func TestCalculateCashbackUnknownRule(t *testing.T) {
	env := newTestServer(t)

	status, reply := env.call(t, "cashback_calculateCashback", calculateCashbackParams{
		RuleID: "0x" + string(bytes.Repeat([]byte{'e'}, 64)),
		User:   addrString(payerBytes),
		Amount: "1000000000000000000",
	}, "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)
	var result map[string]string
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	require.Equal(t, "0", result["cashback"])
}

func TestGetRuleUnknown(t *testing.T) {
	env := newTestServer(t)

	status, reply := env.call(t, "cashback_getRule", getRuleParams{
		RuleID: "0x" + string(bytes.Repeat([]byte{'a'}, 64)),
	}, "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)
	var rule ruleResult
	require.NoError(t, json.Unmarshal(reply.Result, &rule))
	require.False(t, rule.Active)
	require.Zero(t, rule.PercentageBps)
	require.Equal(t, "0", rule.CapPerTx)
}

func TestInvalidParams(t *testing.T) {
	env := newTestServer(t)

	status, reply := env.call(t, "cashback_processTransaction", processTransactionParams{
		Payer:  "not-an-address",
		RuleID: "0x00",
		Amount: "1",
	}, "")
	require.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, reply.Error)
	require.Equal(t, codeInvalidParams, reply.Error.Code)

	status, reply = env.call(t, "cashback_registerRule", nil, "")
	require.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, reply.Error)
	require.Equal(t, codeInvalidParams, reply.Error.Code)
}

func TestMethodNotFound(t *testing.T) {
	env := newTestServer(t)

	status, reply := env.call(t, "cashback_unknownMethod", nil, "")
	require.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, reply.Error)
	require.Equal(t, codeMethodNotFound, reply.Error.Code)
}

func TestMaxPercentage(t *testing.T) {
	env := newTestServer(t)

	status, reply := env.call(t, "cashback_maxPercentage", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)
	var max uint32
	require.NoError(t, json.Unmarshal(reply.Result, &max))
	require.Equal(t, uint32(1000), max)
}
