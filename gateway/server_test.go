package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"omnipool/gateway/middleware"
	"omnipool/native/chains"
	"omnipool/services/guard"
	"omnipool/services/indexer"
	"omnipool/services/selection"
	"omnipool/services/txflow"
	"omnipool/services/wallet"
	"omnipool/services/wallet/wallettest"
	"omnipool/storage"
)

var (
	testPool    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testAccount = common.HexToAddress("0x4000000000000000000000000000000000000004")
)

type recordingCaller struct {
	mu    sync.Mutex
	calls []txflow.Call
}

func (c *recordingCaller) write(_ context.Context, call txflow.Call) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return common.BigToHash(big.NewInt(int64(len(c.calls)))), nil
}

func (c *recordingCaller) snapshot() []txflow.Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]txflow.Call(nil), c.calls...)
}

type stubPools struct {
	pools []indexer.Pool
	apy   indexer.APY
	err   error

	mu          sync.Mutex
	invalidated []common.Address
}

func (s *stubPools) Pools(context.Context, chains.ChainID) ([]indexer.Pool, error) {
	return s.pools, s.err
}

func (s *stubPools) PoolAPY(context.Context, chains.ChainID, common.Address) (indexer.APY, error) {
	return s.apy, s.err
}

func (s *stubPools) Invalidate(_ chains.ChainID, pool common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, pool)
}

func (s *stubPools) invalidations() []common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]common.Address(nil), s.invalidated...)
}

type stubHistory struct {
	mu      sync.Mutex
	account common.Address
	limit   int
}

func (h *stubHistory) Recent(_ context.Context, account common.Address, limit int) ([]txflow.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.account = account
	h.limit = limit
	return []txflow.Outcome{{Action: txflow.ActionRepay, Account: account, State: txflow.StateSucceeded}}, nil
}

type harness struct {
	server  *httptest.Server
	gw      *Server
	wallet  *wallettest.Fake
	caller  *recordingCaller
	history *stubHistory
	pools   *stubPools
	actions *txflow.Manager
}

func newHarness(t *testing.T, initial wallet.State, tweaks ...func(*Config)) *harness {
	t.Helper()
	reg, err := chains.New([]chains.ChainDescriptor{
		{ID: chains.Moonbeam, Name: "Moonbeam", Explorer: "https://moonscan.io", MessagingEndpointID: 30126},
		{ID: chains.Base, Name: "Base", Explorer: "https://basescan.org", MessagingEndpointID: 30184},
	}, []chains.TokenDescriptor{
		{Symbol: "USDC", Name: "USD Coin", Decimals: 6, Addresses: map[chains.ChainID]common.Address{
			chains.Moonbeam: common.HexToAddress("0x7000000000000000000000000000000000000007"),
		}},
	}, chains.Moonbeam)
	require.NoError(t, err)

	sel, err := selection.Open(reg, storage.NewMemDB())
	require.NoError(t, err)

	fake := wallettest.NewFake(initial)
	fake.BalanceFunc = func(context.Context, *common.Address) (*big.Int, error) {
		return big.NewInt(2_500_000), nil
	}
	gate := guard.New(fake,
		guard.WithTarget(func() chains.ChainID { return sel.Current().ID }),
		guard.WithDebounce(10*time.Millisecond))
	t.Cleanup(gate.Close)

	caller := &recordingCaller{}
	actions, err := txflow.NewManager(txflow.FuncCaller{WriteFunc: caller.write}, fake, reg)
	require.NoError(t, err)

	history := &stubHistory{}
	pools := &stubPools{
		pools: []indexer.Pool{{Address: testPool, ChainID: chains.Moonbeam}},
		apy:   indexer.APY{Supply: 3.5, Borrow: 5.25},
	}
	cfg := Config{RateLimit: middleware.RateLimit{RatePerSecond: 1000, Burst: 1000}}
	for _, tweak := range tweaks {
		tweak(&cfg)
	}
	gw, err := New(Deps{
		Registry:  reg,
		Selection: sel,
		Wallet:    fake,
		Gate:      gate,
		Actions:   actions,
		Pools:     pools,
		History:   history,
	}, cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})
	return &harness{server: srv, gw: gw, wallet: fake, caller: caller, history: history, pools: pools, actions: actions}
}

func readyState() wallet.State {
	return wallet.State{Connected: true, Address: testAccount, ChainID: chains.Moonbeam}
}

func (h *harness) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	return h.doWithHeader(t, method, path, body, nil)
}

func (h *harness) doWithHeader(t *testing.T, method, path, body string, header http.Header) (int, []byte) {
	t.Helper()
	reader := bytes.NewReader([]byte(body))
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	for key, values := range header {
		req.Header[key] = values
	}
	resp, err := h.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.Bytes()
}

func (h *harness) record(t *testing.T, action txflow.Action) txflow.Record {
	t.Helper()
	ctrl, err := h.actions.Controller(action)
	require.NoError(t, err)
	return ctrl.Snapshot()
}

func TestHealthAndChains(t *testing.T) {
	h := newHarness(t, readyState())

	status, body := h.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", string(body))

	status, body = h.do(t, http.MethodGet, "/v1/chains", "")
	require.Equal(t, http.StatusOK, status)
	var payload struct {
		Chains  []chains.ChainDescriptor `json:"chains"`
		Default chains.ChainID           `json:"default"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Len(t, payload.Chains, 2)
	require.Equal(t, chains.Moonbeam, payload.Default)
}

func TestSelectChainMovesGuardTarget(t *testing.T) {
	h := newHarness(t, readyState())

	status, body := h.do(t, http.MethodPut, "/v1/chains/current", `{"chainId":8453}`)
	require.Equal(t, http.StatusOK, status, string(body))
	var snap selection.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	require.Equal(t, chains.Base, snap.Chain.ID)

	status, body = h.do(t, http.MethodGet, "/v1/guard", "")
	require.Equal(t, http.StatusOK, status)
	var state guardResponse
	require.NoError(t, json.Unmarshal(body, &state))
	require.Equal(t, guard.StatusWrongChain, state.Status)
	require.Equal(t, chains.Base, state.Target)

	status, _ = h.do(t, http.MethodPut, "/v1/chains/current", `{"chainId":1}`)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestSubmitRunsWhenReady(t *testing.T) {
	h := newHarness(t, readyState())

	body := `{"amount":"1.5","token":"usdc","pool":"` + testPool.Hex() + `"}`
	status, raw := h.do(t, http.MethodPost, "/v1/actions/supply-liquidity", body)
	require.Equal(t, http.StatusAccepted, status, string(raw))
	var resp submitResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.True(t, resp.Decision.Proceed)

	require.Eventually(t, func() bool {
		return h.record(t, txflow.ActionSupplyLiquidity).State == txflow.StateSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	calls := h.caller.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, testPool, calls[0].To)
	require.Equal(t, "supplyLiquidity", calls[0].Method)
	require.Equal(t, big.NewInt(1_500_000), calls[0].Args[0])
}

func TestSubmitDeferredUntilWalletConnects(t *testing.T) {
	h := newHarness(t, wallet.State{ChainID: chains.Moonbeam})

	body := `{"amount":"2","decimals":6,"pool":"` + testPool.Hex() + `"}`
	status, raw := h.do(t, http.MethodPost, "/v1/actions/repay", body)
	require.Equal(t, http.StatusAccepted, status, string(raw))
	var resp submitResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.False(t, resp.Decision.Proceed)
	require.Equal(t, guard.StatusNotConnected, resp.Decision.Status)
	require.NotNil(t, resp.Decision.Session)
	require.Empty(t, h.caller.snapshot())

	h.wallet.Emit(readyState())
	require.Eventually(t, func() bool {
		return h.record(t, txflow.ActionRepay).State == txflow.StateSucceeded
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, h.caller.snapshot(), 1)
}

func TestCompletionFollowsActionPolicy(t *testing.T) {
	h := newHarness(t, readyState())
	completions, cancel := h.gw.completions.Subscribe()
	defer cancel()

	body := `{"amount":"1","decimals":18,"pool":"` + testPool.Hex() + `"}`
	status, raw := h.do(t, http.MethodPost, "/v1/actions/withdraw-liquidity", body)
	require.Equal(t, http.StatusAccepted, status, string(raw))
	require.Eventually(t, func() bool {
		return h.record(t, txflow.ActionWithdrawLiquidity).State == txflow.StateSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case outcome := <-completions:
		t.Fatalf("withdrawal completed before dismiss: %+v", outcome)
	case <-time.After(50 * time.Millisecond):
	}
	require.Empty(t, h.pools.invalidations())

	status, _ = h.do(t, http.MethodPost, "/v1/actions/withdraw-liquidity/dismiss", "")
	require.Equal(t, http.StatusOK, status)
	select {
	case outcome := <-completions:
		require.Equal(t, txflow.ActionWithdrawLiquidity, outcome.Action)
		require.Equal(t, txflow.StateSucceeded, outcome.State)
	case <-time.After(time.Second):
		t.Fatalf("dismiss did not release the withdrawal completion")
	}
	require.Equal(t, []common.Address{testPool}, h.pools.invalidations())

	body = `{"amount":"1","decimals":6,"pool":"` + testPool.Hex() + `"}`
	status, raw = h.do(t, http.MethodPost, "/v1/actions/supply-liquidity", body)
	require.Equal(t, http.StatusAccepted, status, string(raw))
	select {
	case outcome := <-completions:
		require.Equal(t, txflow.ActionSupplyLiquidity, outcome.Action)
	case <-time.After(2 * time.Second):
		t.Fatalf("supply did not complete after confirmation")
	}
	require.Equal(t, txflow.StateSucceeded, h.record(t, txflow.ActionSupplyLiquidity).State)
	require.Len(t, h.pools.invalidations(), 2)
}

func TestShutdownDropsLateHandOff(t *testing.T) {
	h := newHarness(t, wallet.State{ChainID: chains.Moonbeam})

	body := `{"amount":"2","decimals":6,"pool":"` + testPool.Hex() + `"}`
	status, raw := h.do(t, http.MethodPost, "/v1/actions/repay", body)
	require.Equal(t, http.StatusAccepted, status, string(raw))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.gw.Shutdown(ctx))

	h.wallet.Emit(readyState())
	time.Sleep(80 * time.Millisecond)
	require.Empty(t, h.caller.snapshot())
	require.Equal(t, txflow.StateIdle, h.record(t, txflow.ActionRepay).State)

	status, _ = h.do(t, http.MethodPost, "/v1/actions/repay", body)
	require.Equal(t, http.StatusServiceUnavailable, status)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	h := newHarness(t, readyState())

	status, _ := h.do(t, http.MethodPost, "/v1/actions/teleport", `{}`)
	require.Equal(t, http.StatusNotFound, status)

	status, _ = h.do(t, http.MethodPost, "/v1/actions/repay", `{"amount":`)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(t, http.MethodPost, "/v1/actions/repay", `{"amount":"1","decimals":6,"pool":"nope"}`)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(t, http.MethodPost, "/v1/actions/repay", `{"amount":"1","token":"DOGE"}`)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(t, http.MethodPost, "/v1/actions/repay", `{"amount":"1","unknown":true}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Empty(t, h.caller.snapshot())
}

func TestGuardSwitchDefaultsToSelectedChain(t *testing.T) {
	h := newHarness(t, wallet.State{Connected: true, Address: testAccount, ChainID: chains.Base})

	status, body := h.do(t, http.MethodPost, "/v1/guard/switch", "")
	require.Equal(t, http.StatusOK, status, string(body))
	var state guardResponse
	require.NoError(t, json.Unmarshal(body, &state))
	require.Equal(t, guard.StatusReady, state.Status)
	require.Equal(t, chains.Moonbeam, h.wallet.State().ChainID)
}

func TestGuardConnectReportsRejection(t *testing.T) {
	h := newHarness(t, wallet.State{ChainID: chains.Moonbeam})
	h.wallet.ConnectFunc = func(context.Context) error {
		return errors.New("connector unavailable")
	}

	status, body := h.do(t, http.MethodPost, "/v1/guard/connect", "")
	require.Equal(t, http.StatusOK, status)
	var state guardResponse
	require.NoError(t, json.Unmarshal(body, &state))
	require.Equal(t, guard.StatusNotConnected, state.Status)
	require.NotEmpty(t, state.Error)
}

func TestWalletBalance(t *testing.T) {
	h := newHarness(t, readyState())

	status, body := h.do(t, http.MethodGet, "/v1/wallet/balance?token=USDC", "")
	require.Equal(t, http.StatusOK, status, string(body))
	var resp balanceResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Equal(t, "2500000", resp.Raw)
	require.Equal(t, "2.500000", resp.Display)

	status, _ = h.do(t, http.MethodGet, "/v1/wallet/balance?token=DOGE", "")
	require.Equal(t, http.StatusBadRequest, status)
}

func TestPoolsAndHistory(t *testing.T) {
	h := newHarness(t, readyState())

	status, body := h.do(t, http.MethodGet, "/v1/pools", "")
	require.Equal(t, http.StatusOK, status, string(body))
	require.Contains(t, string(body), strings.ToLower(testPool.Hex()[2:]))

	status, body = h.do(t, http.MethodGet, "/v1/pools/"+testPool.Hex()+"/apy?chain=1284", "")
	require.Equal(t, http.StatusOK, status, string(body))
	var apy indexer.APY
	require.NoError(t, json.Unmarshal(body, &apy))
	require.Equal(t, 3.5, apy.Supply)

	status, _ = h.do(t, http.MethodGet, "/v1/pools?chain=99", "")
	require.Equal(t, http.StatusBadRequest, status)

	status, body = h.do(t, http.MethodGet, "/v1/history?limit=5", "")
	require.Equal(t, http.StatusOK, status, string(body))
	h.history.mu.Lock()
	require.Equal(t, testAccount, h.history.account)
	require.Equal(t, 5, h.history.limit)
	h.history.mu.Unlock()

	status, _ = h.do(t, http.MethodGet, "/v1/history?limit=-1", "")
	require.Equal(t, http.StatusBadRequest, status)
}

func TestActionStream(t *testing.T) {
	h := newHarness(t, readyState())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/v1/actions/repay/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() txflow.Record {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var rec txflow.Record
		require.NoError(t, json.Unmarshal(data, &rec))
		return rec
	}
	require.Equal(t, txflow.StateIdle, read().State)

	body := `{"amount":"1","decimals":6,"pool":"` + testPool.Hex() + `"}`
	status, _ := h.do(t, http.MethodPost, "/v1/actions/repay", body)
	require.Equal(t, http.StatusAccepted, status)

	for {
		rec := read()
		if rec.State == txflow.StateSucceeded {
			require.True(t, rec.Success)
			require.NotNil(t, rec.ConfirmedHash)
			return
		}
	}
}

func TestWriteRoutesRequireToken(t *testing.T) {
	const secret = "gateway-test-secret"
	h := newHarness(t, readyState(), func(cfg *Config) {
		cfg.Auth = middleware.AuthConfig{Enabled: true, HMACSecret: secret}
	})

	status, _ := h.do(t, http.MethodGet, "/v1/actions/repay", "")
	require.Equal(t, http.StatusOK, status)

	body := `{"amount":"1","decimals":6,"pool":"` + testPool.Hex() + `"}`
	status, _ = h.do(t, http.MethodPost, "/v1/actions/repay", body)
	require.Equal(t, http.StatusUnauthorized, status)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": middleware.ScopeWrite,
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	status, raw := h.doWithHeader(t, http.MethodPost, "/v1/actions/repay", body,
		http.Header{"Authorization": {"Bearer " + token}})
	require.Equal(t, http.StatusAccepted, status, string(raw))
	require.Eventually(t, func() bool {
		return h.record(t, txflow.ActionRepay).State == txflow.StateSucceeded
	}, 2*time.Second, 10*time.Millisecond)
}
