package gateway

import (
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"omnipool/native/amount"
	"omnipool/native/chains"
	"omnipool/native/lending"
	"omnipool/services/guard"
	"omnipool/services/txflow"
)

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"chains":  s.deps.Registry.Chains(),
		"tokens":  s.deps.Registry.Tokens(),
		"default": s.deps.Registry.Default().ID,
	})
}

func (s *Server) handleCurrentChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Selection.Snapshot())
}

type chainRequest struct {
	ChainID uint64 `json:"chainId"`
}

func (s *Server) handleSelectChain(w http.ResponseWriter, r *http.Request) {
	var req chainRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.deps.Selection.Set(chains.ChainID(req.ChainID)); err != nil {
		writeError(w, err)
		return
	}
	s.deps.Gate.Reevaluate()
	writeJSON(w, http.StatusOK, s.deps.Selection.Snapshot())
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Wallet.State())
}

type balanceResponse struct {
	Token   string         `json:"token"`
	ChainID chains.ChainID `json:"chainId"`
	Raw     string         `json:"raw"`
	Display string         `json:"display"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	state := s.deps.Wallet.State()
	symbol := strings.TrimSpace(r.URL.Query().Get("token"))
	var (
		token    *common.Address
		decimals uint8 = 18
	)
	if symbol != "" {
		desc, err := s.deps.Registry.Token(symbol)
		if err != nil {
			writeError(w, err)
			return
		}
		addr, ok := desc.AddressOn(state.ChainID)
		if !ok {
			writeError(w, badRequest("token %s is not deployed on chain %d", desc.Symbol, state.ChainID))
			return
		}
		token = &addr
		decimals = desc.Decimals
		symbol = desc.Symbol
	}
	balance, err := s.deps.Wallet.Balance(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Token:   symbol,
		ChainID: state.ChainID,
		Raw:     balance.String(),
		Display: amount.Format(balance, decimals),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Wallet.Connect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	s.deps.Gate.Reevaluate()
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Wallet.Disconnect(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Wallet.State())
}

type guardResponse struct {
	Status  guard.Status   `json:"status"`
	Target  chains.ChainID `json:"target"`
	Session *guard.Session `json:"session,omitempty"`
	Pending guard.Pool     `json:"pending"`
	Error   string         `json:"error,omitempty"`
}

func (s *Server) guardState() guardResponse {
	resp := guardResponse{
		Status:  s.deps.Gate.Status(),
		Target:  s.deps.Selection.Current().ID,
		Pending: s.deps.Gate.Pending(),
	}
	if session, ok := s.deps.Gate.Session(); ok {
		resp.Session = &session
	}
	return resp
}

func (s *Server) handleGuard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.guardState())
}

// handleGuardConnect never fails: a rejected prompt is reported next to the
// live status.
func (s *Server) handleGuardConnect(w http.ResponseWriter, r *http.Request) {
	_, err := s.deps.Gate.RequestConnect(r.Context())
	resp := s.guardState()
	if err != nil {
		resp.Error = txflow.Classify(err, "Failed to connect wallet.").Message
		if resp.Error == "" {
			resp.Error = "Connection request was rejected."
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGuardSwitch(w http.ResponseWriter, r *http.Request) {
	var req chainRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	target := chains.ChainID(req.ChainID)
	if target == 0 {
		target = s.deps.Selection.Current().ID
	}
	if !s.deps.Registry.IsSupported(target) {
		writeError(w, badRequest("chain %d is not supported", target))
		return
	}
	s.deps.Gate.RequestChainSwitch(r.Context(), target)
	writeJSON(w, http.StatusOK, s.guardState())
}

func (s *Server) handleGuardCancel(w http.ResponseWriter, r *http.Request) {
	s.deps.Gate.Cancel()
	writeJSON(w, http.StatusOK, s.guardState())
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Actions.Snapshots())
}

func (s *Server) controller(r *http.Request) (*txflow.Controller, error) {
	action, err := txflow.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		return nil, err
	}
	return s.deps.Actions.Controller(action)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.controller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

type totalsRequest struct {
	TotalSupplyAssets string `json:"totalSupplyAssets"`
	TotalSupplyShares string `json:"totalSupplyShares"`
	TotalBorrowAssets string `json:"totalBorrowAssets"`
	TotalBorrowShares string `json:"totalBorrowShares"`
}

type actionRequest struct {
	Amount           string         `json:"amount"`
	Token            string         `json:"token"`
	Decimals         *uint8         `json:"decimals"`
	Pool             string         `json:"pool"`
	Position         string         `json:"position"`
	DestinationChain uint64         `json:"destinationChain"`
	Totals           *totalsRequest `json:"totals"`
	CollateralToken  string         `json:"collateralToken"`
	BorrowToken      string         `json:"borrowToken"`
	LTV              string         `json:"ltv"`
	TokenIn          string         `json:"tokenIn"`
	TokenOut         string         `json:"tokenOut"`
}

func (req actionRequest) params(registry *chains.Registry) (txflow.Params, error) {
	var (
		params txflow.Params
		err    error
	)
	params.Amount = req.Amount
	params.DestinationChain = chains.ChainID(req.DestinationChain)
	switch {
	case req.Decimals != nil:
		params.Decimals = *req.Decimals
	case strings.TrimSpace(req.Token) != "":
		token, err := registry.Token(req.Token)
		if err != nil {
			return txflow.Params{}, err
		}
		params.Decimals = token.Decimals
	case strings.TrimSpace(req.Amount) != "":
		return txflow.Params{}, badRequest("decimals or token required with an amount")
	}
	for _, field := range []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"pool", req.Pool, &params.Pool},
		{"position", req.Position, &params.Position},
		{"collateralToken", req.CollateralToken, &params.CollateralToken},
		{"borrowToken", req.BorrowToken, &params.BorrowToken},
		{"tokenIn", req.TokenIn, &params.TokenIn},
		{"tokenOut", req.TokenOut, &params.TokenOut},
	} {
		if *field.dst, err = optionalAddress(field.name, field.raw); err != nil {
			return txflow.Params{}, err
		}
	}
	if req.Totals != nil {
		totals, err := lending.ParseTotals(req.Totals.TotalSupplyAssets, req.Totals.TotalSupplyShares,
			req.Totals.TotalBorrowAssets, req.Totals.TotalBorrowShares)
		if err != nil {
			return txflow.Params{}, badRequest("totals: %v", err)
		}
		params.Totals = &totals
	}
	if raw := strings.TrimSpace(req.LTV); raw != "" {
		ltv, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return txflow.Params{}, badRequest("invalid ltv %q", req.LTV)
		}
		params.LTV = ltv
	}
	return params, nil
}

func optionalAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, badRequest("invalid %s address %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}

type submitResponse struct {
	Decision guard.Decision `json:"decision"`
	Record   txflow.Record  `json:"record"`
}

// handleSubmit gates the action on wallet readiness. A ready wallet starts
// the submission at once; otherwise it is deferred to the guard session and
// starts when the session hands off.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.controller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	params, err := req.params(s.deps.Registry)
	if err != nil {
		writeError(w, err)
		return
	}
	if ctrl.InFlight() {
		writeError(w, txflow.ErrActionInFlight)
		return
	}
	params.OnComplete = s.completion(params.Pool)
	action := ctrl.Config().Action
	decision := s.deps.Gate.Trigger(guard.Pool{Address: params.Pool, Action: string(action)}, func() {
		s.submit(ctrl, params)
	})
	if decision.Proceed && !s.submit(ctrl, params) {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{Decision: decision, Record: ctrl.Snapshot()})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.controller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Dismiss())
}

func (s *Server) handleClearSuccess(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.controller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.ClearSuccess())
}

func (s *Server) chainParam(r *http.Request) (chains.ChainID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("chain"))
	if raw == "" {
		return s.deps.Selection.Current().ID, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest("invalid chain %q", raw)
	}
	if !s.deps.Registry.IsSupported(chains.ChainID(id)) {
		return 0, badRequest("chain %d is not supported", id)
	}
	return chains.ChainID(id), nil
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pools == nil {
		http.Error(w, "indexer not configured", http.StatusServiceUnavailable)
		return
	}
	chain, err := s.chainParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pools, err := s.deps.Pools.Pools(r.Context(), chain)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chainId": chain, "pools": pools})
}

func (s *Server) handlePoolAPY(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pools == nil {
		http.Error(w, "indexer not configured", http.StatusServiceUnavailable)
		return
	}
	chain, err := s.chainParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pool, err := optionalAddress("pool", chi.URLParam(r, "pool"))
	if err != nil || pool == (common.Address{}) {
		writeError(w, badRequest("pool address required"))
		return
	}
	apy, err := s.deps.Pools.PoolAPY(r.Context(), chain, pool)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apy)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		http.Error(w, "history not configured", http.StatusServiceUnavailable)
		return
	}
	query := r.URL.Query()
	account, err := optionalAddress("account", query.Get("account"))
	if err != nil {
		writeError(w, err)
		return
	}
	if account == (common.Address{}) {
		account = s.deps.Wallet.State().Address
	}
	limit := 50
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			writeError(w, badRequest("invalid limit %q", raw))
			return
		}
	}
	outcomes, err := s.deps.History.Recent(r.Context(), account, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "outcomes": outcomes})
}
