// Package guard decides whether a wallet-dependent action may run now or must
// first walk the user through connecting and switching networks.
package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"omnipool/native/chains"
	"omnipool/services/wallet"
)

// DefaultDebounce coalesces bursts of wallet events before firing onReady.
const DefaultDebounce = 100 * time.Millisecond

// Status is the readiness of the wallet for the target chain.
type Status string

const (
	StatusNotConnected Status = "not_connected"
	StatusWrongChain   Status = "wrong_chain"
	StatusReady        Status = "ready"
)

// Pool identifies the action context a session was opened for.
type Pool struct {
	Address common.Address `json:"address"`
	Action  string         `json:"action,omitempty"`
}

// Session describes an active guard.
type Session struct {
	ID        string    `json:"id"`
	Pool      Pool      `json:"pool"`
	CreatedAt time.Time `json:"createdAt"`
}

// Decision is the result of Trigger.
type Decision struct {
	Proceed bool     `json:"proceed"`
	Status  Status   `json:"status"`
	Session *Session `json:"session,omitempty"`
}

type session struct {
	Session
	onReady func()
}

// Gate evaluates wallet readiness against the selected chain and holds at
// most one session waiting for readiness.
type Gate struct {
	provider wallet.Provider
	target   func() chains.ChainID
	debounce time.Duration
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time

	mu      sync.Mutex
	active  *session
	pending Pool
	timer   *time.Timer
	closed  bool

	unsubscribe func()
	done        chan struct{}
}

// Option customises the gate.
type Option func(*Gate)

// WithTarget supplies the function returning the chain actions must run on.
func WithTarget(target func() chains.ChainID) Option {
	return func(g *Gate) {
		if target != nil {
			g.target = target
		}
	}
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.debounce = d
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithClock sets the function used to stamp sessions.
func WithClock(clock func() time.Time) Option {
	return func(g *Gate) {
		if clock != nil {
			g.now = clock
		}
	}
}

// New constructs a gate observing provider. The gate targets Moonbeam unless
// WithTarget says otherwise. Close releases the provider subscription.
func New(provider wallet.Provider, opts ...Option) *Gate {
	g := &Gate{
		provider: provider,
		target:   func() chains.ChainID { return chains.Moonbeam },
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		metrics:  NewMetrics(),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	updates, cancel := provider.Subscribe()
	g.unsubscribe = cancel
	go g.watch(updates)
	return g
}

func (g *Gate) watch(updates <-chan wallet.State) {
	for {
		select {
		case <-g.done:
			return
		case state := <-updates:
			g.observe(state)
		}
	}
}

func (g *Gate) evaluate(state wallet.State) Status {
	switch {
	case !state.Connected:
		return StatusNotConnected
	case state.ChainID != g.target():
		return StatusWrongChain
	default:
		return StatusReady
	}
}

// Status reports readiness from the live wallet state.
func (g *Gate) Status() Status {
	return g.evaluate(g.provider.State())
}

// Session returns the active session, if any.
func (g *Gate) Session() (Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return Session{}, false
	}
	return g.active.Session, true
}

// Pending returns the pool context recorded by the latest Trigger.
func (g *Gate) Pending() Pool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// Trigger records pool as the pending context. When the wallet is ready the
// caller proceeds immediately and onReady is not retained. Otherwise a new
// session replaces any active one and onReady runs once readiness is
// reached, unless the session is cancelled first.
func (g *Gate) Trigger(pool Pool, onReady func()) Decision {
	status := g.Status()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = pool
	if status == StatusReady {
		return Decision{Proceed: true, Status: status}
	}
	g.stopTimerLocked()
	g.active = &session{
		Session: Session{ID: uuid.NewString(), Pool: pool, CreatedAt: g.now()},
		onReady: onReady,
	}
	g.metrics.RecordActivation(string(status))
	g.logger.Info("guard activated",
		slog.String("session", g.active.ID),
		slog.String("status", string(status)),
		slog.String("pool", pool.Address.Hex()),
		slog.String("action", pool.Action))
	snapshot := g.active.Session
	return Decision{Proceed: false, Status: status, Session: &snapshot}
}

// RequestConnect asks the provider to connect. A rejection is returned for
// display only; the reported status always comes from the live wallet state.
func (g *Gate) RequestConnect(ctx context.Context) (Status, error) {
	_, err := g.provider.Connect(ctx)
	if err != nil {
		g.logger.Warn("wallet connect rejected", slog.String("error", err.Error()))
	}
	state := g.provider.State()
	g.observe(state)
	return g.evaluate(state), err
}

// RequestChainSwitch asks the provider to move to target. Failures are
// logged and swallowed; the user may retry.
func (g *Gate) RequestChainSwitch(ctx context.Context, target chains.ChainID) Status {
	if err := g.provider.SwitchChain(ctx, target); err != nil {
		g.logger.Warn("wallet chain switch failed",
			slog.Uint64("chain_id", uint64(target)),
			slog.String("error", err.Error()))
	}
	state := g.provider.State()
	g.observe(state)
	return g.evaluate(state)
}

// Reevaluate re-checks readiness after the target chain changed.
func (g *Gate) Reevaluate() Status {
	state := g.provider.State()
	g.observe(state)
	return g.evaluate(state)
}

// Cancel deactivates the guard and forgets the pending pool without invoking
// the deferred callback.
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopTimerLocked()
	g.pending = Pool{}
	if g.active == nil {
		return
	}
	g.logger.Info("guard cancelled", slog.String("session", g.active.ID))
	g.active = nil
	g.metrics.RecordCancel()
}

// Close stops observing the provider and drops any session.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.stopTimerLocked()
	g.active = nil
	g.pending = Pool{}
	g.mu.Unlock()

	g.unsubscribe()
	close(g.done)
}

// observe schedules the hand-off when an active session becomes ready and
// withdraws a scheduled hand-off when readiness is lost again.
func (g *Gate) observe(state wallet.State) {
	status := g.evaluate(state)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.active == nil {
		return
	}
	if status != StatusReady {
		g.stopTimerLocked()
		return
	}
	if g.timer != nil {
		g.timer.Reset(g.debounce)
		return
	}
	sessionID := g.active.ID
	g.timer = time.AfterFunc(g.debounce, func() { g.fire(sessionID) })
}

func (g *Gate) fire(sessionID string) {
	if g.Status() != StatusReady {
		return
	}
	g.mu.Lock()
	if g.closed || g.active == nil || g.active.ID != sessionID {
		g.mu.Unlock()
		return
	}
	callback := g.active.onReady
	g.active.onReady = nil
	g.logger.Info("guard ready", slog.String("session", sessionID))
	g.active = nil
	g.pending = Pool{}
	g.timer = nil
	g.metrics.RecordHandoff()
	g.mu.Unlock()

	if callback != nil {
		callback()
	}
}

func (g *Gate) stopTimerLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}
