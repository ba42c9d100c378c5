// Package txflow drives one contract call per user action through submission,
// confirmation and outcome classification.
package txflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"omnipool/internal/fanout"
	"omnipool/native/amount"
	"omnipool/native/chains"
	"omnipool/native/lending"
	"omnipool/services/wallet"
)

const (
	defaultConfirmTimeout = 10 * time.Minute
	recordTimeout         = 5 * time.Second
	subscriberBuffer      = 16
)

// AccountSource reports the live wallet state.
type AccountSource interface {
	State() wallet.State
}

// Controller owns the single live Record of one action.
type Controller struct {
	cfg            ActionConfig
	caller         ContractCaller
	accounts       AccountSource
	registry       *chains.Registry
	relay          Relay
	recorder       Recorder
	metrics        *Metrics
	tracer         trace.Tracer
	logger         *slog.Logger
	now            func() time.Time
	confirmTimeout time.Duration

	mu       sync.Mutex
	record   Record
	inFlight bool
	// deferred is the completion callback of a manual-complete success,
	// released by Dismiss or by the next Submit.
	deferred func(Outcome)
	outcome  Outcome
	hub      *fanout.Hub[Record]
}

// Option customises a Controller.
type Option func(*Controller)

// WithRelay enables cross-chain dispatch.
func WithRelay(relay Relay) Option {
	return func(c *Controller) { c.relay = relay }
}

// WithRecorder journals terminal outcomes.
func WithRecorder(recorder Recorder) Option {
	return func(c *Controller) { c.recorder = recorder }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTracer overrides the default tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the function used to stamp records.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithConfirmTimeout bounds the wait for confirmation once a call has been
// submitted.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.confirmTimeout = d
		}
	}
}

// NewController builds the controller for action.
func NewController(action Action, caller ContractCaller, accounts AccountSource, registry *chains.Registry, opts ...Option) (*Controller, error) {
	cfg, err := ConfigFor(action)
	if err != nil {
		return nil, err
	}
	if caller == nil {
		return nil, fmt.Errorf("txflow: contract caller required")
	}
	if accounts == nil {
		return nil, fmt.Errorf("txflow: account source required")
	}
	if registry == nil {
		return nil, fmt.Errorf("txflow: registry required")
	}
	c := &Controller{
		cfg:            cfg,
		caller:         caller,
		accounts:       accounts,
		registry:       registry,
		metrics:        NewMetrics(),
		tracer:         otel.Tracer("omnipool/txflow"),
		logger:         slog.Default(),
		now:            time.Now,
		confirmTimeout: defaultConfirmTimeout,
		hub:            fanout.NewHub(subscriberBuffer, Record.clone),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("action", string(action)))
	c.record = Record{Action: action, State: StateIdle, UpdatedAt: c.now()}
	return c, nil
}

// Config returns the action configuration.
func (c *Controller) Config() ActionConfig { return c.cfg }

// Submit runs one attempt to completion. It fails fast with
// ErrActionInFlight while another attempt runs. Precondition failures leave
// the record Failed and return a *PreconditionError without contacting the
// network. A user cancellation returns the record to Idle and a nil error.
// A manual-complete success that was never dismissed has its completion
// released before the new attempt starts.
func (c *Controller) Submit(ctx context.Context, params Params) (Record, error) {
	c.mu.Lock()
	if c.inFlight {
		rec := c.record.clone()
		c.mu.Unlock()
		return rec, ErrActionInFlight
	}
	c.inFlight = true
	prior, priorOutcome := c.deferred, c.outcome
	c.deferred = nil
	c.record = Record{
		Action:      c.cfg.Action,
		State:       StateIdle,
		AmountInput: params.Amount,
		Attempt:     c.record.Attempt + 1,
		UpdatedAt:   c.now(),
	}
	c.mu.Unlock()

	if prior != nil {
		prior(priorOutcome)
	}
	c.metrics.SetInFlight(string(c.cfg.Action), true)
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
		c.metrics.SetInFlight(string(c.cfg.Action), false)
	}()

	account := c.accounts.State()
	prep, err := c.prepare(account, params)
	if err != nil {
		return c.failPrecondition(account, err)
	}

	ctx, span := c.tracer.Start(ctx, "txflow.submit", trace.WithAttributes(
		attribute.String("action", string(c.cfg.Action)),
		attribute.Int64("chain.id", int64(prep.call.ChainID)),
		attribute.Bool("cross_chain", prep.crossChain),
	))
	defer span.End()
	start := c.now()

	c.transition(StateSubmitting, func(r *Record) {
		r.ChainID = prep.call.ChainID
		r.Amount = cloneBig(prep.amount)
		r.Shares = cloneBig(prep.shares)
		r.CrossChain = prep.crossChain
	})
	c.logger.Info("submitting call",
		slog.String("method", prep.call.Method),
		slog.String("to", prep.call.To.Hex()),
		slog.Uint64("chain_id", uint64(prep.call.ChainID)),
		slog.Bool("cross_chain", prep.crossChain))

	hash, err := c.write(ctx, prep)
	if err != nil {
		return c.fail(ctx, span, account, prep, start, err)
	}
	span.SetAttributes(attribute.String("tx.hash", hash.Hex()))
	c.transition(StateAwaitingConfirmation, func(r *Record) {
		submitted := hash
		r.SubmittedHash = &submitted
	})

	// A submitted call is never abandoned because the caller went away.
	awaitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.confirmTimeout)
	defer cancel()
	conf, err := c.await(awaitCtx, prep, hash)
	if err != nil {
		return c.fail(ctx, span, account, prep, start, err)
	}
	if !conf.Success {
		return c.fail(ctx, span, account, prep, start, &CallError{
			Op:   "confirm",
			Kind: KindReverted,
			Err:  fmt.Errorf("transaction %s reverted", hash.Hex()),
		})
	}
	return c.succeed(ctx, span, account, prep, start, hash, params.OnComplete)
}

func (c *Controller) prepare(account wallet.State, params Params) (prepared, error) {
	if !account.Connected {
		return prepared{}, precondition("Please connect your wallet first")
	}
	chain, ok := c.registry.Chain(account.ChainID)
	if !ok {
		return prepared{}, precondition("Unsupported network %d. Switch to a supported network", account.ChainID)
	}
	to, err := resolveContract(c.cfg, chain, params)
	if err != nil {
		return prepared{}, err
	}

	p := prepared{destination: chain.ID}
	if c.cfg.RequiresAmount {
		value, err := amount.ToInteger(params.Amount, params.Decimals)
		if err != nil {
			return prepared{}, precondition("Please enter a valid amount")
		}
		if value.Sign() <= 0 {
			return prepared{}, precondition("Amount must be greater than zero")
		}
		if _, err := amount.FitsUint256(value); err != nil {
			return prepared{}, precondition("Amount exceeds the maximum supported value")
		}
		p.amount = value
	}
	if c.cfg.Shares {
		var totals lending.PoolTotals
		if params.Totals != nil {
			totals = *params.Totals
		}
		shares := totals.SharesFor(p.amount)
		if shares.Sign() == 0 {
			return prepared{}, precondition("Calculated shares amount is zero")
		}
		if _, err := amount.FitsUint256(shares); err != nil {
			return prepared{}, precondition("Calculated shares exceed the maximum supported value")
		}
		p.shares = shares
	}

	dest := chain
	if c.cfg.CrossChain && params.DestinationChain != 0 && params.DestinationChain != chain.ID {
		remote, ok := c.registry.Chain(params.DestinationChain)
		if !ok {
			return prepared{}, precondition("Unsupported destination network %d", params.DestinationChain)
		}
		if c.relay == nil {
			return prepared{}, precondition("Cross-chain relay is not available")
		}
		dest = remote
		p.destination = remote.ID
		p.crossChain = true
	}
	args, err := buildArgs(c.cfg, p, params, dest)
	if err != nil {
		return prepared{}, err
	}
	p.call = Call{ChainID: chain.ID, To: to, Method: c.cfg.Method, Args: args}
	return p, nil
}

func (c *Controller) write(ctx context.Context, p prepared) (common.Hash, error) {
	if p.crossChain {
		return c.relay.Dispatch(ctx, p.call, p.destination)
	}
	return c.caller.WriteCall(ctx, p.call)
}

func (c *Controller) await(ctx context.Context, p prepared, hash common.Hash) (Confirmation, error) {
	if p.crossChain {
		return c.relay.AwaitDelivery(ctx, hash)
	}
	return c.caller.AwaitConfirmation(ctx, hash)
}

func (c *Controller) failPrecondition(account wallet.State, err error) (Record, error) {
	c.mu.Lock()
	c.record.State = StateFailed
	c.record.ChainID = account.ChainID
	c.record.ErrorMessage = reasonOf(err)
	c.record.AlertOpen = true
	c.record.UpdatedAt = c.now()
	rec := c.publishLocked()
	c.mu.Unlock()

	c.metrics.RecordOutcome(string(c.cfg.Action), "precondition", 0)
	c.logger.Info("submission blocked", slog.String("reason", rec.ErrorMessage))
	return rec, err
}

func (c *Controller) fail(ctx context.Context, span trace.Span, account wallet.State, p prepared, start time.Time, err error) (Record, error) {
	verdict := Classify(err, c.cfg.Fallback)
	if verdict.Cancelled {
		c.mu.Lock()
		c.record.State = StateIdle
		c.record.Cancelled = true
		c.record.ErrorMessage = ""
		c.record.AlertOpen = false
		c.record.UpdatedAt = c.now()
		rec := c.publishLocked()
		c.mu.Unlock()

		span.SetStatus(codes.Ok, "cancelled by user")
		c.metrics.RecordOutcome(string(c.cfg.Action), "cancelled", c.now().Sub(start))
		c.logger.Info("submission cancelled by user")
		return rec, nil
	}

	c.mu.Lock()
	c.record.State = StateFailed
	c.record.ErrorMessage = verdict.Message
	c.record.AlertOpen = true
	c.record.UpdatedAt = c.now()
	rec := c.publishLocked()
	outcome := c.outcomeLocked(account, p, err.Error())
	c.mu.Unlock()

	span.RecordError(err)
	span.SetStatus(codes.Error, string(verdict.Kind))
	c.metrics.RecordOutcome(string(c.cfg.Action), "failed", c.now().Sub(start))
	c.logger.Warn("submission failed", slog.String("kind", string(verdict.Kind)), slog.String("error", err.Error()))
	c.journal(ctx, outcome)
	return rec, fmt.Errorf("txflow: %s: %w", c.cfg.Action, err)
}

func (c *Controller) succeed(ctx context.Context, span trace.Span, account wallet.State, p prepared, start time.Time, hash common.Hash, onComplete func(Outcome)) (Record, error) {
	c.mu.Lock()
	confirmed := hash
	c.record.State = StateSucceeded
	c.record.ConfirmedHash = &confirmed
	c.record.Success = true
	c.record.AlertOpen = true
	c.record.ErrorMessage = ""
	c.record.UpdatedAt = c.now()
	rec := c.publishLocked()
	outcome := c.outcomeLocked(account, p, "")
	var callback func(Outcome)
	if c.cfg.Completion == AutoComplete {
		callback = onComplete
	} else {
		c.deferred = onComplete
		c.outcome = outcome
	}
	c.mu.Unlock()

	span.SetStatus(codes.Ok, "confirmed")
	c.metrics.RecordOutcome(string(c.cfg.Action), "succeeded", c.now().Sub(start))
	c.logger.Info("call confirmed", slog.String("tx_hash", hash.Hex()))
	c.journal(ctx, outcome)
	if callback != nil {
		callback(outcome)
	}
	return rec, nil
}

func (c *Controller) outcomeLocked(account wallet.State, p prepared, errMsg string) Outcome {
	out := Outcome{
		Action:     c.cfg.Action,
		ChainID:    p.call.ChainID,
		Account:    account.Address,
		State:      c.record.State,
		Amount:     c.record.AmountInput,
		Error:      errMsg,
		CrossChain: p.crossChain,
		Attempt:    c.record.Attempt,
		FinishedAt: c.record.UpdatedAt,
	}
	if c.record.SubmittedHash != nil {
		out.SubmittedHash = *c.record.SubmittedHash
		if !p.crossChain {
			if chain, ok := c.registry.Chain(p.call.ChainID); ok {
				out.ExplorerURL = chain.TxURL(out.SubmittedHash)
			}
		}
	}
	if c.record.ConfirmedHash != nil {
		out.ConfirmedHash = *c.record.ConfirmedHash
	}
	return out
}

func (c *Controller) journal(ctx context.Context, outcome Outcome) {
	if c.recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := c.recorder.Record(recordCtx, outcome); err != nil {
		c.logger.Warn("failed to record outcome", slog.String("error", err.Error()))
	}
}

// Dismiss closes the result surface and resets the record to Idle. The
// success flag survives for actions configured to keep it. A manual-complete
// success releases its completion callback here. Dismissing an idle record
// or one still in flight changes nothing.
func (c *Controller) Dismiss() Record {
	c.mu.Lock()
	if c.inFlight || (c.record.State == StateIdle && !c.record.AlertOpen) {
		rec := c.record.clone()
		c.mu.Unlock()
		return rec
	}
	callback := c.deferred
	outcome := c.outcome
	c.deferred = nil
	c.record = Record{
		Action:    c.cfg.Action,
		State:     StateIdle,
		Success:   c.record.Success && c.cfg.KeepSuccess,
		Attempt:   c.record.Attempt,
		UpdatedAt: c.now(),
	}
	rec := c.publishLocked()
	c.mu.Unlock()

	if callback != nil {
		callback(outcome)
	}
	return rec
}

// ClearSuccess drops a persisted success flag.
func (c *Controller) ClearSuccess() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.record.Success || c.inFlight {
		return c.record.clone()
	}
	c.record.Success = false
	c.record.UpdatedAt = c.now()
	return c.publishLocked()
}

// Snapshot returns a copy of the live record.
func (c *Controller) Snapshot() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.clone()
}

// InFlight reports whether an attempt is running.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Subscribe streams record changes until cancel is called. When a
// subscriber falls behind the oldest queued record is dropped.
func (c *Controller) Subscribe() (<-chan Record, func()) {
	return c.hub.Subscribe()
}

func (c *Controller) transition(state State, mutate func(*Record)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record.State = state
	if mutate != nil {
		mutate(&c.record)
	}
	c.record.UpdatedAt = c.now()
	c.publishLocked()
}

func (c *Controller) publishLocked() Record {
	rec := c.record.clone()
	c.hub.Publish(rec)
	return rec
}

func reasonOf(err error) string {
	var pre *PreconditionError
	if errors.As(err, &pre) {
		return pre.Reason
	}
	return err.Error()
}

func cloneBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}
