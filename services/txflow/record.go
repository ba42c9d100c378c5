package txflow

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/native/chains"
)

// State is a lifecycle position.
type State string

const (
	StateIdle                 State = "idle"
	StateSubmitting           State = "submitting"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateSucceeded            State = "succeeded"
	StateFailed               State = "failed"
)

// rank orders states along the lifecycle of one attempt.
func (s State) rank() int {
	switch s {
	case StateSubmitting:
		return 1
	case StateAwaitingConfirmation:
		return 2
	case StateSucceeded, StateFailed:
		return 3
	default:
		return 0
	}
}

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Record is the live state of one action.
type Record struct {
	Action        Action         `json:"action"`
	State         State          `json:"state"`
	ChainID       chains.ChainID `json:"chainId,omitempty"`
	SubmittedHash *common.Hash   `json:"submittedHash,omitempty"`
	ConfirmedHash *common.Hash   `json:"confirmedHash,omitempty"`
	AmountInput   string         `json:"amountInput,omitempty"`
	Amount        *big.Int       `json:"amount,omitempty"`
	Shares        *big.Int       `json:"shares,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	AlertOpen     bool           `json:"alertOpen"`
	Success       bool           `json:"success"`
	Cancelled     bool           `json:"cancelled"`
	CrossChain    bool           `json:"crossChain,omitempty"`
	Attempt       uint64         `json:"attempt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

func (r Record) clone() Record {
	out := r
	if r.SubmittedHash != nil {
		h := *r.SubmittedHash
		out.SubmittedHash = &h
	}
	if r.ConfirmedHash != nil {
		h := *r.ConfirmedHash
		out.ConfirmedHash = &h
	}
	if r.Amount != nil {
		out.Amount = new(big.Int).Set(r.Amount)
	}
	if r.Shares != nil {
		out.Shares = new(big.Int).Set(r.Shares)
	}
	return out
}

// Outcome is the terminal result of one attempt.
type Outcome struct {
	Action        Action         `json:"action"`
	ChainID       chains.ChainID `json:"chainId"`
	Account       common.Address `json:"account"`
	State         State          `json:"state"`
	SubmittedHash common.Hash    `json:"submittedHash"`
	ConfirmedHash common.Hash    `json:"confirmedHash"`
	Amount        string         `json:"amount"`
	Error         string         `json:"error,omitempty"`
	CrossChain    bool           `json:"crossChain,omitempty"`
	ExplorerURL   string         `json:"explorerUrl,omitempty"`
	Attempt       uint64         `json:"attempt"`
	FinishedAt    time.Time      `json:"finishedAt"`
}

// Recorder persists terminal outcomes.
type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, outcome Outcome) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, outcome Outcome) error {
	return f(ctx, outcome)
}
