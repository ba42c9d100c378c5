// Package evm submits contract calls through go-ethereum and waits for their
// receipts.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"omnipool/native/chains"
	"omnipool/services/txflow"
	"omnipool/services/wallet"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultGasHeadroom  = 20
)

// Backend is the subset of ethclient.Client used to send and track calls.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// BackendSource returns the backend serving a chain.
type BackendSource func(ctx context.Context, id chains.ChainID) (Backend, error)

// Signer signs transactions on behalf of the connected account.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

// Client implements txflow.ContractCaller.
type Client struct {
	backends      BackendSource
	signer        Signer
	abi           abi.ABI
	pollInterval  time.Duration
	confirmations uint64
	gasHeadroom   uint64
	logger        *slog.Logger

	mu      sync.Mutex
	pending map[common.Hash]chains.ChainID
}

// Option customises the client.
type Option func(*Client)

// WithPollInterval configures the receipt polling cadence.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithConfirmations sets how many blocks, including the inclusion block, a
// receipt needs before it counts as confirmed.
func WithConfirmations(n uint64) Option {
	return func(c *Client) { c.confirmations = n }
}

// WithGasHeadroom pads gas estimates by pct percent.
func WithGasHeadroom(pct uint64) Option {
	return func(c *Client) { c.gasHeadroom = pct }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a contract client.
func NewClient(backends BackendSource, signer Signer, opts ...Option) (*Client, error) {
	if backends == nil {
		return nil, fmt.Errorf("evm: backend source required")
	}
	if signer == nil {
		return nil, fmt.Errorf("evm: signer required")
	}
	c := &Client{
		backends:      backends,
		signer:        signer,
		abi:           parsedLendingABI,
		pollInterval:  defaultPollInterval,
		confirmations: 1,
		gasHeadroom:   defaultGasHeadroom,
		logger:        slog.Default(),
		pending:       make(map[common.Hash]chains.ChainID),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WriteCall packs, signs and broadcasts call.
func (c *Client) WriteCall(ctx context.Context, call txflow.Call) (common.Hash, error) {
	data, err := c.abi.Pack(call.Method, call.Args...)
	if err != nil {
		return common.Hash{}, &txflow.CallError{Op: "pack " + call.Method, Kind: txflow.KindUnknown, Err: err}
	}
	from := c.signer.Address()
	if from == (common.Address{}) {
		return common.Hash{}, &txflow.CallError{Op: "sign", Kind: txflow.KindUnauthorized, Err: wallet.ErrNotConnected}
	}
	backend, err := c.backends(ctx, call.ChainID)
	if err != nil {
		return common.Hash{}, wrap("dial", err)
	}

	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, wrap("nonce", err)
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, wrap("gas price", err)
	}
	to := call.To
	gas, err := backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return common.Hash{}, wrap("estimate gas", err)
	}
	gas += gas * c.gasHeadroom / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	chainID := new(big.Int).SetUint64(uint64(call.ChainID))
	signed, err := c.signer.SignTx(ctx, chainID, tx)
	if err != nil {
		return common.Hash{}, wrap("sign", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, wrap("send", err)
	}

	hash := signed.Hash()
	c.mu.Lock()
	c.pending[hash] = call.ChainID
	c.mu.Unlock()
	c.logger.Info("transaction sent",
		slog.String("tx_hash", hash.Hex()),
		slog.String("method", call.Method),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas))
	return hash, nil
}

// AwaitConfirmation polls for the receipt of a hash sent by WriteCall until
// it has the configured depth or ctx ends.
func (c *Client) AwaitConfirmation(ctx context.Context, hash common.Hash) (txflow.Confirmation, error) {
	c.mu.Lock()
	chainID, ok := c.pending[hash]
	c.mu.Unlock()
	if !ok {
		return txflow.Confirmation{}, fmt.Errorf("evm: transaction %s was not sent by this client", hash.Hex())
	}
	backend, err := c.backends(ctx, chainID)
	if err != nil {
		return txflow.Confirmation{}, wrap("dial", err)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		conf, done, err := c.checkReceipt(ctx, backend, hash)
		if err != nil {
			return txflow.Confirmation{}, err
		}
		if done {
			c.mu.Lock()
			delete(c.pending, hash)
			c.mu.Unlock()
			return conf, nil
		}
		select {
		case <-ctx.Done():
			return txflow.Confirmation{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) checkReceipt(ctx context.Context, backend Backend, hash common.Hash) (txflow.Confirmation, bool, error) {
	receipt, err := backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return txflow.Confirmation{}, false, nil
		}
		return txflow.Confirmation{}, false, wrap("receipt", err)
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return txflow.Confirmation{}, false, nil
	}
	included := receipt.BlockNumber.Uint64()
	if c.confirmations > 1 {
		head, err := backend.BlockNumber(ctx)
		if err != nil {
			return txflow.Confirmation{}, false, wrap("block number", err)
		}
		if head < included || head-included+1 < c.confirmations {
			return txflow.Confirmation{}, false, nil
		}
	}
	return txflow.Confirmation{
		Hash:        hash,
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
		BlockNumber: included,
	}, true, nil
}

// wrap keeps the backend's JSON-RPC code on the returned CallError.
func wrap(op string, err error) error {
	callErr := &txflow.CallError{Op: op, Kind: txflow.KindUnknown, Err: err}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		callErr.Code = rpcErr.ErrorCode()
	}
	if errors.Is(err, wallet.ErrNotConnected) {
		callErr.Kind = txflow.KindUnauthorized
	}
	return callErr
}
