// Package selection owns the user's chosen target network. It is a single
// writer cell: Set persists and publishes, readers load an immutable
// snapshot without locking.
package selection

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"omnipool/internal/fanout"
	"omnipool/native/chains"
	"omnipool/storage"
)

// SelectedChainKey is the storage key holding the persisted chain id.
const SelectedChainKey = "omnipool/selected-chain"

// Snapshot is the published selection value.
type Snapshot struct {
	Chain     chains.ChainDescriptor `json:"chain"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// Store keeps the selected chain in memory and in the backing database.
type Store struct {
	registry *chains.Registry
	db       storage.Database
	logger   *slog.Logger
	now      func() time.Time

	current atomic.Pointer[Snapshot]

	mu  sync.Mutex
	hub fanout.Hub[Snapshot]
}

// Option customises a Store.
type Option func(*Store)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the function used to stamp updates.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Open restores the persisted selection from db. A missing, malformed or no
// longer supported value falls back to the registry default.
func Open(registry *chains.Registry, db storage.Database, opts ...Option) (*Store, error) {
	if registry == nil {
		return nil, fmt.Errorf("selection: registry required")
	}
	if db == nil {
		return nil, fmt.Errorf("selection: database required")
	}
	s := &Store{
		registry: registry,
		db:       db,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	chain := registry.Default()
	raw, err := db.Get([]byte(SelectedChainKey))
	switch {
	case err == nil:
		id, parseErr := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
		if parseErr != nil {
			s.logger.Warn("ignoring malformed persisted chain", slog.String("value", string(raw)))
			break
		}
		if persisted, ok := registry.Chain(chains.ChainID(id)); ok {
			chain = persisted
		} else {
			s.logger.Warn("persisted chain no longer supported", slog.Uint64("chain_id", id))
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, fmt.Errorf("selection: load: %w", err)
	}
	s.current.Store(&Snapshot{Chain: chain, UpdatedAt: s.now()})
	return s, nil
}

// Current returns the selected chain.
func (s *Store) Current() chains.ChainDescriptor {
	return s.current.Load().Chain
}

// Snapshot returns the selected chain with its update time.
func (s *Store) Snapshot() Snapshot {
	return *s.current.Load()
}

// Set selects id, persists it and notifies subscribers. Selecting the already
// selected chain is a no-op.
func (s *Store) Set(id chains.ChainID) (chains.ChainDescriptor, error) {
	chain, err := s.registry.MustChain(id)
	if err != nil {
		return chains.ChainDescriptor{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.Load().Chain.ID == id {
		return chain, nil
	}
	if err := s.db.Put([]byte(SelectedChainKey), []byte(strconv.FormatUint(uint64(id), 10))); err != nil {
		return chains.ChainDescriptor{}, fmt.Errorf("selection: persist: %w", err)
	}
	snap := &Snapshot{Chain: chain, UpdatedAt: s.now()}
	s.current.Store(snap)
	s.logger.Info("selected chain changed", slog.Uint64("chain_id", uint64(id)), slog.String("chain", chain.Name))
	s.hub.Publish(*snap)
	return chain, nil
}

// Subscribe returns a channel receiving every subsequent selection change and
// a cancel func releasing it. Slow subscribers only observe the latest value.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	return s.hub.Subscribe()
}
