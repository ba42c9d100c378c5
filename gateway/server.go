// Package gateway exposes the orchestration layer over HTTP and websocket
// streams.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"omnipool/gateway/middleware"
	"omnipool/internal/fanout"
	"omnipool/native/chains"
	"omnipool/observability"
	"omnipool/services/guard"
	"omnipool/services/indexer"
	"omnipool/services/selection"
	"omnipool/services/txflow"
	"omnipool/services/wallet"
)

// HistorySource lists journaled outcomes.
type HistorySource interface {
	Recent(ctx context.Context, account common.Address, limit int) ([]txflow.Outcome, error)
}

// Deps are the collaborators the handlers call into. Pools and History are
// optional; their routes answer 503 when absent.
type Deps struct {
	Registry  *chains.Registry
	Selection *selection.Store
	Wallet    wallet.Provider
	Gate      *guard.Gate
	Actions   *txflow.Manager
	Pools     indexer.Source
	History   HistorySource
}

// Config controls the HTTP surface.
type Config struct {
	ServiceName        string
	RateLimit          middleware.RateLimit
	Auth               middleware.AuthConfig
	AllowedOrigins     []string
	LogRequests        bool
	StreamWriteTimeout time.Duration
}

// Server routes requests to the orchestration services.
type Server struct {
	deps           Deps
	logger         *slog.Logger
	handler        http.Handler
	originPatterns []string
	writeTimeout   time.Duration

	// completions carries the outcome of every action once its completion
	// policy releases it.
	completions fanout.Hub[txflow.Outcome]

	baseCtx context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// Option customises the server.
type Option func(*Server)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds the router.
func New(deps Deps, cfg Config, opts ...Option) (*Server, error) {
	switch {
	case deps.Registry == nil:
		return nil, fmt.Errorf("gateway: registry required")
	case deps.Selection == nil:
		return nil, fmt.Errorf("gateway: selection store required")
	case deps.Wallet == nil:
		return nil, fmt.Errorf("gateway: wallet provider required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("gateway: readiness gate required")
	case deps.Actions == nil:
		return nil, fmt.Errorf("gateway: action manager required")
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "omnipoold"
	}
	if cfg.StreamWriteTimeout <= 0 {
		cfg.StreamWriteTimeout = defaultStreamWriteTimeout
	}
	// Background submissions outlive the request that started them.
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:           deps,
		logger:         slog.Default(),
		originPatterns: originPatterns(cfg.AllowedOrigins),
		writeTimeout:   cfg.StreamWriteTimeout,
		baseCtx:        baseCtx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	metrics := observability.Gateway()
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"api": cfg.RateLimit,
	}, s.logger, metrics)
	obs := middleware.NewObservability(s.logger, metrics, cfg.LogRequests)
	auth := middleware.NewAuthenticator(cfg.Auth, s.logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.AllowedOrigins}))
	r.Use(obs.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(limiter.Middleware("api"))

		api.Get("/chains", s.handleChains)
		api.Get("/chains/current", s.handleCurrentChain)
		api.Get("/chains/current/stream", s.handleChainStream)
		api.Get("/wallet", s.handleWallet)
		api.Get("/wallet/balance", s.handleBalance)
		api.Get("/guard", s.handleGuard)
		api.Get("/actions", s.handleActions)
		api.Get("/actions/{action}", s.handleAction)
		api.Get("/actions/{action}/stream", s.handleActionStream)
		api.Get("/completions/stream", s.handleCompletionStream)

		api.Group(func(write chi.Router) {
			write.Use(auth.Middleware(middleware.ScopeWrite))

			write.Put("/chains/current", s.handleSelectChain)
			write.Post("/wallet/connect", s.handleConnect)
			write.Post("/wallet/disconnect", s.handleDisconnect)
			write.Post("/guard/connect", s.handleGuardConnect)
			write.Post("/guard/switch", s.handleGuardSwitch)
			write.Post("/guard/cancel", s.handleGuardCancel)
			write.Post("/actions/{action}", s.handleSubmit)
			write.Post("/actions/{action}/dismiss", s.handleDismiss)
			write.Post("/actions/{action}/clear-success", s.handleClearSuccess)
		})

		api.Get("/pools", s.handlePools)
		api.Get("/pools/{pool}/apy", s.handlePoolAPY)
		api.Get("/history", s.handleHistory)
	})

	s.handler = otelhttp.NewHandler(r, cfg.ServiceName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Shutdown stops accepting submissions, including guard hand-offs that fire
// later, and waits for running ones to finish or ctx to end. Calls already
// written to the chain are still tracked until then.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// submit runs a submission detached from the HTTP request. It reports false
// once Shutdown has begun.
func (s *Server) submit(ctrl *txflow.Controller, params txflow.Params) bool {
	action := ctrl.Config().Action
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.logger.Info("submission dropped during shutdown", slog.String("action", string(action)))
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		record, err := ctrl.Submit(s.baseCtx, params)
		switch {
		case err == nil:
		case errors.Is(err, txflow.ErrPrecondition), errors.Is(err, txflow.ErrActionInFlight):
			s.logger.Info("submission not started",
				slog.String("action", string(record.Action)),
				slog.String("reason", err.Error()))
		default:
			s.logger.Warn("submission failed",
				slog.String("action", string(record.Action)),
				slog.String("error", err.Error()))
		}
	}()
	return true
}

// PoolInvalidator is implemented by pool sources that cache per-pool state.
type PoolInvalidator interface {
	Invalidate(chain chains.ChainID, pool common.Address)
}

// completion returns the callback an action's completion policy releases.
// It drops cached pool state the action made stale and publishes the
// outcome to completion streams.
func (s *Server) completion(pool common.Address) func(txflow.Outcome) {
	return func(outcome txflow.Outcome) {
		if inv, ok := s.deps.Pools.(PoolInvalidator); ok && pool != (common.Address{}) {
			inv.Invalidate(outcome.ChainID, pool)
		}
		s.logger.Info("action completed",
			slog.String("action", string(outcome.Action)),
			slog.Uint64("chain_id", uint64(outcome.ChainID)),
			slog.String("tx_hash", outcome.ConfirmedHash.Hex()))
		s.completions.Publish(outcome)
	}
}

// originPatterns converts allowed origins into websocket host patterns.
func originPatterns(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if _, host, ok := strings.Cut(origin, "://"); ok {
			origin = host
		}
		if origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
