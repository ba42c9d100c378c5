package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/native/chains"
	"omnipool/native/lending"
)

const defaultTimeout = 10 * time.Second

const (
	poolsQuery = `
		query Pools($first: Int!) {
			pools(first: $first, orderBy: createdAt, orderDirection: desc) {
				id
				collateralToken
				borrowToken
				ltv
				totalSupplyAssets
				totalSupplyShares
				totalBorrowAssets
				totalBorrowShares
			}
		}
	`

	poolAPYQuery = `
		query PoolAPY($pool: ID!) {
			pool(id: $pool) {
				supplyApy
				borrowApy
			}
		}
	`
)

// Client queries GraphQL indexers over HTTP, one endpoint per chain.
type Client struct {
	endpoints  map[chains.ChainID]string
	httpClient *http.Client
	pageSize   int
	logger     *slog.Logger
	metrics    *Metrics
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for queries.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithPageSize bounds the number of pools fetched per query.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(metrics *Metrics) Option {
	return func(c *Client) { c.metrics = metrics }
}

// New constructs a client for the given per-chain endpoints.
func New(endpoints map[chains.ChainID]string, opts ...Option) *Client {
	copied := make(map[chains.ChainID]string, len(endpoints))
	for id, url := range endpoints {
		if url = strings.TrimSpace(url); url != "" {
			copied[id] = url
		}
	}
	c := &Client{
		endpoints:  copied,
		httpClient: &http.Client{Timeout: defaultTimeout},
		pageSize:   100,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type poolRow struct {
	ID                string `json:"id"`
	CollateralToken   string `json:"collateralToken"`
	BorrowToken       string `json:"borrowToken"`
	LTV               string `json:"ltv"`
	TotalSupplyAssets string `json:"totalSupplyAssets"`
	TotalSupplyShares string `json:"totalSupplyShares"`
	TotalBorrowAssets string `json:"totalBorrowAssets"`
	TotalBorrowShares string `json:"totalBorrowShares"`
}

// Pools lists the pools indexed on chain.
func (c *Client) Pools(ctx context.Context, chain chains.ChainID) ([]Pool, error) {
	var data struct {
		Pools []poolRow `json:"pools"`
	}
	if err := c.query(ctx, "pools", chain, poolsQuery, map[string]any{"first": c.pageSize}, &data); err != nil {
		return nil, err
	}
	pools := make([]Pool, 0, len(data.Pools))
	for _, row := range data.Pools {
		pool, err := row.toPool(chain)
		if err != nil {
			c.logger.Warn("skipping malformed pool row",
				slog.Uint64("chain_id", uint64(chain)),
				slog.String("pool", row.ID),
				slog.Any("error", err))
			continue
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

// PoolAPY returns the indexed supply and borrow APY of pool.
func (c *Client) PoolAPY(ctx context.Context, chain chains.ChainID, pool common.Address) (APY, error) {
	var data struct {
		Pool *struct {
			SupplyAPY json.Number `json:"supplyApy"`
			BorrowAPY json.Number `json:"borrowApy"`
		} `json:"pool"`
	}
	vars := map[string]any{"pool": strings.ToLower(pool.Hex())}
	if err := c.query(ctx, "pool_apy", chain, poolAPYQuery, vars, &data); err != nil {
		return APY{}, err
	}
	if data.Pool == nil {
		return APY{}, fmt.Errorf("indexer: pool %s not indexed on chain %d", pool.Hex(), chain)
	}
	supply, err := parseRate(data.Pool.SupplyAPY)
	if err != nil {
		return APY{}, fmt.Errorf("indexer: supply apy: %w", err)
	}
	borrow, err := parseRate(data.Pool.BorrowAPY)
	if err != nil {
		return APY{}, fmt.Errorf("indexer: borrow apy: %w", err)
	}
	return APY{Supply: supply, Borrow: borrow}, nil
}

func (c *Client) query(ctx context.Context, name string, chain chains.ChainID, query string, vars map[string]any, out any) (err error) {
	start := time.Now()
	defer func() { c.metrics.Observe(name, time.Since(start), err) }()

	endpoint, ok := c.endpoints[chain]
	if !ok {
		return fmt.Errorf("%w %d", ErrNoEndpoint, chain)
	}
	body, err := json.Marshal(request{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("indexer: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("indexer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("indexer: %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("indexer: %s: unexpected status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("indexer: decode %s: %w", name, err)
	}
	if len(decoded.Errors) > 0 {
		messages := make([]string, 0, len(decoded.Errors))
		for _, e := range decoded.Errors {
			messages = append(messages, e.Message)
		}
		return fmt.Errorf("indexer: %s: %s", name, strings.Join(messages, "; "))
	}
	if len(decoded.Data) == 0 {
		return fmt.Errorf("indexer: %s: empty response", name)
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return fmt.Errorf("indexer: decode %s data: %w", name, err)
	}
	c.logger.Debug("indexer query completed",
		slog.String("query", name),
		slog.Uint64("chain_id", uint64(chain)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (r poolRow) toPool(chain chains.ChainID) (Pool, error) {
	for _, field := range []struct{ name, value string }{
		{"id", r.ID},
		{"collateralToken", r.CollateralToken},
		{"borrowToken", r.BorrowToken},
	} {
		if !common.IsHexAddress(field.value) {
			return Pool{}, fmt.Errorf("invalid %s %q", field.name, field.value)
		}
	}
	totals, err := lending.ParseTotals(r.TotalSupplyAssets, r.TotalSupplyShares, r.TotalBorrowAssets, r.TotalBorrowShares)
	if err != nil {
		return Pool{}, err
	}
	ltv := new(big.Int)
	if strings.TrimSpace(r.LTV) != "" {
		if _, ok := ltv.SetString(strings.TrimSpace(r.LTV), 10); !ok {
			return Pool{}, fmt.Errorf("invalid ltv %q", r.LTV)
		}
	}
	return Pool{
		Address:         common.HexToAddress(r.ID),
		ChainID:         chain,
		CollateralToken: common.HexToAddress(r.CollateralToken),
		BorrowToken:     common.HexToAddress(r.BorrowToken),
		LTV:             ltv,
		Totals:          totals,
	}, nil
}

func parseRate(raw json.Number) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseFloat(raw.String(), 64)
}
