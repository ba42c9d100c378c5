// Package history journals terminal transaction outcomes in SQLite so the
// gateway can list an account's recent activity.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/glebarez/sqlite"

	"omnipool/native/chains"
	"omnipool/services/txflow"
)

const (
	defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL"
	// MaxLimit caps the number of rows a single Recent call returns.
	MaxLimit = 500
)

// ErrPathRequired is returned when the journal path is missing.
var ErrPathRequired = errors.New("history: path must be configured")

// Store wraps the outcome journal.
type Store struct {
	db *sql.DB
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve history path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// Open initialises the journal using a sqlite DSN.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends outcome. It implements txflow.Recorder.
func (s *Store) Record(ctx context.Context, outcome txflow.Outcome) error {
	if s == nil {
		return fmt.Errorf("history: store not configured")
	}
	finished := outcome.FinishedAt.UTC()
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO outcomes(action, chain_id, account, state, submitted_hash, confirmed_hash,
            amount, error, cross_chain, explorer_url, attempt, finished_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, string(outcome.Action), int64(outcome.ChainID), strings.ToLower(outcome.Account.Hex()), string(outcome.State),
		hashOrEmpty(outcome.SubmittedHash), hashOrEmpty(outcome.ConfirmedHash), outcome.Amount, outcome.Error,
		outcome.CrossChain, outcome.ExplorerURL, int64(outcome.Attempt), finished.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Recent returns the newest outcomes for account, newest first. A zero
// account lists every account.
func (s *Store) Recent(ctx context.Context, account common.Address, limit int) ([]txflow.Outcome, error) {
	if s == nil {
		return nil, fmt.Errorf("history: store not configured")
	}
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}
	query := `
        SELECT action, chain_id, account, state, submitted_hash, confirmed_hash,
            amount, error, cross_chain, explorer_url, attempt, finished_at
        FROM outcomes`
	args := []any{}
	if account != (common.Address{}) {
		query += ` WHERE account = ?`
		args = append(args, strings.ToLower(account.Hex()))
	}
	query += ` ORDER BY finished_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()
	outcomes := make([]txflow.Outcome, 0)
	for rows.Next() {
		var (
			out                              txflow.Outcome
			action, accountHex, state        string
			submitted, confirmed             string
			chainID, attempt, finishedMillis int64
		)
		if err := rows.Scan(&action, &chainID, &accountHex, &state, &submitted, &confirmed,
			&out.Amount, &out.Error, &out.CrossChain, &out.ExplorerURL, &attempt, &finishedMillis); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out.Action = txflow.Action(action)
		out.ChainID = chains.ChainID(chainID)
		out.Account = common.HexToAddress(accountHex)
		out.State = txflow.State(state)
		if submitted != "" {
			out.SubmittedHash = common.HexToHash(submitted)
		}
		if confirmed != "" {
			out.ConfirmedHash = common.HexToHash(confirmed)
		}
		out.Attempt = uint64(attempt)
		out.FinishedAt = time.UnixMilli(finishedMillis).UTC()
		outcomes = append(outcomes, out)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return outcomes, nil
}

func hashOrEmpty(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    action TEXT NOT NULL,
    chain_id INTEGER NOT NULL,
    account TEXT NOT NULL,
    state TEXT NOT NULL,
    submitted_hash TEXT NOT NULL,
    confirmed_hash TEXT NOT NULL,
    amount TEXT NOT NULL,
    error TEXT NOT NULL,
    cross_chain BOOLEAN NOT NULL,
    explorer_url TEXT NOT NULL,
    attempt INTEGER NOT NULL,
    finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_account_finished ON outcomes(account, finished_at);
`
