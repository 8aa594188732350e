// Package registry implements the thread registry of spec.md §4.8: a
// SQLite table mirroring thread metadata, indexed for fast listing,
// parentage walks, and chain-root resolution. Grounded on the same
// database/sql conventions as internal/budget and on the in-memory
// lifecycle bookkeeping of the teacher's internal/multiagent
// SubagentRegistry (status transitions, parent/child tracking,
// continuation pointers), replacing its map-plus-JSON-file persistence
// with a SQLite table per the ledger's sibling component.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/leolilley/ryeos/internal/sqldriver"
	"github.com/leolilley/ryeos/pkg/models"
)

// Registry is a SQLite-backed thread lifecycle index.
type Registry struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if necessary) the registry database at path.
func Open(path string) (*Registry, error) {
	db, err := sql.Open(sqldriver.Name, path)
	if err != nil {
		return nil, fmt.Errorf("registry: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	r := &Registry{db: db, log: slog.Default().With("component", "registry")}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// migrate creates the thread_registry table. Column additions here are
// idempotent on schema creation: a fresh table always has the full
// column set, so there is no ALTER TABLE migration path to maintain.
func (r *Registry) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS thread_registry (
	thread_id TEXT PRIMARY KEY,
	directive TEXT NOT NULL,
	parent_thread_id TEXT,
	status TEXT NOT NULL,
	thread_mode TEXT NOT NULL,
	pid INTEGER NOT NULL DEFAULT 0,
	turn_count INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	spend REAL NOT NULL DEFAULT 0,
	continuation_of TEXT,
	continuation_thread_id TEXT,
	chain_root_id TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_thread_registry_parent ON thread_registry(parent_thread_id);
CREATE INDEX IF NOT EXISTS idx_thread_registry_status ON thread_registry(status);
CREATE INDEX IF NOT EXISTS idx_thread_registry_chain_root ON thread_registry(chain_root_id);
`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("registry: migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (r *Registry) Close() error { return r.db.Close() }

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// Register inserts a new row for a created thread.
func (r *Registry) Register(ctx context.Context, meta *models.ThreadMetadata) error {
	ts := now()
	chainRoot := meta.ChainRootID
	if chainRoot == "" {
		chainRoot = meta.ThreadID
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO thread_registry (
	thread_id, directive, parent_thread_id, status, thread_mode, pid,
	turn_count, input_tokens, output_tokens, spend,
	continuation_of, continuation_thread_id, chain_root_id,
	created_at, updated_at
) VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)
ON CONFLICT(thread_id) DO UPDATE SET
	status=excluded.status, pid=excluded.pid, updated_at=excluded.updated_at`,
		meta.ThreadID, meta.Directive, meta.ParentThreadID, string(meta.Status), string(meta.ThreadMode), meta.PID,
		meta.TurnCount, meta.Cost.InputTokens, meta.Cost.OutputTokens, meta.Cost.Spend,
		meta.ContinuationOf, meta.ContinuationThreadID, chainRoot,
		ts, ts)
	if err != nil {
		return fmt.Errorf("registry: register: %w", err)
	}
	return nil
}

// UpdateStatus transitions a thread's status.
func (r *Registry) UpdateStatus(ctx context.Context, threadID string, status models.ThreadStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE thread_registry SET status = ?, updated_at = ? WHERE thread_id = ?`,
		string(status), now(), threadID)
	if err != nil {
		return fmt.Errorf("registry: update status: %w", err)
	}
	return requireRowAffected(res)
}

// UpdateCostSnapshot is called after each turn to persist the running
// turn count and cost accumulator.
func (r *Registry) UpdateCostSnapshot(ctx context.Context, threadID string, turnCount int, cost models.Cost) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE thread_registry
SET turn_count = ?, input_tokens = ?, output_tokens = ?, spend = ?, updated_at = ?
WHERE thread_id = ?`,
		turnCount, cost.InputTokens, cost.OutputTokens, cost.Spend, now(), threadID)
	if err != nil {
		return fmt.Errorf("registry: update cost snapshot: %w", err)
	}
	return requireRowAffected(res)
}

// SetContinuation sets the forward back-pointer on the thread being
// continued from (the previous thread in a conversation chain).
func (r *Registry) SetContinuation(ctx context.Context, previousThreadID, continuationThreadID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE thread_registry SET continuation_thread_id = ?, updated_at = ? WHERE thread_id = ?`,
		continuationThreadID, now(), previousThreadID)
	if err != nil {
		return fmt.Errorf("registry: set continuation: %w", err)
	}
	return requireRowAffected(res)
}

// SetChainInfo sets the backward pointer and chain root on the new
// continuation thread.
func (r *Registry) SetChainInfo(ctx context.Context, threadID, continuationOf, chainRootID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE thread_registry SET continuation_of = ?, chain_root_id = ?, updated_at = ? WHERE thread_id = ?`,
		continuationOf, chainRootID, now(), threadID)
	if err != nil {
		return fmt.Errorf("registry: set chain info: %w", err)
	}
	return requireRowAffected(res)
}

// ListActive returns every row whose status is not terminal.
func (r *Registry) ListActive(ctx context.Context) ([]*models.RegistryRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT thread_id, directive, COALESCE(parent_thread_id, ''), status, thread_mode, pid,
		        turn_count, input_tokens, output_tokens, spend,
		        COALESCE(continuation_of, ''), COALESCE(continuation_thread_id, ''), COALESCE(chain_root_id, ''),
		        created_at, updated_at
		 FROM thread_registry
		 WHERE status IN ('created', 'running', 'paused')
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("registry: list active: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// ListChildren returns every row whose parent_thread_id is parentID.
func (r *Registry) ListChildren(ctx context.Context, parentID string) ([]*models.RegistryRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT thread_id, directive, COALESCE(parent_thread_id, ''), status, thread_mode, pid,
		        turn_count, input_tokens, output_tokens, spend,
		        COALESCE(continuation_of, ''), COALESCE(continuation_thread_id, ''), COALESCE(chain_root_id, ''),
		        created_at, updated_at
		 FROM thread_registry
		 WHERE parent_thread_id = ?
		 ORDER BY created_at ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("registry: list children: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// GetChain walks backward from threadID to its chain root via
// continuation_of, then forward from the root to the terminal thread via
// continuation_thread_id, returning the full ordered chain.
func (r *Registry) GetChain(ctx context.Context, threadID string) ([]*models.RegistryRow, error) {
	start, err := r.getRow(ctx, threadID)
	if err != nil {
		return nil, err
	}

	root := start
	for root.ContinuationOf != "" {
		prev, err := r.getRow(ctx, root.ContinuationOf)
		if err != nil {
			return nil, fmt.Errorf("registry: walk chain backward: %w", err)
		}
		root = prev
	}

	chain := []*models.RegistryRow{root}
	cursor := root
	for cursor.ContinuationThreadID != "" {
		next, err := r.getRow(ctx, cursor.ContinuationThreadID)
		if err != nil {
			return nil, fmt.Errorf("registry: walk chain forward: %w", err)
		}
		chain = append(chain, next)
		cursor = next
	}
	return chain, nil
}

func (r *Registry) getRow(ctx context.Context, threadID string) (*models.RegistryRow, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT thread_id, directive, COALESCE(parent_thread_id, ''), status, thread_mode, pid,
		        turn_count, input_tokens, output_tokens, spend,
		        COALESCE(continuation_of, ''), COALESCE(continuation_thread_id, ''), COALESCE(chain_root_id, ''),
		        created_at, updated_at
		 FROM thread_registry WHERE thread_id = ?`, threadID)
	return scanRow(row)
}

func scanRows(rows *sql.Rows) ([]*models.RegistryRow, error) {
	var out []*models.RegistryRow
	for rows.Next() {
		row, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(row *sql.Row) (*models.RegistryRow, error) {
	return scanInto(row)
}

func scanInto(s scanner) (*models.RegistryRow, error) {
	var rr models.RegistryRow
	var status, mode string
	err := s.Scan(
		&rr.ThreadID, &rr.Directive, &rr.ParentThreadID, &status, &mode, &rr.PID,
		&rr.TurnCount, &rr.InputTokens, &rr.OutputTokens, &rr.Spend,
		&rr.ContinuationOf, &rr.ContinuationThreadID, &rr.ChainRootID,
		&rr.CreatedAt, &rr.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: scan row: %w", err)
	}
	rr.Status = models.ThreadStatus(status)
	rr.ThreadMode = models.ThreadMode(mode)
	return &rr, nil
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
