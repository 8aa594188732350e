// Package budget implements the hierarchical budget ledger of spec.md
// §4.7: a single SQLite table tracking reserved/actual spend across a
// tree of parent/child threads, with BEGIN IMMEDIATE serializing
// concurrent reservations against the same parent. Grounded on the
// database/sql + sql.Tx patterns in the teacher's internal/storage and
// internal/jobs cockroach-backed stores, adapted from Postgres to the
// driver internal/sqldriver selects (pure-Go by default).
package budget

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/leolilley/ryeos/internal/sqldriver"
	"github.com/leolilley/ryeos/pkg/models"
)

// Ledger is a SQLite-backed hierarchical budget reservation table.
type Ledger struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if necessary) the budget ledger database at path
// and ensures its schema exists.
func Open(path string) (*Ledger, error) {
	// _txlock=immediate makes every sql.Tx opened against this DSN start
	// with BEGIN IMMEDIATE rather than SQLite's default deferred lock, so
	// concurrent reservations against the same parent serialize instead
	// of racing to a late, silently-lost write.
	dsn := path + "?_txlock=immediate"
	db, err := sql.Open(sqldriver.Name, dsn)
	if err != nil {
		return nil, fmt.Errorf("budget: open database: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY storms; concurrent
	// reservations are serialized through BEGIN IMMEDIATE instead.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, log: slog.Default().With("component", "budget.ledger")}
	if err := l.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS budget_ledger (
	thread_id TEXT PRIMARY KEY,
	parent_thread_id TEXT,
	reserved_spend REAL NOT NULL DEFAULT 0,
	actual_spend REAL NOT NULL DEFAULT 0,
	max_spend REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_budget_ledger_parent ON budget_ledger(parent_thread_id);
CREATE INDEX IF NOT EXISTS idx_budget_ledger_status ON budget_ledger(status);
`
	_, err := l.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("budget: migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error { return l.db.Close() }

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// Register inserts a root or child row. Registering a new root (no
// parent) first deletes all rows in terminal status from a previous run.
func (l *Ledger) Register(ctx context.Context, threadID string, maxSpend float64, parentThreadID string) error {
	return l.withImmediate(ctx, func(tx *sql.Tx) error {
		if parentThreadID == "" {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM budget_ledger WHERE status IN ('completed','error','cancelled')`); err != nil {
				return fmt.Errorf("budget: prune terminal rows: %w", err)
			}
		}
		ts := now()
		// A root (no parent) has nothing to reserve against but itself: its
		// own declared max_spend is its ceiling, so it self-reserves in
		// full up front. A child row's reservation always comes from
		// Reserve instead, against its parent's remaining budget.
		_, err := tx.ExecContext(ctx, `
INSERT INTO budget_ledger (thread_id, parent_thread_id, reserved_spend, actual_spend, max_spend, status, created_at, updated_at)
VALUES (?, NULLIF(?, ''), CASE WHEN ? = '' THEN ? ELSE 0 END, 0, ?, 'active', ?, ?)
ON CONFLICT(thread_id) DO UPDATE SET reserved_spend=excluded.reserved_spend, max_spend=excluded.max_spend, status='active', updated_at=excluded.updated_at`,
			threadID, parentThreadID, parentThreadID, maxSpend, maxSpend, ts, ts)
		if err != nil {
			return fmt.Errorf("budget: register: %w", err)
		}
		return nil
	})
}

// remaining computes a parent's available budget inside an open
// transaction: max − actual − Σ(reserved of active children).
func remaining(ctx context.Context, tx *sql.Tx, parentID string) (float64, error) {
	var maxSpend, actual float64
	err := tx.QueryRowContext(ctx,
		`SELECT max_spend, actual_spend FROM budget_ledger WHERE thread_id = ?`, parentID).
		Scan(&maxSpend, &actual)
	if err == sql.ErrNoRows {
		return 0, ErrNotRegistered
	}
	if err != nil {
		return 0, fmt.Errorf("budget: read parent row: %w", err)
	}

	var childReserved sql.NullFloat64
	err = tx.QueryRowContext(ctx,
		`SELECT SUM(reserved_spend) FROM budget_ledger WHERE parent_thread_id = ? AND status = 'active'`, parentID).
		Scan(&childReserved)
	if err != nil {
		return 0, fmt.Errorf("budget: sum active children: %w", err)
	}

	return maxSpend - actual - childReserved.Float64, nil
}

// Reserve atomically reserves amount for childID against parentID's
// remaining budget. Fails with InsufficientBudgetError if remaining <
// amount.
func (l *Ledger) Reserve(ctx context.Context, childID string, amount float64, parentID string, childMaxSpend float64) error {
	return l.withImmediate(ctx, func(tx *sql.Tx) error {
		avail, err := remaining(ctx, tx, parentID)
		if err != nil {
			return err
		}
		if avail < amount {
			return &InsufficientBudgetError{Remaining: avail, Requested: amount}
		}

		ts := now()
		maxSpend := childMaxSpend
		if maxSpend <= 0 {
			maxSpend = amount
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO budget_ledger (thread_id, parent_thread_id, reserved_spend, actual_spend, max_spend, status, created_at, updated_at)
VALUES (?, ?, ?, 0, ?, 'active', ?, ?)
ON CONFLICT(thread_id) DO UPDATE SET reserved_spend=excluded.reserved_spend, max_spend=excluded.max_spend, status='active', updated_at=excluded.updated_at`,
			childID, parentID, amount, maxSpend, ts, ts)
		if err != nil {
			return fmt.Errorf("budget: reserve: %w", err)
		}
		return nil
	})
}

// ReportActual records the exact spend for a thread. amount >
// reserved_spend fails with ErrOverspend.
func (l *Ledger) ReportActual(ctx context.Context, threadID string, amount float64) error {
	return l.withImmediate(ctx, func(tx *sql.Tx) error {
		var reserved float64
		err := tx.QueryRowContext(ctx,
			`SELECT reserved_spend FROM budget_ledger WHERE thread_id = ?`, threadID).Scan(&reserved)
		if err == sql.ErrNoRows {
			return ErrNotRegistered
		}
		if err != nil {
			return fmt.Errorf("budget: read row: %w", err)
		}
		if amount > reserved {
			return ErrOverspend
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE budget_ledger SET actual_spend = ?, updated_at = ? WHERE thread_id = ?`,
			amount, now(), threadID)
		return err
	})
}

// IncrementActual is ReportActual's cumulative sibling: it adds delta to
// the thread's actual_spend, subject to the same reserved_spend ceiling.
func (l *Ledger) IncrementActual(ctx context.Context, threadID string, delta float64) error {
	return l.withImmediate(ctx, func(tx *sql.Tx) error {
		var reserved, actual float64
		err := tx.QueryRowContext(ctx,
			`SELECT reserved_spend, actual_spend FROM budget_ledger WHERE thread_id = ?`, threadID).
			Scan(&reserved, &actual)
		if err == sql.ErrNoRows {
			return ErrNotRegistered
		}
		if err != nil {
			return fmt.Errorf("budget: read row: %w", err)
		}
		newActual := actual + delta
		if newActual > reserved {
			return ErrOverspend
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE budget_ledger SET actual_spend = ?, updated_at = ? WHERE thread_id = ?`,
			newActual, now(), threadID)
		return err
	})
}

// Release sets reserved_spend = actual_spend (returning any unused
// reservation to the parent's available pool) and updates status.
func (l *Ledger) Release(ctx context.Context, threadID string, finalStatus models.BudgetLedgerStatus) error {
	return l.withImmediate(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE budget_ledger SET reserved_spend = actual_spend, status = ?, updated_at = ? WHERE thread_id = ?`,
			string(finalStatus), now(), threadID)
		if err != nil {
			return fmt.Errorf("budget: release: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return ErrNotRegistered
		}
		return nil
	})
}

// CanSpawnResult is the pre-flight outcome of CanSpawn.
type CanSpawnResult struct {
	Affordable bool
	Remaining  float64
	Requested  float64
}

// CanSpawn is a non-mutating pre-flight check.
func (l *Ledger) CanSpawn(ctx context.Context, parentID string, requestedAmount float64) (*CanSpawnResult, error) {
	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("budget: begin read: %w", err)
	}
	defer tx.Rollback()

	avail, err := remaining(ctx, tx, parentID)
	if err != nil {
		return nil, err
	}
	return &CanSpawnResult{
		Affordable: avail >= requestedAmount,
		Remaining:  avail,
		Requested:  requestedAmount,
	}, nil
}

// TreeSpend summarizes total spend and count across a subtree.
type TreeSpend struct {
	TotalReserved float64
	TotalActual   float64
	Count         int
}

// GetTreeSpend walks the subtree rooted at rootID via a recursive CTE and
// returns aggregate totals.
func (l *Ledger) GetTreeSpend(ctx context.Context, rootID string) (*TreeSpend, error) {
	const q = `
WITH RECURSIVE subtree(thread_id) AS (
	SELECT thread_id FROM budget_ledger WHERE thread_id = ?
	UNION ALL
	SELECT b.thread_id FROM budget_ledger b
	JOIN subtree s ON b.parent_thread_id = s.thread_id
)
SELECT COALESCE(SUM(reserved_spend), 0), COALESCE(SUM(actual_spend), 0), COUNT(*)
FROM budget_ledger WHERE thread_id IN (SELECT thread_id FROM subtree)`

	var ts TreeSpend
	err := l.db.QueryRowContext(ctx, q, rootID).Scan(&ts.TotalReserved, &ts.TotalActual, &ts.Count)
	if err != nil {
		return nil, fmt.Errorf("budget: get tree spend: %w", err)
	}
	return &ts, nil
}

// withImmediate runs fn inside a transaction started with BEGIN IMMEDIATE
// (the DSN's _txlock=immediate makes BeginTx issue that instead of SQLite's
// default deferred lock), serializing concurrent writers against the same
// database file rather than letting two reservations both observe stale
// "remaining" and overspend the parent.
func (l *Ledger) withImmediate(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerLocked, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("budget: commit: %w", err)
	}
	return nil
}
