package models

// TurnCost retains the exact prompt/completion usage and derived spend for
// one turn, kept for audit and for computing step_finish events.
type TurnCost struct {
	Turn           int     `json:"turn"`
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	Spend          float64 `json:"spend"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Cost is the running accumulator a harness mutates once per turn.
type Cost struct {
	Turns          int        `json:"turns"`
	InputTokens    int        `json:"input_tokens"`
	OutputTokens   int        `json:"output_tokens"`
	Spend          float64    `json:"spend"`
	ElapsedSeconds float64    `json:"elapsed_seconds"`
	PerTurn        []TurnCost `json:"per_turn,omitempty"`
}

// AddTurn folds a turn's usage into the running totals and appends the
// per-turn record.
func (c *Cost) AddTurn(tc TurnCost) {
	c.Turns++
	c.InputTokens += tc.InputTokens
	c.OutputTokens += tc.OutputTokens
	c.Spend += tc.Spend
	tc.Turn = c.Turns
	c.PerTurn = append(c.PerTurn, tc)
}

// BudgetLedgerStatus mirrors a budget ledger row's lifecycle.
type BudgetLedgerStatus string

const (
	BudgetActive    BudgetLedgerStatus = "active"
	BudgetCompleted BudgetLedgerStatus = "completed"
	BudgetError     BudgetLedgerStatus = "error"
	BudgetCancelled BudgetLedgerStatus = "cancelled"
)

// BudgetLedgerRow is one row of the budget_ledger SQLite table.
type BudgetLedgerRow struct {
	ThreadID       string             `json:"thread_id"`
	ParentThreadID string             `json:"parent_thread_id,omitempty"`
	ReservedSpend  float64            `json:"reserved_spend"`
	ActualSpend    float64            `json:"actual_spend"`
	MaxSpend       float64            `json:"max_spend"`
	Status         BudgetLedgerStatus `json:"status"`
	CreatedAt      string             `json:"created_at"`
	UpdatedAt      string             `json:"updated_at"`
}
