// Package runner implements the thread runner of spec.md §4.10: the turn
// loop that drives one directive's conversation against an LLM provider,
// checking permissions and limits through the harness, dispatching
// resolved items through the primitive executor, reserving and reporting
// spend through the budget ledger, indexing lifecycle through the thread
// registry, and persisting every step to a signed transcript. Grounded on
// the teacher's internal/agent/loop.go turn-loop structure (a LoopState
// phase machine split across stream/execute-tools/continue phases),
// generalized from model-provider tool-calling to the primitive-dispatch
// vocabulary of internal/capability and internal/executor.
package runner

import (
	"context"

	"github.com/leolilley/ryeos/pkg/models"
)

// Provider streams one completion turn from an LLM. Grounded on the
// teacher's internal/agent LLMProvider interface, trimmed to the single
// method the runner needs — model/tool metadata belongs to whatever
// constructs the provider, not to the turn loop.
type Provider interface {
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
	Name() string
}

// ToolDef describes one dispatchable item offered to the provider for
// this turn, derived from the thread's resolved permission set.
type ToolDef struct {
	ItemID      string         `json:"item_id"`
	ItemType    string         `json:"item_type"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// CompletionRequest mirrors the teacher's CompletionRequest, reusing
// pkg/models.Message for conversation history instead of a
// provider-package-local message type.
type CompletionRequest struct {
	Model     string           `json:"model"`
	System    string           `json:"system,omitempty"`
	Messages  []models.Message `json:"messages"`
	Tools     []ToolDef        `json:"tools,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

// CompletionChunk mirrors the teacher's CompletionChunk. Only the final
// chunk of a stream carries Done, InputTokens, and OutputTokens.
type CompletionChunk struct {
	Text         string           `json:"text,omitempty"`
	ToolCall     *models.ToolCall `json:"tool_call,omitempty"`
	Done         bool             `json:"done,omitempty"`
	Err          error            `json:"-"`
	InputTokens  int              `json:"input_tokens,omitempty"`
	OutputTokens int              `json:"output_tokens,omitempty"`
}

// SpendFunc prices one turn's token usage for a given model. Runner
// callers (cmd/rye) wire in the provider's real pricing; DefaultSpendFunc
// is a conservative placeholder for tests and for directives that never
// declare a priced model tier.
type SpendFunc func(model string, inputTokens, outputTokens int) float64

// DefaultSpendFunc charges a flat nominal rate per 1000 tokens, input and
// output weighted equally. It exists so a Runner always has a cost
// function; real deployments override it with provider-specific pricing.
func DefaultSpendFunc(_ string, inputTokens, outputTokens int) float64 {
	const perThousand = 0.001
	return float64(inputTokens+outputTokens) / 1000 * perThousand
}
