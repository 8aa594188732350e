package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leolilley/ryeos/internal/executor"
)

// threadDirectiveItemID is the fixed item id the runner recognizes as a
// child-thread spawn, per spec.md §4.10 step 3.h.3: dispatching it
// injects the parent's thread context into the call params before
// the primitive executor ever sees them.
const threadDirectiveItemID = "agent.threads.thread_directive"

// toolCallEnvelope is the shape a provider's tool call Input decodes
// into: the (item_type, item_id) pair the harness checks permission
// against, plus the actual primitive parameters. The primary is always
// "execute" here — the turn loop only ever asks the provider to invoke
// resolved items, never to search or load them directly.
type toolCallEnvelope struct {
	ItemType string         `json:"item_type"`
	ItemID   string         `json:"item_id"`
	Params   map[string]any `json:"params,omitempty"`
}

func decodeToolCall(raw json.RawMessage) (*toolCallEnvelope, error) {
	var env toolCallEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("runner: decode tool call: %w", err)
	}
	if env.ItemType == "" || env.ItemID == "" {
		return nil, fmt.Errorf("runner: tool call missing item_type/item_id")
	}
	return &env, nil
}

// envelopeFields are the keys executor-layer primitives attach to a
// result that describe how it was resolved, rather than what it
// produced. The runner strips them before the result reaches the
// provider (spec.md §4.10 step 3.h.5).
var envelopeFields = []string{"chain", "metadata", "resolved_env_keys"}

func stripEnvelope(output map[string]any) map[string]any {
	if output == nil {
		return nil
	}
	out := make(map[string]any, len(output))
	for k, v := range output {
		out[k] = v
	}
	for _, f := range envelopeFields {
		delete(out, f)
	}
	return out
}

// executorDispatcher adapts an *executor.Executor to harness.Dispatcher,
// so hook actions and LLM-issued tool calls resolve through the exact
// same bounded, retried, panic-recovering invocation path.
type executorDispatcher struct {
	ctx  context.Context
	exec *executor.Executor
}

func (d executorDispatcher) Dispatch(itemID string, params map[string]any) (map[string]any, error) {
	result := d.exec.Execute(d.ctx, executor.Request{ItemID: itemID, Params: params})
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Output, nil
}
