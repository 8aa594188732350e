package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/leolilley/ryeos/internal/backoff"
	"github.com/leolilley/ryeos/internal/budget"
	"github.com/leolilley/ryeos/internal/capability"
	"github.com/leolilley/ryeos/internal/executor"
	"github.com/leolilley/ryeos/internal/harness"
	"github.com/leolilley/ryeos/internal/observability"
	"github.com/leolilley/ryeos/internal/registry"
	"github.com/leolilley/ryeos/internal/retry"
	"github.com/leolilley/ryeos/internal/transcript"
	"github.com/leolilley/ryeos/internal/trust"
	"github.com/leolilley/ryeos/pkg/models"
	"go.opentelemetry.io/otel/trace"
)

// maxProviderAttempts bounds the retry-with-backoff loop around one
// provider call before the runner gives up and dispatches error hooks.
const maxProviderAttempts = 3

// maxHookRetries bounds how many times a "retry" control action (from
// either an error or a limit hook) may send the loop back around,
// independent of maxProviderAttempts — it guards against a
// misconfigured hook retrying forever.
const maxHookRetries = 5

// Config wires one thread runner: everything it needs to drive a
// directive's conversation end to end. Every field is required unless
// noted otherwise.
type Config struct {
	ThreadID           string
	ParentThreadID     string
	ParentDepth        int
	ParentCapabilities []string
	Directive          *models.Directive
	ThreadMode         models.ThreadMode
	UserPrompt         string
	ThreadDir          string

	Provider Provider
	Executor *executor.Executor
	Ledger   *budget.Ledger
	Registry *registry.Registry
	Signer   *trust.Signer

	// SpendFunc prices token usage; DefaultSpendFunc is used if nil.
	SpendFunc SpendFunc
	// RootMaxSpend is the ledger's max_spend for a root (no-parent)
	// thread, used only when ParentThreadID is empty.
	RootMaxSpend float64
	// ToolDefs is the resolved tool schema offered to the provider for
	// every turn, derived elsewhere (space/chain resolution) from the
	// thread's operative capability set. The runner only dispatches
	// calls; it does not discover what's callable.
	ToolDefs []ToolDef

	// Tracer and Metrics are optional observability hooks. Both are
	// nil-safe: a nil Tracer yields no spans, a nil Metrics records
	// nothing.
	Tracer  *observability.Tracer
	Metrics *observability.Metrics
}

// Runner drives one thread's turn loop per spec.md §4.10.
type Runner struct {
	cfg      Config
	harness  *harness.Harness
	writer   *transcript.Writer
	spend    SpendFunc
	dispatch executorDispatcher
}

// New constructs a Runner, opening its transcript writer under
// cfg.ThreadDir. It does not touch the registry or budget ledger — that
// happens in Run, step 1.
func New(cfg Config) (*Runner, error) {
	if cfg.Directive == nil {
		return nil, fmt.Errorf("runner: directive is required")
	}
	if cfg.Provider == nil || cfg.Executor == nil || cfg.Ledger == nil || cfg.Registry == nil || cfg.Signer == nil {
		return nil, fmt.Errorf("runner: provider, executor, ledger, registry, and signer are all required")
	}
	if cfg.ThreadMode == "" {
		cfg.ThreadMode = models.ThreadModeSingle
	}
	spend := cfg.SpendFunc
	if spend == nil {
		spend = DefaultSpendFunc
	}

	h := harness.New(cfg.ThreadID, cfg.Directive.Name, cfg.Directive.Limits, cfg.Directive.Hooks, cfg.Directive.Permissions, cfg.ParentCapabilities)
	w, err := transcript.Open(cfg.ThreadDir, cfg.ThreadID, cfg.Signer)
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:      cfg,
		harness:  h,
		writer:   w,
		spend:    spend,
		dispatch: executorDispatcher{exec: cfg.Executor},
	}, nil
}

// Close releases the transcript writer's file handle.
func (r *Runner) Close() error { return r.writer.Close() }

// runState tracks the mutable conversation the turn loop advances.
type runState struct {
	messages  []models.Message
	cost      models.Cost
	turnCount int
	startedAt time.Time
}

// Run executes the thread end to end: registration, budget reservation,
// the turn loop, and final release/teardown. It returns the thread's
// final, signed metadata.
func (r *Runner) Run(ctx context.Context) (*models.ThreadMetadata, error) {
	meta, err := r.register(ctx)
	if err != nil {
		return nil, err
	}

	state := &runState{startedAt: time.Now()}
	r.dispatch.ctx = ctx

	if err := r.buildFirstMessage(state); err != nil {
		return r.finalize(ctx, meta, state, models.ThreadError, fmt.Sprintf("build first message: %v", err))
	}

	status, reason := r.loop(ctx, state)
	return r.finalize(ctx, meta, state, status, reason)
}

// register performs spec.md §4.10 step 1: registry insertion and budget
// reservation, in that order, transitioning the registry row to running
// only after the reservation succeeds.
func (r *Runner) register(ctx context.Context) (*models.ThreadMetadata, error) {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	meta := &models.ThreadMetadata{
		ThreadID:       r.cfg.ThreadID,
		Directive:      r.cfg.Directive.Name,
		ParentThreadID: r.cfg.ParentThreadID,
		Status:         models.ThreadCreated,
		ThreadMode:     r.cfg.ThreadMode,
		Model:          r.cfg.Directive.Model,
		Limits:         r.cfg.Directive.Limits,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	if err := r.cfg.Registry.Register(ctx, meta); err != nil {
		return nil, fmt.Errorf("runner: register thread: %w", err)
	}

	if r.cfg.ParentThreadID == "" {
		maxSpend := r.cfg.RootMaxSpend
		if maxSpend <= 0 {
			maxSpend = r.cfg.Directive.Limits.Spend
		}
		if err := r.cfg.Ledger.Register(ctx, r.cfg.ThreadID, maxSpend, ""); err != nil {
			r.recordReservation("error")
			return nil, fmt.Errorf("runner: register budget: %w", err)
		}
	} else {
		amount := r.cfg.Directive.Limits.Spend
		if err := r.cfg.Ledger.Reserve(ctx, r.cfg.ThreadID, amount, r.cfg.ParentThreadID, r.cfg.Directive.Limits.Spend); err != nil {
			r.recordReservation("denied")
			return nil, fmt.Errorf("runner: reserve budget: %w", err)
		}
	}
	r.recordReservation("reserved")

	meta.Status = models.ThreadRunning
	meta.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.cfg.Registry.UpdateStatus(ctx, r.cfg.ThreadID, models.ThreadRunning); err != nil {
		return nil, fmt.Errorf("runner: mark running: %w", err)
	}
	if err := r.writer.Append(models.EventThreadStart, meta); err != nil {
		return nil, fmt.Errorf("runner: append thread_start: %w", err)
	}
	return meta, nil
}

// buildFirstMessage performs step 2: thread_started context hooks wrap
// the user prompt into one user message.
func (r *Runner) buildFirstMessage(state *runState) error {
	hookCtx, err := r.harness.RunHooksContext("thread_started", map[string]any{
		"thread_id": r.cfg.ThreadID,
		"directive": r.cfg.Directive.Name,
	}, r.dispatch)
	if err != nil {
		return err
	}

	var b strings.Builder
	if hookCtx.Before != "" {
		b.WriteString(hookCtx.Before)
		b.WriteString("\n")
	}
	b.WriteString(r.cfg.UserPrompt)
	if hookCtx.After != "" {
		b.WriteString("\n")
		b.WriteString(hookCtx.After)
	}

	msg := models.Message{Role: models.RoleUser, Content: b.String(), CreatedAt: time.Now()}
	state.messages = append(state.messages, msg)
	return r.writer.Append(models.EventUserMessage, map[string]any{"content": msg.Content})
}

// loop runs step 3 until a terminal condition is reached, returning the
// status and human-readable reason to finalize with.
func (r *Runner) loop(ctx context.Context, state *runState) (models.ThreadStatus, string) {
	hookRetries := 0

	for {
		// a. pre-turn limit check.
		state.cost.ElapsedSeconds = time.Since(state.startedAt).Seconds()
		if limRec := r.harness.CheckLimits(state.cost); limRec != nil {
			action, err := r.harness.RunHooks("limit", map[string]any{
				"limit_code": limRec.LimitCode, "current_value": limRec.CurrentValue, "current_max": limRec.CurrentMax,
			}, r.dispatch)
			if err != nil {
				return models.ThreadError, fmt.Sprintf("limit hook dispatch: %v", err)
			}
			if status, reason, terminal, doRetry := r.resolveControlAction(action, &hookRetries); terminal {
				return status, reason
			} else if !doRetry {
				// No hook overrode the limit: it is a hard stop.
				return models.ThreadError, fmt.Sprintf("limit exceeded: %s (%.2f > %.2f)", limRec.LimitCode, limRec.CurrentValue, limRec.CurrentMax)
			}
		}

		// b. cancellation.
		if r.harness.IsCancelled() {
			return models.ThreadCancelled, "cancelled"
		}

		// c. cognition_in.
		state.turnCount++
		last := ""
		if n := len(state.messages); n > 0 {
			last = state.messages[n-1].Content
		}
		if err := r.writer.Append(models.EventStepStart, map[string]any{"turn": state.turnCount, "last_message": last}); err != nil {
			return models.ThreadError, fmt.Sprintf("append step_start: %v", err)
		}

		turnCtx := ctx
		var turnSpan trace.Span
		if r.cfg.Tracer != nil {
			turnCtx, turnSpan = r.cfg.Tracer.TraceTurn(ctx, r.cfg.ThreadID, state.turnCount)
		}

		// d. call the provider, with bounded retry + error-hook escalation.
		tokensIn, tokensOut, assistantText, toolCalls, status, reason, done := r.callProvider(turnCtx, state, &hookRetries)
		if turnSpan != nil {
			turnSpan.End()
		}
		if done {
			return status, reason
		}

		// e. increment cost counters.
		tc := models.TurnCost{InputTokens: tokensIn, OutputTokens: tokensOut, Spend: r.spend(r.cfg.Directive.Model.ID, tokensIn, tokensOut), ElapsedSeconds: time.Since(state.startedAt).Seconds()}
		state.cost.AddTurn(tc)
		if err := r.cfg.Ledger.IncrementActual(ctx, r.cfg.ThreadID, tc.Spend); err != nil {
			return models.ThreadError, fmt.Sprintf("increment budget: %v", err)
		}
		if err := r.cfg.Registry.UpdateCostSnapshot(ctx, r.cfg.ThreadID, state.turnCount, state.cost); err != nil {
			return models.ThreadError, fmt.Sprintf("update cost snapshot: %v", err)
		}

		// f. terminal response: no tool calls.
		if len(toolCalls) == 0 {
			if assistantText != "" {
				if err := r.writer.Append(models.EventAssistantText, map[string]any{"content": assistantText}); err != nil {
					return models.ThreadError, fmt.Sprintf("append assistant_text: %v", err)
				}
			}
			if err := r.writer.Append(models.EventStepFinish, map[string]any{"finish_reason": "end_turn", "turn": state.turnCount}); err != nil {
				return models.ThreadError, fmt.Sprintf("append step_finish: %v", err)
			}
			if err := r.checkpointAndPersist(state); err != nil {
				return models.ThreadError, err.Error()
			}
			if r.cfg.ThreadMode == models.ThreadModeConversation {
				return models.ThreadPaused, "awaiting_user"
			}
			return models.ThreadCompleted, "end_turn"
		}

		// g. append the assistant message.
		assistantMsg := models.Message{Role: models.RoleAssistant, Content: assistantText, ToolCalls: toolCalls, CreatedAt: time.Now()}
		state.messages = append(state.messages, assistantMsg)

		// h. dispatch each tool call in order.
		toolResults := make([]models.ToolResult, 0, len(toolCalls))
		for _, tc := range toolCalls {
			toolResults = append(toolResults, r.dispatchToolCall(ctx, tc))
		}
		state.messages = append(state.messages, models.Message{Role: models.RoleTool, ToolResults: toolResults, CreatedAt: time.Now()})

		// i. after_step hooks.
		afterAction, err := r.harness.RunHooks("after_step", map[string]any{"turn": state.turnCount}, r.dispatch)
		if err != nil {
			return models.ThreadError, fmt.Sprintf("after_step hook dispatch: %v", err)
		}
		if status, reason, terminal, _ := r.resolveControlAction(afterAction, &hookRetries); terminal {
			return status, reason
		}

		// j/k. checkpoint and persist harness state.
		if err := r.checkpointAndPersist(state); err != nil {
			return models.ThreadError, err.Error()
		}
	}
}

// callProvider invokes the provider with bounded retry-with-backoff on
// retryable errors, escalating to "error" hooks once attempts are
// exhausted or the error is permanent. The bool return is true when the
// loop should exit immediately with (status, reason).
func (r *Runner) callProvider(ctx context.Context, state *runState, hookRetries *int) (tokensIn, tokensOut int, assistantText string, toolCalls []models.ToolCall, status models.ThreadStatus, reason string, done bool) {
	req := &CompletionRequest{
		Model:     r.cfg.Directive.Model.ID,
		Messages:  state.messages,
		Tools:     r.cfg.ToolDefs,
		MaxTokens: 0,
	}

	for attempt := 1; ; attempt++ {
		callCtx := ctx
		var callSpan trace.Span
		if r.cfg.Tracer != nil {
			callCtx, callSpan = r.cfg.Tracer.TraceProviderCall(ctx, r.cfg.ThreadID)
		}
		stream, err := r.cfg.Provider.Complete(callCtx, req)
		if err == nil {
			assistantText, toolCalls, tokensIn, tokensOut, err = drainStream(stream)
		}
		if callSpan != nil {
			if err != nil {
				r.cfg.Tracer.RecordError(callSpan, err)
			}
			callSpan.End()
		}
		if err == nil {
			return tokensIn, tokensOut, assistantText, toolCalls, "", "", false
		}

		if attempt < maxProviderAttempts && retry.IsRetryable(err) {
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.RecordToolRetry("cognition")
			}
			if sleepErr := backoff.SleepWithContext(ctx, backoff.ComputeBackoff(backoff.DefaultPolicy(), attempt)); sleepErr != nil {
				return 0, 0, "", nil, models.ThreadCancelled, "cancelled during retry backoff", true
			}
			continue
		}

		action, hookErr := r.harness.RunHooks("error", map[string]any{"error": err.Error(), "attempt": attempt}, r.dispatch)
		if hookErr != nil {
			return 0, 0, "", nil, models.ThreadError, fmt.Sprintf("error hook dispatch: %v", hookErr), true
		}
		if st, rs, terminal, doRetry := r.resolveControlAction(action, hookRetries); terminal {
			return 0, 0, "", nil, st, rs, true
		} else if doRetry {
			continue
		}
		return 0, 0, "", nil, models.ThreadError, err.Error(), true
	}
}

// drainStream consumes a provider's chunk channel to completion,
// accumulating text and tool calls, and returns the final chunk's usage
// counters.
func drainStream(chunks <-chan *CompletionChunk) (text string, toolCalls []models.ToolCall, tokensIn, tokensOut int, err error) {
	var b strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", nil, 0, 0, chunk.Err
		}
		b.WriteString(chunk.Text)
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			tokensIn, tokensOut = chunk.InputTokens, chunk.OutputTokens
		}
	}
	return b.String(), toolCalls, tokensIn, tokensOut, nil
}

// dispatchToolCall implements step 3.h for a single tool call.
func (r *Runner) dispatchToolCall(ctx context.Context, tc models.ToolCall) models.ToolResult {
	env, err := decodeToolCall(tc.Input)
	if err != nil {
		return errorToolResult(tc.ID, err)
	}

	itemType := capability.ItemType(env.ItemType)
	if denied := r.harness.CheckPermission(capability.PrimaryExecute, itemType, env.ItemID); denied != nil {
		_ = r.writer.Append(models.EventToolCallResult, map[string]any{
			"tool_call_id": tc.ID, "item_id": env.ItemID, "denied": denied.Reason, "required": denied.RequiredCapability,
		})
		return errorToolResult(tc.ID, fmt.Errorf("permission denied: %s", denied.Reason))
	}

	params := env.Params
	if env.ItemID == threadDirectiveItemID {
		params = injectParentContext(params, r.cfg.ThreadID, r.cfg.ParentDepth+1, r.cfg.Directive.Limits, r.harness.Capabilities())
	}

	_ = r.writer.Append(models.EventToolCallStart, map[string]any{"tool_call_id": tc.ID, "item_id": env.ItemID, "item_type": env.ItemType})

	execCtx := ctx
	var execSpan trace.Span
	if r.cfg.Tracer != nil {
		execCtx, execSpan = r.cfg.Tracer.TraceToolExecution(ctx, env.ItemID)
		defer execSpan.End()
	}
	started := time.Now()

	result := r.dispatch.exec.Execute(execCtx, executor.Request{ItemID: env.ItemID, Params: params})
	if r.cfg.Metrics != nil {
		status := "success"
		if result.Err != nil {
			status = "error"
		}
		r.cfg.Metrics.RecordToolExecution(env.ItemID, status, time.Since(started).Seconds())
	}
	if result.Err != nil {
		if execSpan != nil {
			r.cfg.Tracer.RecordError(execSpan, result.Err)
		}
		_ = r.writer.Append(models.EventToolCallResult, map[string]any{"tool_call_id": tc.ID, "item_id": env.ItemID, "error": result.Err.Error()})
		return errorToolResult(tc.ID, result.Err)
	}

	clean := stripEnvelope(result.Output)
	_ = r.writer.Append(models.EventToolCallResult, map[string]any{"tool_call_id": tc.ID, "item_id": env.ItemID, "output": clean})
	content, _ := clean["content"].(string)
	if content == "" {
		content = fmt.Sprintf("%v", clean)
	}
	return models.ToolResult{ToolCallID: tc.ID, Content: content}
}

// recordReservation reports a budget reservation outcome if metrics are
// configured.
func (r *Runner) recordReservation(outcome string) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordBudgetReservation(outcome)
	}
}

func errorToolResult(toolCallID string, err error) models.ToolResult {
	return models.ToolResult{ToolCallID: toolCallID, Content: err.Error(), IsError: true}
}

// injectParentContext merges the parent's thread context into a
// thread_directive call's params per spec.md §4.10 step 3.h.3.
func injectParentContext(params map[string]any, parentThreadID string, depth int, limits models.Limits, capabilities []string) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["parent"] = map[string]any{
		"thread_id":    parentThreadID,
		"depth":        depth,
		"limits":       limits,
		"capabilities": capabilities,
	}
	return out
}

// resolveControlAction interprets a (possibly nil) ControlAction from a
// hook dispatch. terminal reports that the loop should exit with
// (status, reason); doRetry reports the loop should retry the same step
// instead of proceeding or exiting, bounded by hookRetries.
func (r *Runner) resolveControlAction(action *models.ControlAction, hookRetries *int) (status models.ThreadStatus, reason string, terminal, doRetry bool) {
	if action == nil {
		return "", "", false, false
	}
	switch action.Kind {
	case models.ControlContinue, models.ControlSkip:
		return "", "", false, false
	case models.ControlRetry:
		*hookRetries++
		if *hookRetries > maxHookRetries {
			return models.ThreadError, "exceeded maximum hook-issued retries", true, false
		}
		return "", "", false, true
	case models.ControlFail:
		return models.ThreadError, firstNonEmpty(action.Reason, "hook issued fail"), true, false
	case models.ControlAbort:
		return models.ThreadCancelled, firstNonEmpty(action.Reason, "hook issued abort"), true, false
	case models.ControlSuspend, models.ControlEscalate:
		return models.ThreadPaused, firstNonEmpty(action.Reason, string(action.Kind)), true, false
	default:
		return models.ThreadError, fmt.Sprintf("unknown control action %q", action.Kind), true, false
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// checkpointAndPersist implements steps 3.j and 3.k.
func (r *Runner) checkpointAndPersist(state *runState) error {
	if _, err := r.writer.Checkpoint(state.turnCount); err != nil {
		return fmt.Errorf("runner: checkpoint: %w", err)
	}
	hs := &models.HarnessState{
		ThreadID:        r.cfg.ThreadID,
		Capabilities:    r.harness.Capabilities(),
		Cost:            state.cost,
		Limits:          r.cfg.Directive.Limits,
		Hooks:           r.cfg.Directive.Hooks,
		Cancelled:       r.harness.IsCancelled(),
		TranscriptBytes: r.writer.ByteOffset(),
	}
	if err := transcript.WriteState(r.cfg.ThreadDir, hs); err != nil {
		return fmt.Errorf("runner: persist state: %w", err)
	}
	return nil
}

// finalize implements step 4: final transcript event, budget release,
// and terminal registry update.
func (r *Runner) finalize(ctx context.Context, meta *models.ThreadMetadata, state *runState, status models.ThreadStatus, reason string) (*models.ThreadMetadata, error) {
	meta.Status = status
	meta.TurnCount = state.turnCount
	meta.Cost = state.cost
	meta.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	if status == models.ThreadPaused && reason == "awaiting_user" {
		meta.Awaiting = models.AwaitingUser
	}

	eventType := models.EventThreadComplete
	if status == models.ThreadError {
		eventType = models.EventThreadError
	}
	_ = r.writer.Append(eventType, map[string]any{"status": status, "reason": reason, "cost": state.cost})

	ledgerStatus := models.BudgetCompleted
	switch status {
	case models.ThreadError:
		ledgerStatus = models.BudgetError
	case models.ThreadCancelled:
		ledgerStatus = models.BudgetCancelled
	}
	if status != models.ThreadPaused {
		if err := r.cfg.Ledger.Release(ctx, r.cfg.ThreadID, ledgerStatus); err != nil {
			return meta, fmt.Errorf("runner: release budget: %w", err)
		}
	}

	if err := r.cfg.Registry.UpdateStatus(ctx, r.cfg.ThreadID, status); err != nil {
		return meta, fmt.Errorf("runner: update terminal status: %w", err)
	}
	if err := r.cfg.Registry.UpdateCostSnapshot(ctx, r.cfg.ThreadID, state.turnCount, state.cost); err != nil {
		return meta, fmt.Errorf("runner: update terminal cost snapshot: %w", err)
	}
	meta.Signature = ""
	raw, err := json.Marshal(meta)
	if err != nil {
		return meta, fmt.Errorf("runner: marshal thread metadata: %w", err)
	}
	signed, err := r.cfg.Signer.Sign(trust.KindJSON, raw, "")
	if err != nil {
		return meta, fmt.Errorf("runner: sign thread metadata: %w", err)
	}
	if err := json.Unmarshal(signed, meta); err != nil {
		return meta, fmt.Errorf("runner: decode signed thread metadata: %w", err)
	}
	if err := transcript.WriteThreadMetadata(r.cfg.ThreadDir, meta); err != nil {
		return meta, fmt.Errorf("runner: write thread metadata: %w", err)
	}

	return meta, nil
}
