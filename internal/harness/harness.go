// Package harness implements the safety harness of spec.md §4.5: the
// per-thread gate that attenuates capabilities, checks permissions and
// limits, and evaluates declarative hooks. Grounded on the teacher's
// internal/agent error-taxonomy shape (errors.go's ToolError/LoopError
// categorization feeding retry logic) generalized from tool-execution
// errors to the harness's DeniedRecord/LimitRecord/ControlAction
// vocabulary, and on internal/capability + internal/expr for the
// attenuation and condition-evaluation primitives it wraps.
package harness

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/leolilley/ryeos/internal/capability"
	"github.com/leolilley/ryeos/internal/expr"
	"github.com/leolilley/ryeos/pkg/models"
)

// internalToolPrefix is the fixed tool-id prefix the harness itself
// always trusts, regardless of the thread's declared capabilities: the
// primitives the harness needs to operate at all (spawning children,
// checkpointing, reading its own thread state).
const internalToolPrefix = "threads.internal."

// DeniedRecord explains why check_permission refused an operation.
type DeniedRecord struct {
	RequiredCapability string
	Reason             string
}

// LimitRecord explains which resource limit was exceeded.
type LimitRecord struct {
	LimitCode    string
	CurrentValue float64
	CurrentMax   float64
}

// Dispatcher executes a hook's tool-call action. The harness never
// dispatches tool calls itself; it asks the caller to, after
// interpolating placeholders.
type Dispatcher interface {
	Dispatch(toolID string, params map[string]any) (map[string]any, error)
}

// Harness is constructed once per thread from its directive's declared
// limits/hooks/permissions and the parent's (already-attenuated)
// capability set.
type Harness struct {
	ThreadID      string
	DirectiveName string

	mu           sync.RWMutex
	capabilities []string
	limits       models.Limits
	hooks        []models.Hook

	cancelled atomic.Bool
}

// New attenuates permissions against parentCapabilities and constructs
// the harness. If no capability results from attenuation (either
// because permissions was empty or because nothing survived narrowing
// against the parent), the harness is fail-closed: every permission
// check denies except the fixed internal prefix.
func New(threadID, directiveName string, limits models.Limits, hooks []models.Hook, permissions, parentCapabilities []string) *Harness {
	var caps []string
	if len(parentCapabilities) == 0 {
		// A root thread has no parent to attenuate against; its declared
		// permissions are its operative set verbatim.
		caps = append(caps, permissions...)
	} else {
		caps = capability.Attenuate(parentCapabilities, permissions)
	}
	return &Harness{
		ThreadID:      threadID,
		DirectiveName: directiveName,
		capabilities:  caps,
		limits:        limits,
		hooks:         hooks,
	}
}

// Capabilities returns the thread's operative (post-attenuation)
// capability set. The harness owns this set exclusively; it is
// immutable after construction.
func (h *Harness) Capabilities() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.capabilities))
	copy(out, h.capabilities)
	return out
}

// CheckPermission constructs the required capability string for
// (primary, itemType, itemID) and checks it against the thread's
// operative set (plus structural implication and hierarchy expansion).
// search has no item id and is checked as "rye.search.<item_type>".
func (h *Harness) CheckPermission(primary capability.Primary, itemType capability.ItemType, itemID string) *DeniedRecord {
	var required string
	if primary == capability.PrimarySearch {
		required = capability.Build(primary, itemType, "")
	} else {
		required = capability.Build(primary, itemType, itemID)
	}

	if primary == capability.PrimaryExecute && itemType == capability.ItemTool && strings.HasPrefix(itemID, internalToolPrefix) {
		return nil
	}

	h.mu.RLock()
	caps := h.capabilities
	h.mu.RUnlock()

	if len(caps) == 0 {
		return &DeniedRecord{RequiredCapability: required, Reason: "fail-closed: no capabilities declared"}
	}
	if capability.Check(caps, required) {
		return nil
	}
	return &DeniedRecord{RequiredCapability: required, Reason: "capability not granted"}
}

// CheckLimits iterates {turns, tokens, spend, duration_seconds} against
// cost and returns the first exceeded limit, in that fixed order.
func (h *Harness) CheckLimits(cost models.Cost) *LimitRecord {
	h.mu.RLock()
	limits := h.limits
	h.mu.RUnlock()

	if limits.Turns > 0 && cost.Turns > limits.Turns {
		return &LimitRecord{LimitCode: "turns", CurrentValue: float64(cost.Turns), CurrentMax: float64(limits.Turns)}
	}
	totalTokens := cost.InputTokens + cost.OutputTokens
	if limits.Tokens > 0 && totalTokens > limits.Tokens {
		return &LimitRecord{LimitCode: "tokens", CurrentValue: float64(totalTokens), CurrentMax: float64(limits.Tokens)}
	}
	if limits.Spend > 0 && cost.Spend > limits.Spend {
		return &LimitRecord{LimitCode: "spend", CurrentValue: cost.Spend, CurrentMax: limits.Spend}
	}
	if limits.DurationSeconds > 0 && cost.ElapsedSeconds > float64(limits.DurationSeconds) {
		return &LimitRecord{LimitCode: "duration_seconds", CurrentValue: cost.ElapsedSeconds, CurrentMax: float64(limits.DurationSeconds)}
	}
	return nil
}

// RequestCancel sets the cooperative cancellation flag.
func (h *Harness) RequestCancel() { h.cancelled.Store(true) }

// IsCancelled reports the cooperative cancellation flag.
func (h *Harness) IsCancelled() bool { return h.cancelled.Load() }

func conditionMatches(condition string, ctx expr.Context) bool {
	if condition == "" {
		return true
	}
	node, err := expr.Parse(condition)
	if err != nil {
		return false
	}
	v, err := node.Eval(ctx)
	if err != nil {
		return false
	}
	return v.Truthy()
}

func hooksForEvent(hooks []models.Hook, event string) []models.Hook {
	var matched []models.Hook
	for _, hk := range hooks {
		if hk.Event == event {
			matched = append(matched, hk)
		}
	}
	return matched
}

func interpolateParams(params map[string]any, ctx expr.Context) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok {
			if resolved, err := expr.Interpolate(s, ctx); err == nil {
				out[k] = resolved.ToAny()
				continue
			}
		}
		out[k] = v
	}
	return out
}
