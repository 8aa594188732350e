package harness

import (
	"fmt"
	"sort"

	"github.com/leolilley/ryeos/internal/expr"
	"github.com/leolilley/ryeos/pkg/models"
)

// RunHooks evaluates every hook of event whose condition matches ctx,
// dispatching its action(s) with placeholders interpolated against ctx.
// Layer-1 and layer-2 hooks run first, in declaration order; the first
// one whose dispatch result carries a terminating ControlAction stops
// further layer-1/layer-2 evaluation. Layer-3 (infra) hooks always run
// regardless of that short-circuit. If no layer-1/layer-2 hook
// terminates, a terminating action from a layer-3 hook is returned
// instead.
func (h *Harness) RunHooks(event string, ctx map[string]any, dispatcher Dispatcher) (*models.ControlAction, error) {
	h.mu.RLock()
	hooks := hooksForEvent(h.hooks, event)
	h.mu.RUnlock()

	primary, infra := splitByLayer(hooks)

	ectx := expr.Context(ctx)

	var terminal *models.ControlAction
	for _, hk := range primary {
		if !conditionMatches(hk.Condition, ectx) {
			continue
		}
		action, err := h.dispatchHook(hk, ctx, dispatcher)
		if err != nil {
			return nil, err
		}
		if action.Terminating() {
			terminal = action
			break
		}
	}

	var infraTerminal *models.ControlAction
	for _, hk := range infra {
		if !conditionMatches(hk.Condition, ectx) {
			continue
		}
		action, err := h.dispatchHook(hk, ctx, dispatcher)
		if err != nil {
			return nil, err
		}
		if infraTerminal == nil && action.Terminating() {
			infraTerminal = action
		}
	}

	if terminal != nil {
		return terminal, nil
	}
	return infraTerminal, nil
}

func splitByLayer(hooks []models.Hook) (primary, infra []models.Hook) {
	for _, hk := range hooks {
		if hk.Layer == models.HookLayerInfra {
			infra = append(infra, hk)
		} else {
			primary = append(primary, hk)
		}
	}
	sort.SliceStable(primary, func(i, j int) bool { return primary[i].Layer < primary[j].Layer })
	return primary, infra
}

// dispatchHook runs a single hook's action(s) through dispatcher and
// extracts any ControlAction the result carries. A hook with no action
// and no referenced directive, or one whose action dispatch fails, is
// treated as a non-terminating no-op: hook actions are best-effort
// instrumentation, not load-bearing control flow by default.
func (h *Harness) dispatchHook(hk models.Hook, ctx map[string]any, dispatcher Dispatcher) (*models.ControlAction, error) {
	actions := hk.Actions
	if hk.Action != nil {
		actions = append(actions, *hk.Action)
	}
	var last *models.ControlAction
	for _, tmpl := range actions {
		params := interpolateParams(tmpl.Params, expr.Context(ctx))
		result, err := dispatcher.Dispatch(tmpl.ToolID, params)
		if err != nil {
			return nil, fmt.Errorf("harness: dispatch hook action %q: %w", tmpl.ToolID, err)
		}
		if action := extractControlAction(result); action != nil {
			last = action
		}
	}
	return last, nil
}

// extractControlAction reads the conventional "control_action" key a
// hook's tool result may carry: {"kind": "...", "payload": {...},
// "reason": "..."}.
func extractControlAction(result map[string]any) *models.ControlAction {
	raw, ok := result["control_action"]
	if !ok {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	kind, _ := m["kind"].(string)
	if kind == "" {
		return nil
	}
	action := &models.ControlAction{Kind: models.ControlActionKind(kind)}
	if reason, ok := m["reason"].(string); ok {
		action.Reason = reason
	}
	if payload, ok := m["payload"].(map[string]any); ok {
		action.Payload = payload
	}
	return action
}
