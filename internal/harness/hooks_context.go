package harness

import (
	"fmt"
	"strings"

	"github.com/leolilley/ryeos/internal/expr"
	"github.com/leolilley/ryeos/pkg/models"
)

// RunHooksContext is the thread_started/thread_continued variant of
// RunHooks: every matching hook runs, unconditionally and without
// short-circuiting, loading whatever knowledge item its action
// dispatches to and collecting the content into XML-wrapped blocks
// segregated by the hook's declared position. A hook whose dispatch
// returns a "skip" control action contributes its item id to Suppress
// instead of to Before/After.
func (h *Harness) RunHooksContext(event string, ctx map[string]any, dispatcher Dispatcher) (*models.HookContextResult, error) {
	h.mu.RLock()
	hooks := hooksForEvent(h.hooks, event)
	h.mu.RUnlock()

	ectx := expr.Context(ctx)
	result := &models.HookContextResult{}

	for _, hk := range hooks {
		if !conditionMatches(hk.Condition, ectx) {
			continue
		}
		actions := hk.Actions
		if hk.Action != nil {
			actions = append(actions, *hk.Action)
		}
		for _, tmpl := range actions {
			params := interpolateParams(tmpl.Params, ectx)
			res, err := dispatcher.Dispatch(tmpl.ToolID, params)
			if err != nil {
				return nil, fmt.Errorf("harness: dispatch context hook %q: %w", tmpl.ToolID, err)
			}
			itemID := knowledgeItemID(tmpl.ToolID)
			if action := extractControlAction(res); action != nil && action.Kind == models.ControlSkip {
				result.Suppress = append(result.Suppress, itemID)
				continue
			}
			content, _ := res["content"].(string)
			if content == "" {
				continue
			}
			block := wrapKnowledgeBlock(itemID, content)
			switch hk.Position {
			case models.HookAfter:
				result.AfterRaw = append(result.AfterRaw, block)
			default:
				result.BeforeRaw = append(result.BeforeRaw, block)
			}
		}
	}

	result.Before = strings.Join(result.BeforeRaw, "\n")
	result.After = strings.Join(result.AfterRaw, "\n")
	return result, nil
}

// knowledgeItemID extracts the dotted item id from a
// "rye.load.knowledge.<dotted_id>" tool reference, falling back to the
// tool id itself for anything else.
func knowledgeItemID(toolID string) string {
	const prefix = "rye.load.knowledge."
	if strings.HasPrefix(toolID, prefix) {
		return strings.TrimPrefix(toolID, prefix)
	}
	return toolID
}

func wrapKnowledgeBlock(itemID, content string) string {
	return fmt.Sprintf("<knowledge id=%q>%s</knowledge>", itemID, content)
}
