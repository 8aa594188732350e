package harness

import (
	"testing"

	"github.com/leolilley/ryeos/internal/capability"
	"github.com/leolilley/ryeos/pkg/models"
)

func TestCheckPermissionRootThreadTakesPermissionsVerbatim(t *testing.T) {
	h := New("t1", "demo", models.Limits{}, nil, []string{"rye.execute.tool.fs.read"}, nil)
	if d := h.CheckPermission(capability.PrimaryExecute, capability.ItemTool, "fs.read"); d != nil {
		t.Fatalf("expected permission granted, got denied: %+v", d)
	}
	if d := h.CheckPermission(capability.PrimaryExecute, capability.ItemTool, "fs.write"); d == nil {
		t.Fatalf("expected permission denied for ungranted capability")
	}
}

func TestCheckPermissionFailClosedWithNoCapabilities(t *testing.T) {
	h := New("t1", "demo", models.Limits{}, nil, nil, []string{"rye.execute.tool.fs.read"})
	if d := h.CheckPermission(capability.PrimaryExecute, capability.ItemTool, "fs.read"); d == nil {
		t.Fatalf("expected fail-closed denial when attenuation yields no capabilities")
	}
}

func TestCheckPermissionInternalPrefixAlwaysAllowed(t *testing.T) {
	h := New("t1", "demo", models.Limits{}, nil, nil, []string{"rye.execute.tool.fs.read"})
	if d := h.CheckPermission(capability.PrimaryExecute, capability.ItemTool, "threads.internal.spawn_child"); d != nil {
		t.Fatalf("expected internal tool prefix to bypass fail-closed deny, got %+v", d)
	}
}

func TestCheckPermissionAttenuatesAgainstParent(t *testing.T) {
	parent := []string{"rye.execute.tool.fs.*"}
	h := New("t2", "child", models.Limits{}, nil, []string{"rye.execute.tool.fs.read", "rye.execute.tool.net.fetch"}, parent)
	if d := h.CheckPermission(capability.PrimaryExecute, capability.ItemTool, "fs.read"); d != nil {
		t.Fatalf("expected fs.read permitted under parent's fs.* grant, got %+v", d)
	}
	if d := h.CheckPermission(capability.PrimaryExecute, capability.ItemTool, "net.fetch"); d == nil {
		t.Fatalf("expected net.fetch to be narrowed away by attenuation against parent")
	}
}

func TestCheckLimitsFirstExceededWinsInFixedOrder(t *testing.T) {
	limits := models.Limits{Turns: 5, Tokens: 1000, Spend: 1.0, DurationSeconds: 60}
	h := New("t3", "demo", limits, nil, []string{"rye.execute.tool.fs.read"}, nil)

	if rec := h.CheckLimits(models.Cost{Turns: 6, InputTokens: 2000, Spend: 5.0, ElapsedSeconds: 120}); rec == nil || rec.LimitCode != "turns" {
		t.Fatalf("expected turns to win when all four are exceeded, got %+v", rec)
	}
	if rec := h.CheckLimits(models.Cost{Turns: 1, InputTokens: 2000, Spend: 5.0, ElapsedSeconds: 120}); rec == nil || rec.LimitCode != "tokens" {
		t.Fatalf("expected tokens to win when turns is within budget, got %+v", rec)
	}
	if rec := h.CheckLimits(models.Cost{Turns: 1, InputTokens: 10, Spend: 5.0, ElapsedSeconds: 120}); rec == nil || rec.LimitCode != "spend" {
		t.Fatalf("expected spend to win, got %+v", rec)
	}
	if rec := h.CheckLimits(models.Cost{Turns: 1, InputTokens: 10, Spend: 0.1, ElapsedSeconds: 120}); rec == nil || rec.LimitCode != "duration_seconds" {
		t.Fatalf("expected duration_seconds to win, got %+v", rec)
	}
	if rec := h.CheckLimits(models.Cost{Turns: 1, InputTokens: 10, Spend: 0.1, ElapsedSeconds: 1}); rec != nil {
		t.Fatalf("expected no limit exceeded, got %+v", rec)
	}
}

func TestCancellation(t *testing.T) {
	h := New("t4", "demo", models.Limits{}, nil, nil, nil)
	if h.IsCancelled() {
		t.Fatalf("expected not cancelled initially")
	}
	h.RequestCancel()
	if !h.IsCancelled() {
		t.Fatalf("expected cancelled after RequestCancel")
	}
}

type fakeDispatcher struct {
	results map[string]map[string]any
	calls   []string
}

func (f *fakeDispatcher) Dispatch(toolID string, params map[string]any) (map[string]any, error) {
	f.calls = append(f.calls, toolID)
	if r, ok := f.results[toolID]; ok {
		return r, nil
	}
	return map[string]any{}, nil
}

func controlResult(kind models.ControlActionKind) map[string]any {
	return map[string]any{"control_action": map[string]any{"kind": string(kind)}}
}

func TestRunHooksLayer1ShortCircuitsLayer2(t *testing.T) {
	hooks := []models.Hook{
		{Event: "turn_completed", Layer: models.HookLayerUser, Action: &models.ActionTemplate{ToolID: "rye.execute.tool.abort_hook"}},
		{Event: "turn_completed", Layer: models.HookLayerBuiltin, Action: &models.ActionTemplate{ToolID: "rye.execute.tool.never_called"}},
	}
	h := New("t5", "demo", models.Limits{}, hooks, []string{"rye.execute.tool.*"}, nil)
	disp := &fakeDispatcher{results: map[string]map[string]any{
		"rye.execute.tool.abort_hook": controlResult(models.ControlAbort),
	}}
	action, err := h.RunHooks("turn_completed", map[string]any{}, disp)
	if err != nil {
		t.Fatalf("RunHooks: %v", err)
	}
	if action == nil || action.Kind != models.ControlAbort {
		t.Fatalf("expected abort action, got %+v", action)
	}
	for _, c := range disp.calls {
		if c == "rye.execute.tool.never_called" {
			t.Fatalf("layer-2 hook should not have run after layer-1 terminated")
		}
	}
}

func TestRunHooksLayer3AlwaysRunsRegardlessOfShortCircuit(t *testing.T) {
	hooks := []models.Hook{
		{Event: "turn_completed", Layer: models.HookLayerUser, Action: &models.ActionTemplate{ToolID: "rye.execute.tool.abort_hook"}},
		{Event: "turn_completed", Layer: models.HookLayerInfra, Action: &models.ActionTemplate{ToolID: "rye.execute.tool.telemetry"}},
	}
	h := New("t6", "demo", models.Limits{}, hooks, []string{"rye.execute.tool.*"}, nil)
	disp := &fakeDispatcher{results: map[string]map[string]any{
		"rye.execute.tool.abort_hook": controlResult(models.ControlAbort),
	}}
	action, err := h.RunHooks("turn_completed", map[string]any{}, disp)
	if err != nil {
		t.Fatalf("RunHooks: %v", err)
	}
	if action == nil || action.Kind != models.ControlAbort {
		t.Fatalf("expected the layer-1 abort to still be the returned action, got %+v", action)
	}
	found := false
	for _, c := range disp.calls {
		if c == "rye.execute.tool.telemetry" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected layer-3 hook to run even though layer-1 short-circuited")
	}
}

func TestRunHooksConditionGatesExecution(t *testing.T) {
	hooks := []models.Hook{
		{Event: "turn_completed", Condition: "state.count > 5", Layer: models.HookLayerUser, Action: &models.ActionTemplate{ToolID: "rye.execute.tool.fire"}},
	}
	h := New("t7", "demo", models.Limits{}, hooks, []string{"rye.execute.tool.*"}, nil)
	disp := &fakeDispatcher{results: map[string]map[string]any{}}

	if _, err := h.RunHooks("turn_completed", map[string]any{"state": map[string]any{"count": 1.0}}, disp); err != nil {
		t.Fatalf("RunHooks: %v", err)
	}
	if len(disp.calls) != 0 {
		t.Fatalf("expected hook not to fire when condition is false, got calls %v", disp.calls)
	}

	if _, err := h.RunHooks("turn_completed", map[string]any{"state": map[string]any{"count": 10.0}}, disp); err != nil {
		t.Fatalf("RunHooks: %v", err)
	}
	if len(disp.calls) != 1 {
		t.Fatalf("expected hook to fire once condition is true, got calls %v", disp.calls)
	}
}

func TestRunHooksContextSegregatesBeforeAndAfter(t *testing.T) {
	hooks := []models.Hook{
		{Event: "thread_started", Layer: models.HookLayerBuiltin, Position: models.HookBefore, Action: &models.ActionTemplate{ToolID: "rye.load.knowledge.onboarding"}},
		{Event: "thread_started", Layer: models.HookLayerBuiltin, Position: models.HookAfter, Action: &models.ActionTemplate{ToolID: "rye.load.knowledge.followup"}},
		{Event: "thread_started", Layer: models.HookLayerBuiltin, Position: models.HookBefore, Action: &models.ActionTemplate{ToolID: "rye.load.knowledge.suppressed"}},
	}
	h := New("t8", "demo", models.Limits{}, hooks, []string{"rye.load.knowledge.*"}, nil)
	disp := &fakeDispatcher{results: map[string]map[string]any{
		"rye.load.knowledge.onboarding": {"content": "welcome"},
		"rye.load.knowledge.followup":   {"content": "wrap up"},
		"rye.load.knowledge.suppressed": controlResult(models.ControlSkip),
	}}

	result, err := h.RunHooksContext("thread_started", map[string]any{}, disp)
	if err != nil {
		t.Fatalf("RunHooksContext: %v", err)
	}
	if len(result.BeforeRaw) != 1 || len(result.AfterRaw) != 1 {
		t.Fatalf("expected one before and one after block, got %+v", result)
	}
	if result.Before == "" || result.After == "" {
		t.Fatalf("expected coalesced before/after strings to be populated")
	}
	if len(result.Suppress) != 1 || result.Suppress[0] != "suppressed" {
		t.Fatalf("expected suppressed item id to be recorded, got %+v", result.Suppress)
	}
}
