package cron

import (
	"testing"

	"github.com/leolilley/ryeos/pkg/models"
)

func TestRegisterDirectiveHooksRegistersScheduleHook(t *testing.T) {
	s := New()
	hooks := []models.Hook{
		{Event: "after_step", Layer: models.HookLayerBuiltin},
		{Event: "schedule", Layer: models.HookLayerInfra, Condition: "@every 1h"},
	}
	if err := RegisterDirectiveHooks(s, "nightly-report", hooks, func(string) {}); err != nil {
		t.Fatalf("RegisterDirectiveHooks: %v", err)
	}
	if _, ok := s.entries["nightly-report"]; !ok {
		t.Fatal("expected schedule hook to register a cron entry")
	}
}

func TestRegisterDirectiveHooksNoScheduleHookIsNoop(t *testing.T) {
	s := New()
	hooks := []models.Hook{{Event: "error", Layer: models.HookLayerBuiltin}}
	if err := RegisterDirectiveHooks(s, "no-schedule", hooks, func(string) {}); err != nil {
		t.Fatalf("RegisterDirectiveHooks: %v", err)
	}
	if len(s.entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(s.entries))
	}
}

func TestRegisterDirectiveHooksWrongLayerFails(t *testing.T) {
	s := New()
	hooks := []models.Hook{{Event: "schedule", Layer: models.HookLayerUser, Condition: "@every 1h"}}
	if err := RegisterDirectiveHooks(s, "bad-layer", hooks, func(string) {}); err == nil {
		t.Fatal("expected error for non-infra schedule hook")
	}
}

func TestRegisterDirectiveHooksMissingExprFails(t *testing.T) {
	s := New()
	hooks := []models.Hook{{Event: "schedule", Layer: models.HookLayerInfra}}
	if err := RegisterDirectiveHooks(s, "no-expr", hooks, func(string) {}); err == nil {
		t.Fatal("expected error for missing cron expression")
	}
}
