package cron

import (
	"fmt"

	"github.com/leolilley/ryeos/pkg/models"
)

// scheduleEvent is the layer-3 infra hook event name a directive uses to
// declare a cron trigger; its Condition field carries the cron
// expression rather than a predicate, since a schedule hook has no
// runtime event payload to evaluate a condition against.
const scheduleEvent = "schedule"

// RegisterDirectiveHooks registers the first "schedule" hook found in
// hooks against s; any later "schedule" hooks in the list are neither
// checked nor registered. The entry is keyed by directiveID so a later
// call with the same id replaces rather than duplicates its schedule.
// fn is invoked with directiveID on each firing.
func RegisterDirectiveHooks(s *Scheduler, directiveID string, hooks []models.Hook, fn TriggerFunc) error {
	for _, h := range hooks {
		if h.Event != scheduleEvent {
			continue
		}
		if h.Layer != models.HookLayerInfra {
			return fmt.Errorf("cron: directive %q: schedule hook must be layer 3 (infra), got %d", directiveID, h.Layer)
		}
		if h.Condition == "" {
			return fmt.Errorf("cron: directive %q: schedule hook missing cron expression in condition", directiveID)
		}
		if err := s.Register(directiveID, h.Condition, fn); err != nil {
			return err
		}
		return nil
	}
	return nil
}
