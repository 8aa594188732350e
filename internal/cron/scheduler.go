// Package cron registers scheduled directive triggers: a directive's
// hooks may declare a layer-3 infra hook naming a cron schedule, and the
// runtime ticks that directive's execution at each firing.
package cron

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// TriggerFunc is invoked when a scheduled directive's cron expression
// fires. The directive id is the only context passed; the caller looks up
// and executes the directive itself.
type TriggerFunc func(directiveID string)

// Scheduler wraps a robfig/cron runner, tracking which entry belongs to
// which directive so it can be unregistered by id.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	log     *slog.Logger
}

// New builds a Scheduler. Call Start to begin firing registered triggers.
func New() *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithParser(cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		entries: make(map[string]cron.EntryID),
		log:     slog.Default().With("component", "cron.scheduler"),
	}
}

// Register adds a schedule for directiveID, replacing any previous
// schedule registered for the same id.
func (s *Scheduler) Register(directiveID, expr string, fn TriggerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[directiveID]; ok {
		s.cron.Remove(existing)
		delete(s.entries, directiveID)
	}

	id, err := s.cron.AddFunc(expr, func() {
		s.log.Debug("firing scheduled directive", "directive_id", directiveID)
		fn(directiveID)
	})
	if err != nil {
		return fmt.Errorf("cron: register %q: %w", directiveID, err)
	}
	s.entries[directiveID] = id
	return nil
}

// Unregister removes directiveID's schedule, if any.
func (s *Scheduler) Unregister(directiveID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[directiveID]; ok {
		s.cron.Remove(id)
		delete(s.entries, directiveID)
	}
}

// Start begins firing registered triggers in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for any in-flight trigger to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
