package cron

import (
	"sync"
	"testing"
	"time"
)

func TestRegisterFiresTrigger(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	var mu sync.Mutex
	fired := ""
	done := make(chan struct{})

	if err := s.Register("greet", "* * * * * *", func(directiveID string) {
		mu.Lock()
		fired = directiveID
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("trigger did not fire in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if fired != "greet" {
		t.Fatalf("expected directive id %q, got %q", "greet", fired)
	}
}

func TestRegisterInvalidExprFails(t *testing.T) {
	s := New()
	if err := s.Register("bad", "not a cron expr", func(string) {}); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestRegisterReplacesPreviousSchedule(t *testing.T) {
	s := New()
	if err := s.Register("job", "@every 1h", func(string) {}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("job", "@every 2h", func(string) {}); err != nil {
		t.Fatalf("Register (replace): %v", err)
	}
	if len(s.entries) != 1 {
		t.Fatalf("expected exactly one entry after replace, got %d", len(s.entries))
	}
}

func TestUnregisterRemovesEntry(t *testing.T) {
	s := New()
	if err := s.Register("job", "@every 1h", func(string) {}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.Unregister("job")
	if _, ok := s.entries["job"]; ok {
		t.Fatal("expected entry removed after Unregister")
	}
}
