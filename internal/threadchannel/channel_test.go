package threadchannel

import (
	"testing"

	"github.com/leolilley/ryeos/pkg/models"
)

func members(ids ...string) []models.ChannelMember {
	out := make([]models.ChannelMember, len(ids))
	for i, id := range ids {
		out[i] = models.ChannelMember{ThreadID: id, Directive: "worker"}
	}
	return out
}

func TestCreateRoundRobinSetsInitialTurn(t *testing.T) {
	dir := t.TempDir()
	ch, err := Create(dir, "ch1", members("a", "b", "c"), models.TurnRoundRobin, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ch.CurrentTurn != "a" {
		t.Fatalf("expected current_turn=a, got %q", ch.CurrentTurn)
	}
}

func TestWriteToChannelAdvancesRoundRobinTurn(t *testing.T) {
	dir := t.TempDir()
	if _, err := Create(dir, "ch1", members("a", "b", "c"), models.TurnRoundRobin, []string{"a", "b", "c"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := WriteToChannel(dir, "ch1", "a", "hello from a"); err != nil {
		t.Fatalf("WriteToChannel: %v", err)
	}

	ch, err := Load(dir, "ch1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ch.CurrentTurn != "b" {
		t.Fatalf("expected current_turn=b after a writes, got %q", ch.CurrentTurn)
	}
	if ch.TurnCount != 1 {
		t.Fatalf("expected turn_count=1, got %d", ch.TurnCount)
	}

	if err := WriteToChannel(dir, "ch1", "b", "hello from b"); err != nil {
		t.Fatalf("WriteToChannel: %v", err)
	}
	ch, _ = Load(dir, "ch1")
	if ch.CurrentTurn != "c" {
		t.Fatalf("expected current_turn=c after b writes, got %q", ch.CurrentTurn)
	}

	if err := WriteToChannel(dir, "ch1", "c", "hello from c"); err != nil {
		t.Fatalf("WriteToChannel: %v", err)
	}
	ch, _ = Load(dir, "ch1")
	if ch.CurrentTurn != "a" {
		t.Fatalf("expected current_turn to wrap to a, got %q", ch.CurrentTurn)
	}
	if ch.TurnCount != 3 {
		t.Fatalf("expected turn_count=3, got %d", ch.TurnCount)
	}
}

func TestWriteToChannelRejectsOutOfTurn(t *testing.T) {
	dir := t.TempDir()
	if _, err := Create(dir, "ch1", members("a", "b"), models.TurnRoundRobin, []string{"a", "b"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := WriteToChannel(dir, "ch1", "b", "out of turn")
	if err != ErrNotTurnHolder {
		t.Fatalf("expected ErrNotTurnHolder, got %v", err)
	}
}

func TestWriteToChannelRejectsNonMember(t *testing.T) {
	dir := t.TempDir()
	if _, err := Create(dir, "ch1", members("a", "b"), models.TurnOnDemand, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := WriteToChannel(dir, "ch1", "stranger", "hi")
	if err != ErrNotMember {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestOnDemandAnyMemberMayWriteInAnyOrder(t *testing.T) {
	dir := t.TempDir()
	if _, err := Create(dir, "ch1", members("a", "b"), models.TurnOnDemand, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := WriteToChannel(dir, "ch1", "b", "b speaks first"); err != nil {
		t.Fatalf("WriteToChannel(b): %v", err)
	}
	if err := WriteToChannel(dir, "ch1", "b", "b speaks again"); err != nil {
		t.Fatalf("WriteToChannel(b again): %v", err)
	}
	if err := WriteToChannel(dir, "ch1", "a", "a speaks"); err != nil {
		t.Fatalf("WriteToChannel(a): %v", err)
	}

	msgs, err := ReadTranscript(dir, "ch1")
	if err != nil {
		t.Fatalf("ReadTranscript: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Origin != "b" || msgs[2].Origin != "a" {
		t.Fatalf("unexpected message order: %+v", msgs)
	}
}

func TestReadTranscriptEmptyChannelReturnsNil(t *testing.T) {
	dir := t.TempDir()
	if _, err := Create(dir, "ch1", members("a"), models.TurnOnDemand, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	msgs, err := ReadTranscript(dir, "ch1")
	if err != nil {
		t.Fatalf("ReadTranscript: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}
