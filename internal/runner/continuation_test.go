package runner

import (
	"context"
	"testing"

	"github.com/leolilley/ryeos/pkg/models"
)

func TestContinueResumesPausedThreadAndRecordsChain(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	reg := newTestRegistry(t)
	signer := newTestSigner(t)

	firstProvider := &scriptedProvider{turns: []func() []*CompletionChunk{
		textTurn("part one", 10, 5),
	}}
	cfg1 := baseConfig(t, firstProvider, echoInvoker)
	cfg1.ThreadMode = models.ThreadModeConversation
	cfg1.Ledger = ledger
	cfg1.Registry = reg
	cfg1.Signer = signer
	cfg1.Directive.Limits = models.Limits{Spend: 10.0}

	r1, err := New(cfg1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r1.Close()

	meta1, err := r1.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if meta1.Status != models.ThreadPaused {
		t.Fatalf("expected first run to pause, got %q", meta1.Status)
	}
	if meta1.TurnCount != 1 {
		t.Fatalf("expected 1 turn before pausing, got %d", meta1.TurnCount)
	}
	if meta1.Awaiting != models.AwaitingUser {
		t.Fatalf("expected awaiting=user, got %q", meta1.Awaiting)
	}

	seed, err := LoadContinuationSeed(cfg1.ThreadDir)
	if err != nil {
		t.Fatalf("LoadContinuationSeed: %v", err)
	}
	if seed.PreviousThreadID != "thread-1" {
		t.Fatalf("unexpected previous thread id: %q", seed.PreviousThreadID)
	}
	if len(seed.Messages) != 2 {
		t.Fatalf("expected 2 reconstructed messages (user + assistant), got %d", len(seed.Messages))
	}

	secondProvider := &scriptedProvider{turns: []func() []*CompletionChunk{
		textTurn("part two", 4, 3),
	}}
	cfg2 := baseConfig(t, secondProvider, echoInvoker)
	cfg2.ThreadID = "thread-2"
	cfg2.ThreadMode = models.ThreadModeConversation
	cfg2.Ledger = ledger
	cfg2.Registry = reg
	cfg2.Signer = signer
	cfg2.Directive.Limits = models.Limits{Spend: 1.0}

	r2, err := New(cfg2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r2.Close()

	meta2, text, err := r2.Continue(ctx, *seed, "follow-up")
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if meta2.Status != models.ThreadPaused {
		t.Fatalf("expected continuation to pause again, got %q", meta2.Status)
	}
	if meta2.TurnCount < 2 {
		t.Fatalf("expected cumulative turn_count >= 2, got %d", meta2.TurnCount)
	}
	if meta2.Cost.Spend <= meta1.Cost.Spend {
		t.Fatalf("expected cumulative spend to grow: previous=%v, continuation=%v", meta1.Cost.Spend, meta2.Cost.Spend)
	}
	if text != "part two" {
		t.Fatalf("expected last assistant text %q, got %q", "part two", text)
	}

	chain, err := reg.GetChain(ctx, "thread-2")
	if err != nil {
		t.Fatalf("GetChain: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("expected a 2-element chain, got %d", len(chain))
	}
	if chain[0].ThreadID != "thread-1" || chain[1].ThreadID != "thread-2" {
		t.Fatalf("unexpected chain order: %+v / %+v", chain[0].ThreadID, chain[1].ThreadID)
	}

	chainFromRoot, err := reg.GetChain(ctx, "thread-1")
	if err != nil {
		t.Fatalf("GetChain from root: %v", err)
	}
	if len(chainFromRoot) != 2 {
		t.Fatalf("expected chain walk from any member to yield the full chain, got %d", len(chainFromRoot))
	}
}
