package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leolilley/ryeos/internal/transcript"
	"github.com/leolilley/ryeos/pkg/models"
)

// ContinuationSeed carries the prior conversation state a continuation
// run resumes from: the message history reconstructed from the paused
// thread's transcript, plus its turn and cost counters, so both keep
// accumulating on the continuation's own thread row instead of
// resetting to zero.
type ContinuationSeed struct {
	PreviousThreadID string
	ChainRootID      string
	Messages         []models.Message
	Cost             models.Cost
	TurnCount        int
}

// LoadContinuationSeed reads a paused thread's metadata and transcript
// under threadDir and builds the seed a continuation run resumes from.
// Any status other than paused is a usage error: spec.md specifies
// continuation from paused only.
func LoadContinuationSeed(threadDir string) (*ContinuationSeed, error) {
	meta, err := transcript.ReadThreadMetadata(threadDir)
	if err != nil {
		return nil, fmt.Errorf("runner: read previous thread metadata: %w", err)
	}
	if meta.Status != models.ThreadPaused {
		return nil, fmt.Errorf("runner: thread %q is %q, not paused", meta.ThreadID, meta.Status)
	}
	events, err := transcript.ReadEvents(threadDir)
	if err != nil {
		return nil, fmt.Errorf("runner: read previous transcript: %w", err)
	}

	chainRoot := meta.ChainRootID
	if chainRoot == "" {
		chainRoot = meta.ThreadID
	}
	return &ContinuationSeed{
		PreviousThreadID: meta.ThreadID,
		ChainRootID:      chainRoot,
		Messages:         reconstructMessages(events),
		Cost:             meta.Cost,
		TurnCount:        meta.TurnCount,
	}, nil
}

// reconstructMessages rebuilds the user/assistant text turns of a prior
// conversation from its transcript events. Tool call turns are not
// replayed: HarnessState deliberately carries no message list, and the
// provider only needs the conversational text to pick up where the
// directive left off.
func reconstructMessages(events []models.TranscriptEvent) []models.Message {
	var out []models.Message
	for _, ev := range events {
		var p struct {
			Content string `json:"content"`
		}
		switch ev.EventType {
		case models.EventUserMessage:
			if err := json.Unmarshal(ev.Payload, &p); err == nil {
				out = append(out, models.Message{Role: models.RoleUser, Content: p.Content})
			}
		case models.EventAssistantText:
			if err := json.Unmarshal(ev.Payload, &p); err == nil {
				out = append(out, models.Message{Role: models.RoleAssistant, Content: p.Content})
			}
		}
	}
	return out
}

// Continue resumes a paused conversation thread under a new thread id
// chained to the one being continued: it reserves budget from the
// previous thread's still-open ledger bucket (finalize never releases
// a paused thread's reservation), records the continuation pointer
// pair through the registry, appends the follow-up message, and runs
// the turn loop forward from the seeded history. It returns the
// continuation's final metadata and the last assistant text produced.
func (r *Runner) Continue(ctx context.Context, seed ContinuationSeed, followUp string) (*models.ThreadMetadata, string, error) {
	meta, err := r.registerContinuation(ctx, seed)
	if err != nil {
		return nil, "", err
	}

	state := &runState{
		messages:  append([]models.Message{}, seed.Messages...),
		cost:      seed.Cost,
		turnCount: seed.TurnCount,
		startedAt: time.Now(),
	}
	r.dispatch.ctx = ctx

	msg := models.Message{Role: models.RoleUser, Content: followUp, CreatedAt: time.Now()}
	state.messages = append(state.messages, msg)
	if err := r.writer.Append(models.EventUserMessage, map[string]any{"content": msg.Content}); err != nil {
		meta, ferr := r.finalize(ctx, meta, state, models.ThreadError, fmt.Sprintf("append follow-up message: %v", err))
		return meta, "", ferr
	}

	status, reason := r.loop(ctx, state)
	meta, err = r.finalize(ctx, meta, state, status, reason)
	return meta, lastAssistantText(state.messages), err
}

func lastAssistantText(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			return messages[i].Content
		}
	}
	return ""
}

// registerContinuation is the continuation analogue of register: budget
// is reserved against the previous thread's still-open bucket rather
// than against cfg.ParentThreadID, and the continuation pointer pair is
// recorded on both registry rows.
func (r *Runner) registerContinuation(ctx context.Context, seed ContinuationSeed) (*models.ThreadMetadata, error) {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	meta := &models.ThreadMetadata{
		ThreadID:       r.cfg.ThreadID,
		Directive:      r.cfg.Directive.Name,
		ParentThreadID: r.cfg.ParentThreadID,
		Status:         models.ThreadCreated,
		ThreadMode:     r.cfg.ThreadMode,
		Model:          r.cfg.Directive.Model,
		Limits:         r.cfg.Directive.Limits,
		ContinuationOf: seed.PreviousThreadID,
		ChainRootID:    seed.ChainRootID,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	if err := r.cfg.Registry.Register(ctx, meta); err != nil {
		return nil, fmt.Errorf("runner: register continuation thread: %w", err)
	}
	if err := r.cfg.Registry.SetContinuation(ctx, seed.PreviousThreadID, r.cfg.ThreadID); err != nil {
		return nil, fmt.Errorf("runner: set continuation pointer: %w", err)
	}
	if err := r.cfg.Registry.SetChainInfo(ctx, r.cfg.ThreadID, seed.PreviousThreadID, seed.ChainRootID); err != nil {
		return nil, fmt.Errorf("runner: set chain info: %w", err)
	}

	amount := r.cfg.Directive.Limits.Spend
	if err := r.cfg.Ledger.Reserve(ctx, r.cfg.ThreadID, amount, seed.PreviousThreadID, amount); err != nil {
		r.recordReservation("denied")
		return nil, fmt.Errorf("runner: reserve continuation budget: %w", err)
	}
	r.recordReservation("reserved")

	meta.Status = models.ThreadRunning
	meta.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.cfg.Registry.UpdateStatus(ctx, r.cfg.ThreadID, models.ThreadRunning); err != nil {
		return nil, fmt.Errorf("runner: mark continuation running: %w", err)
	}
	if err := r.writer.Append(models.EventThreadContinue, map[string]any{"continuation_of": seed.PreviousThreadID}); err != nil {
		return nil, fmt.Errorf("runner: append thread_continue: %w", err)
	}
	return meta, nil
}
