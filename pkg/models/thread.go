package models

// ThreadStatus is a thread's lifecycle state.
type ThreadStatus string

const (
	ThreadCreated   ThreadStatus = "created"
	ThreadRunning   ThreadStatus = "running"
	ThreadPaused    ThreadStatus = "paused"
	ThreadCompleted ThreadStatus = "completed"
	ThreadError     ThreadStatus = "error"
	ThreadCancelled ThreadStatus = "cancelled"
	ThreadContinued ThreadStatus = "continued"
)

// ThreadMode selects how a thread's conversation is driven.
type ThreadMode string

const (
	ThreadModeSingle       ThreadMode = "single"
	ThreadModeConversation ThreadMode = "conversation"
	ThreadModeChannel      ThreadMode = "channel"
)

// Awaiting names the external event a thread is blocked on, if any.
type Awaiting string

const (
	AwaitingNone     Awaiting = ""
	AwaitingUser     Awaiting = "user"
	AwaitingApproval Awaiting = "approval"
	AwaitingChild    Awaiting = "child"
)

// ThreadMetadata is the persistent per-thread record serialized to
// thread.json. It is signed using a canonical JSON signature (see
// internal/trust) over every field except Signature itself.
type ThreadMetadata struct {
	ThreadID             string        `json:"thread_id"`
	Directive            string        `json:"directive"`
	ParentThreadID       string        `json:"parent_thread_id,omitempty"`
	Status               ThreadStatus  `json:"status"`
	ThreadMode           ThreadMode    `json:"thread_mode"`
	Model                ModelSelector `json:"model"`
	ToolDefs             []string      `json:"tool_defs,omitempty"`
	Limits               Limits        `json:"limits"`
	TurnCount            int           `json:"turn_count"`
	Cost                 Cost          `json:"cost"`
	PID                  int           `json:"pid,omitempty"`
	ContinuationOf       string        `json:"continuation_of,omitempty"`
	ContinuationThreadID string        `json:"continuation_thread_id,omitempty"`
	ChainRootID          string        `json:"chain_root_id,omitempty"`
	Awaiting             Awaiting      `json:"awaiting,omitempty"`
	CreatedAt            string        `json:"created_at"`
	UpdatedAt            string        `json:"updated_at"`
	Signature            string        `json:"_signature,omitempty"`
}

// HarnessState is the runtime companion to ThreadMetadata, serialized to
// state.json at every turn boundary so a process restart can resume an
// interrupted conversation-mode thread.
type HarnessState struct {
	ThreadID        string   `json:"thread_id"`
	Capabilities    []string `json:"capabilities"`
	Cost            Cost     `json:"cost"`
	Limits          Limits   `json:"limits"`
	Hooks           []Hook   `json:"hooks"`
	Cancelled       bool     `json:"cancelled"`
	TranscriptBytes int64    `json:"transcript_bytes"`
}

// RegistryRow mirrors ThreadMetadata but is indexed for fast listing,
// parentage walks, and chain-root resolution.
type RegistryRow struct {
	ThreadID             string       `json:"thread_id"`
	Directive            string       `json:"directive"`
	ParentThreadID       string       `json:"parent_thread_id,omitempty"`
	Status               ThreadStatus `json:"status"`
	ThreadMode           ThreadMode   `json:"thread_mode"`
	PID                  int          `json:"pid,omitempty"`
	TurnCount            int          `json:"turn_count"`
	InputTokens          int          `json:"input_tokens"`
	OutputTokens         int          `json:"output_tokens"`
	Spend                float64      `json:"spend"`
	ContinuationOf       string       `json:"continuation_of,omitempty"`
	ContinuationThreadID string       `json:"continuation_thread_id,omitempty"`
	ChainRootID          string       `json:"chain_root_id,omitempty"`
	CreatedAt            string       `json:"created_at"`
	UpdatedAt            string       `json:"updated_at"`
}
