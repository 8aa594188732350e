package models

import "time"

// ApprovalRequest is the request half of a file-based approval gate:
// written atomically to {thread_dir}/approvals/{request_id}.request.json
// by request_approval, never mutated afterward.
type ApprovalRequest struct {
	RequestID      string    `json:"request_id"`
	ThreadID       string    `json:"thread_id"`
	Prompt         string    `json:"prompt"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	CreatedAt      time.Time `json:"created_at"`
}

// ApprovalResponse is the response half, written atomically to
// {thread_dir}/approvals/{request_id}.response.json by an approver
// (human or test) via write_approval_response.
type ApprovalResponse struct {
	RequestID string    `json:"request_id"`
	Approved  bool      `json:"approved"`
	Message   string    `json:"message,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}
