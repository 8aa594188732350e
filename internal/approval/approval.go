// Package approval implements the file-based human-in-the-loop gate of
// spec.md §4.12: request/response JSON files written atomically under
// a thread's approvals directory, with the filesystem itself as the
// message bus — no central broker. Grounded on the teacher's
// internal/agent/approval.go (ApprovalStore's Create/Get/Update
// lifecycle), reimplemented over plain files instead of an in-memory
// or database-backed store, and on internal/transcript's
// temp-file-then-rename atomic write helper.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/leolilley/ryeos/pkg/models"
)

// ErrTimeout is returned by WaitForApproval when no response arrives
// within the request's timeout.
var ErrTimeout = errors.New("approval: timed out waiting for response")

// pollInterval is the polling cadence when no fsnotify event fires in
// time, matching spec.md's stated 1-second interval exactly.
const pollInterval = time.Second

// RequestApproval writes a new request file under dir (a thread's
// approvals directory) and returns it. dir is created if absent.
func RequestApproval(dir, threadID, prompt string, timeoutSeconds int) (*models.ApprovalRequest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("approval: create approvals dir: %w", err)
	}
	req := &models.ApprovalRequest{
		RequestID:      uuid.NewString(),
		ThreadID:       threadID,
		Prompt:         prompt,
		TimeoutSeconds: timeoutSeconds,
		CreatedAt:      timeNow(),
	}
	if err := atomicWriteJSON(requestPath(dir, req.RequestID), req); err != nil {
		return nil, err
	}
	return req, nil
}

// WriteApprovalResponse writes the decision for requestID, used by
// approvers (human UIs or test harnesses) to unblock a waiting thread.
func WriteApprovalResponse(dir, requestID string, approved bool, message string) error {
	resp := &models.ApprovalResponse{
		RequestID: requestID,
		Approved:  approved,
		Message:   message,
		DecidedAt: timeNow(),
	}
	return atomicWriteJSON(responsePath(dir, requestID), resp)
}

// PollApproval is the non-blocking variant: it reports whether a
// response file exists yet without waiting.
func PollApproval(dir, requestID string) (*models.ApprovalResponse, bool, error) {
	data, err := os.ReadFile(responsePath(dir, requestID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("approval: read response: %w", err)
	}
	var resp models.ApprovalResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, fmt.Errorf("approval: unmarshal response: %w", err)
	}
	return &resp, true, nil
}

// WaitForApproval blocks until requestID's response file appears or
// timeout elapses, whichever comes first. It watches dir with
// fsnotify as a fast path, falling back to a 1-second poll interval
// if the watcher cannot be established or misses the event (e.g. on
// filesystems where fsnotify support is partial).
func WaitForApproval(ctx context.Context, dir, requestID string, timeout time.Duration) (*models.ApprovalResponse, error) {
	deadline := timeNow().Add(timeout)

	if resp, ok, err := PollApproval(dir, requestID); err != nil {
		return nil, err
	} else if ok {
		return resp, nil
	}

	watcher, werr := fsnotify.NewWatcher()
	if werr == nil {
		defer watcher.Close()
		_ = watcher.Add(dir)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		remaining := deadline.Sub(timeNow())
		if remaining <= 0 {
			return nil, ErrTimeout
		}

		var fsCh <-chan fsnotify.Event
		if watcher != nil {
			fsCh = watcher.Events
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(remaining):
			return nil, ErrTimeout
		case <-ticker.C:
		case ev, ok := <-fsCh:
			if !ok {
				fsCh = nil
				continue
			}
			if filepath.Base(ev.Name) != filepath.Base(responsePath(dir, requestID)) {
				continue
			}
		}

		if resp, ok, err := PollApproval(dir, requestID); err != nil {
			return nil, err
		} else if ok {
			return resp, nil
		}
	}
}

func requestPath(dir, requestID string) string {
	return filepath.Join(dir, requestID+".request.json")
}

func responsePath(dir, requestID string) string {
	return filepath.Join(dir, requestID+".response.json")
}

// timeNow is a thin seam so tests could inject a clock; kept as a
// direct call for now since no test here needs to control time.
func timeNow() time.Time { return time.Now() }

func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("approval: marshal: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("approval: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("approval: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("approval: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("approval: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("approval: rename temp file: %w", err)
	}
	return nil
}
