package approval

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRequestApprovalWritesRequestFile(t *testing.T) {
	dir := t.TempDir()
	req, err := RequestApproval(dir, "t1", "Proceed?", 2)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	if req.ThreadID != "t1" || req.Prompt != "Proceed?" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if _, ok, err := PollApproval(dir, req.RequestID); err != nil {
		t.Fatalf("PollApproval: %v", err)
	} else if ok {
		t.Fatalf("expected no response yet")
	}
}

func TestPollApprovalNotReadyThenReady(t *testing.T) {
	dir := t.TempDir()
	req, err := RequestApproval(dir, "t1", "Proceed?", 5)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	if _, ok, _ := PollApproval(dir, req.RequestID); ok {
		t.Fatalf("expected not ready")
	}

	if err := WriteApprovalResponse(dir, req.RequestID, true, "ok"); err != nil {
		t.Fatalf("WriteApprovalResponse: %v", err)
	}

	resp, ok, err := PollApproval(dir, req.RequestID)
	if err != nil || !ok {
		t.Fatalf("expected ready response, err=%v ok=%v", err, ok)
	}
	if !resp.Approved || resp.Message != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

// TestWaitForApprovalTimesOut mirrors scenario S7: a request with a
// 2-second timeout and no response raises a timeout within 2-3 seconds.
func TestWaitForApprovalTimesOut(t *testing.T) {
	dir := t.TempDir()
	req, err := RequestApproval(dir, "t1", "Proceed?", 2)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	start := time.Now()
	_, err = WaitForApproval(context.Background(), dir, req.RequestID, 2*time.Second)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed < 2*time.Second || elapsed > 3*time.Second {
		t.Fatalf("expected timeout within 2-3s, took %s", elapsed)
	}
}

// TestWaitForApprovalConcurrentResponse mirrors scenario S7's second
// half: a concurrent write_approval_response unblocks wait_for_approval
// with the decision.
func TestWaitForApprovalConcurrentResponse(t *testing.T) {
	dir := t.TempDir()
	req, err := RequestApproval(dir, "t1", "Proceed?", 5)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = WriteApprovalResponse(dir, req.RequestID, true, "ok")
	}()

	resp, err := WaitForApproval(context.Background(), dir, req.RequestID, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForApproval: %v", err)
	}
	if !resp.Approved || resp.Message != "ok" || resp.RequestID != req.RequestID {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestWaitForApprovalRespectsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	req, err := RequestApproval(dir, "t1", "Proceed?", 30)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = WaitForApproval(ctx, dir, req.RequestID, 30*time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline exceeded, got %v", err)
	}
}
