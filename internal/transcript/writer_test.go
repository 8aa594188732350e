package transcript

import (
	"os"
	"testing"

	"github.com/leolilley/ryeos/internal/trust"
	"github.com/leolilley/ryeos/pkg/models"
)

func newTestSigner(t *testing.T) *trust.Signer {
	t.Helper()
	store := trust.NewStore([]trust.Tier{{Name: "user", Path: t.TempDir(), Mutable: true}})
	pub, priv, err := trust.GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	signer, err := trust.NewSigner(priv, pub, store)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return signer
}

func TestAppendAndCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	signer := newTestSigner(t)

	w, err := Open(dir, "thread-1", signer)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	if err := w.Append(models.EventThreadStart, map[string]string{"directive": "example"}); err != nil {
		t.Fatalf("append thread_start: %v", err)
	}
	if err := w.Append(models.EventUserMessage, map[string]string{"text": "hello"}); err != nil {
		t.Fatalf("append user_message: %v", err)
	}
	if _, err := w.Checkpoint(1); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if err := w.Append(models.EventStepFinish, map[string]int{"turn": 1}); err != nil {
		t.Fatalf("append step_finish: %v", err)
	}

	res, err := Verify(dir, signer, true)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid transcript, got %+v", res)
	}
	if res.CheckpointsChecked != 1 {
		t.Fatalf("expected 1 checkpoint, got %d", res.CheckpointsChecked)
	}
	if res.TrailingUnsigned == 0 {
		t.Fatalf("expected trailing unsigned bytes after the step_finish event")
	}
}

func TestVerifyRejectsTrailingByDefault(t *testing.T) {
	dir := t.TempDir()
	signer := newTestSigner(t)

	w, err := Open(dir, "thread-1", signer)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	_ = w.Append(models.EventThreadStart, map[string]string{"directive": "example"})
	if _, err := w.Checkpoint(1); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	_ = w.Append(models.EventStepFinish, map[string]int{"turn": 1})

	res, err := Verify(dir, signer, false)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Valid {
		t.Fatalf("expected unsigned trailing bytes to fail verification by default")
	}
}

func TestVerifyDetectsTamperedPrefix(t *testing.T) {
	dir := t.TempDir()
	signer := newTestSigner(t)

	w, err := Open(dir, "thread-1", signer)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	_ = w.Append(models.EventThreadStart, map[string]string{"directive": "example"})
	if _, err := w.Checkpoint(1); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	w.Close()

	path := dir + "/transcript.jsonl"
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	// flip a byte inside the signed prefix (first event line)
	data[2] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("rewrite transcript: %v", err)
	}

	res, err := Verify(dir, signer, true)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Valid {
		t.Fatalf("expected tampered prefix to fail verification")
	}
}

func TestThreadMetadataAndStateAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	meta := &models.ThreadMetadata{ThreadID: "t1", Directive: "example", Status: models.ThreadRunning}
	if err := WriteThreadMetadata(dir, meta); err != nil {
		t.Fatalf("write thread metadata: %v", err)
	}
	got, err := ReadThreadMetadata(dir)
	if err != nil {
		t.Fatalf("read thread metadata: %v", err)
	}
	if got.ThreadID != "t1" || got.Status != models.ThreadRunning {
		t.Fatalf("unexpected metadata: %+v", got)
	}

	state := &models.HarnessState{ThreadID: "t1", Capabilities: []string{"rye.execute.tool.fs"}}
	if err := WriteState(dir, state); err != nil {
		t.Fatalf("write state: %v", err)
	}
	gotState, err := ReadState(dir)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if gotState.ThreadID != "t1" || len(gotState.Capabilities) != 1 {
		t.Fatalf("unexpected state: %+v", gotState)
	}
}
