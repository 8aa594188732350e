// Package transcript implements the append-only JSONL event log and
// harness-state snapshot of spec.md §4.9: transcript.jsonl plus
// state.json, both rewritten via temp-file-then-rename for atomicity,
// with checkpoint events signing the file's byte-range prefix at every
// turn boundary. Grounded on the teacher's internal/agent/trace.go
// (JSONL-per-line writer, flush-then-sync discipline) generalized from
// a flat AgentEvent stream to the typed, checkpoint-signed transcript
// this spec requires.
package transcript

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/leolilley/ryeos/internal/trust"
	"github.com/leolilley/ryeos/pkg/models"
)

// Writer appends transcript events for a single thread and signs
// checkpoints at turn boundaries.
type Writer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	offset   int64
	threadID string
	signer   *trust.Signer
}

// Open opens (creating if necessary) transcript.jsonl under dir for
// threadID, appending to any existing content.
func Open(dir, threadID string, signer *trust.Signer) (*Writer, error) {
	path := filepath.Join(dir, "transcript.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("transcript: open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("transcript: stat: %w", err)
	}
	return &Writer{path: path, file: f, offset: info.Size(), threadID: threadID, signer: signer}, nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ByteOffset returns the current file length.
func (w *Writer) ByteOffset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// Append writes one event as a JSONL line and fsyncs for crash safety.
func (w *Writer) Append(eventType models.TranscriptEventType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transcript: marshal payload: %w", err)
	}
	ev := models.TranscriptEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ThreadID:  w.threadID,
		EventType: eventType,
		Payload:   raw,
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("transcript: marshal event: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.file.Write(line)
	if err != nil {
		return fmt.Errorf("transcript: write: %w", err)
	}
	w.offset += int64(n)
	return w.file.Sync()
}

// Checkpoint signs the file's byte range [0, current_offset) and
// appends a checkpoint event carrying the hash and signature. Per
// spec.md §4.9, byte_offset is the length the transcript had *before*
// the checkpoint line itself is written.
func (w *Writer) Checkpoint(turn int) (*models.CheckpointPayload, error) {
	w.mu.Lock()
	offset := w.offset
	w.mu.Unlock()

	prefix, err := w.readPrefix(offset)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(prefix)
	sigB64, fp := w.signer.SignHash(hash)

	payload := &models.CheckpointPayload{
		Turn:        turn,
		ByteOffset:  offset,
		Hash:        hex.EncodeToString(hash[:]),
		Signature:   sigB64,
		Fingerprint: fp,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := w.Append(models.EventCheckpoint, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (w *Writer) readPrefix(offset int64) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fmt.Errorf("transcript: reopen for checkpoint: %w", err)
	}
	defer f.Close()
	buf := make([]byte, offset)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("transcript: read prefix: %w", err)
	}
	return buf, nil
}

// WriteState atomically rewrites state.json via temp-file-then-rename.
func WriteState(dir string, state *models.HarnessState) error {
	return atomicWriteJSON(filepath.Join(dir, "state.json"), state)
}

// ReadState reads state.json, if present.
func ReadState(dir string) (*models.HarnessState, error) {
	data, err := os.ReadFile(filepath.Join(dir, "state.json"))
	if err != nil {
		return nil, fmt.Errorf("transcript: read state: %w", err)
	}
	var state models.HarnessState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("transcript: unmarshal state: %w", err)
	}
	return &state, nil
}

// WriteThreadMetadata atomically rewrites thread.json.
func WriteThreadMetadata(dir string, meta *models.ThreadMetadata) error {
	return atomicWriteJSON(filepath.Join(dir, "thread.json"), meta)
}

// ReadThreadMetadata reads thread.json.
func ReadThreadMetadata(dir string) (*models.ThreadMetadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, "thread.json"))
	if err != nil {
		return nil, fmt.Errorf("transcript: read thread metadata: %w", err)
	}
	var meta models.ThreadMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("transcript: unmarshal thread metadata: %w", err)
	}
	return &meta, nil
}

func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("transcript: marshal: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("transcript: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("transcript: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("transcript: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("transcript: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("transcript: rename temp file: %w", err)
	}
	return nil
}
