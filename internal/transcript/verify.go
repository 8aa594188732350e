package transcript

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/leolilley/ryeos/internal/trust"
	"github.com/leolilley/ryeos/pkg/models"
)

// VerifyResult is the outcome of walking a transcript's checkpoints.
type VerifyResult struct {
	Valid              bool
	CheckpointsChecked int
	FailedAtOffset     int64
	TrailingUnsigned   int64
}

// Verify walks transcript.jsonl under dir in order, recomputing the
// SHA-256 of bytes [0, byte_offset) at each checkpoint event and
// checking its signature against the trust store. By default, any
// unsigned bytes trailing the last checkpoint fail verification;
// allowUnsignedTrailing permits them, for resuming a paused
// conversation thread mid-turn.
func Verify(dir string, signer *trust.Signer, allowUnsignedTrailing bool) (*VerifyResult, error) {
	path := dir + "/transcript.jsonl"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: read for verify: %w", err)
	}

	res := &VerifyResult{Valid: true}
	var lastOffset int64
	var sawCheckpoint bool

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: reopen for verify: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		var ev models.TranscriptEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("transcript: parse event: %w", err)
		}
		if ev.EventType != models.EventCheckpoint {
			continue
		}
		var cp models.CheckpointPayload
		if err := json.Unmarshal(ev.Payload, &cp); err != nil {
			return nil, fmt.Errorf("transcript: parse checkpoint payload: %w", err)
		}
		sawCheckpoint = true
		res.CheckpointsChecked++

		if cp.ByteOffset > int64(len(data)) {
			res.Valid = false
			res.FailedAtOffset = cp.ByteOffset
			return res, nil
		}
		prefix := data[:cp.ByteOffset]
		hash := sha256.Sum256(prefix)
		if hex.EncodeToString(hash[:]) != cp.Hash {
			res.Valid = false
			res.FailedAtOffset = cp.ByteOffset
			return res, nil
		}
		verifyRes := signer.VerifyHash(hash, cp.Signature, cp.Fingerprint)
		if !verifyRes.Valid {
			res.Valid = false
			res.FailedAtOffset = cp.ByteOffset
			return res, nil
		}
		lastOffset = cp.ByteOffset
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("transcript: scan: %w", err)
	}

	trailing := int64(len(data)) - lastOffset
	if sawCheckpoint && trailing > 0 {
		res.TrailingUnsigned = trailing
		if !allowUnsignedTrailing {
			res.Valid = false
		}
	}
	return res, nil
}

// ReadEvents reads every event line from transcript.jsonl under dir.
func ReadEvents(dir string) ([]models.TranscriptEvent, error) {
	f, err := os.Open(dir + "/transcript.jsonl")
	if err != nil {
		return nil, fmt.Errorf("transcript: open for read: %w", err)
	}
	defer f.Close()

	var events []models.TranscriptEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var ev models.TranscriptEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("transcript: parse event: %w", err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("transcript: scan: %w", err)
	}
	return events, nil
}
