package threadchannel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/leolilley/ryeos/pkg/models"
)

// ErrNotMember is returned when a thread not listed in the channel's
// members attempts to write to it.
var ErrNotMember = fmt.Errorf("threadchannel: thread is not a channel member")

// ErrNotTurnHolder is returned when a round-robin channel's write
// comes from a thread other than the current turn holder.
var ErrNotTurnHolder = fmt.Errorf("threadchannel: thread does not hold the current turn")

const lockTimeout = 5 * time.Second

// dirFor returns a channel's directory under threadsDir.
func dirFor(threadsDir, channelID string) string {
	return filepath.Join(threadsDir, channelID)
}

func statePath(dir string) string      { return filepath.Join(dir, "channel.json") }
func transcriptPath(dir string) string { return filepath.Join(dir, "transcript.jsonl") }

// Create establishes a new channel directory and its initial state.
// turnOrder is required for round-robin protocols; its first element
// becomes current_turn.
func Create(threadsDir, channelID string, members []models.ChannelMember, protocol models.TurnProtocol, turnOrder []string) (*models.Channel, error) {
	dir := dirFor(threadsDir, channelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("threadchannel: create channel dir: %w", err)
	}

	ch := &models.Channel{
		ChannelID:    channelID,
		Members:      members,
		TurnProtocol: protocol,
		TurnOrder:    turnOrder,
	}
	if protocol == models.TurnRoundRobin && len(turnOrder) > 0 {
		ch.CurrentTurn = turnOrder[0]
	}
	if err := atomicWriteJSON(statePath(dir), ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// Load reads a channel's persisted state.
func Load(threadsDir, channelID string) (*models.Channel, error) {
	data, err := os.ReadFile(statePath(dirFor(threadsDir, channelID)))
	if err != nil {
		return nil, fmt.Errorf("threadchannel: read channel state: %w", err)
	}
	var ch models.Channel
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("threadchannel: unmarshal channel state: %w", err)
	}
	return &ch, nil
}

// WriteToChannel checks originThreadID's write permission against the
// channel's turn protocol, appends message to the merged transcript,
// and — for round-robin channels — advances current_turn to the next
// member and increments turn_count. The whole read-check-append-write
// cycle is serialized across sibling threads (separate processes) via
// an exclusive lock on the channel directory, since the filesystem is
// the only coordination mechanism available.
func WriteToChannel(threadsDir, channelID, originThreadID, message string) error {
	dir := dirFor(threadsDir, channelID)

	lock, err := acquireLock(dir, lockTimeout)
	if err != nil {
		return err
	}
	defer lock.release()

	ch, err := Load(threadsDir, channelID)
	if err != nil {
		return err
	}

	if !isMember(ch, originThreadID) {
		return ErrNotMember
	}
	if ch.TurnProtocol == models.TurnRoundRobin && ch.CurrentTurn != originThreadID {
		return ErrNotTurnHolder
	}

	msg := models.ChannelMessage{
		ChannelID: channelID,
		Origin:    originThreadID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if err := appendJSONL(transcriptPath(dir), msg); err != nil {
		return err
	}

	if ch.TurnProtocol == models.TurnRoundRobin {
		ch.CurrentTurn = nextTurn(ch.TurnOrder, ch.CurrentTurn)
		ch.TurnCount++
	}
	return atomicWriteJSON(statePath(dir), ch)
}

func isMember(ch *models.Channel, threadID string) bool {
	for _, m := range ch.Members {
		if m.ThreadID == threadID {
			return true
		}
	}
	return false
}

// nextTurn cycles turnOrder past current, wrapping to the front.
func nextTurn(turnOrder []string, current string) string {
	if len(turnOrder) == 0 {
		return current
	}
	for i, id := range turnOrder {
		if id == current {
			return turnOrder[(i+1)%len(turnOrder)]
		}
	}
	return turnOrder[0]
}

// ReadTranscript reads every merged message from a channel's
// transcript.jsonl in append order.
func ReadTranscript(threadsDir, channelID string) ([]models.ChannelMessage, error) {
	data, err := os.ReadFile(transcriptPath(dirFor(threadsDir, channelID)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("threadchannel: read transcript: %w", err)
	}
	var messages []models.ChannelMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var msg models.ChannelMessage
		if err := dec.Decode(&msg); err != nil {
			return nil, fmt.Errorf("threadchannel: decode transcript entry: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func appendJSONL(path string, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("threadchannel: marshal message: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("threadchannel: open transcript: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("threadchannel: write transcript: %w", err)
	}
	return f.Sync()
}

func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("threadchannel: marshal: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("threadchannel: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("threadchannel: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("threadchannel: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("threadchannel: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("threadchannel: rename temp file: %w", err)
	}
	return nil
}
