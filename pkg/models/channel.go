package models

import "time"

// TurnProtocol governs who may write_to_channel at any given moment.
type TurnProtocol string

const (
	TurnRoundRobin TurnProtocol = "round_robin"
	TurnOnDemand   TurnProtocol = "on_demand"
)

// ChannelMember is one participant thread in a channel.
type ChannelMember struct {
	ThreadID  string `json:"thread_id"`
	Directive string `json:"directive"`
}

// Channel is the persisted state of a thread channel (spec.md §4.13),
// serialized to {channel_id}/channel.json.
type Channel struct {
	ChannelID    string          `json:"channel_id"`
	Members      []ChannelMember `json:"members"`
	TurnProtocol TurnProtocol    `json:"turn_protocol"`
	TurnOrder    []string        `json:"turn_order"`
	CurrentTurn  string          `json:"current_turn"`
	TurnCount    int             `json:"turn_count"`
}

// ChannelMessage is one entry in a channel's merged transcript.jsonl.
type ChannelMessage struct {
	ChannelID string    `json:"channel_id"`
	Origin    string    `json:"origin_thread_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
