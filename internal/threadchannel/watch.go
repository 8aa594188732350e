package threadchannel

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leolilley/ryeos/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WatchHandler returns an http.HandlerFunc serving a live-tail websocket
// feed of a channel's merged transcript under threadsDir: on connect it
// sends every message already on disk, then polls for newly appended
// messages at pollInterval and pushes each as it appears. The channel
// id is read from the "channel" query parameter. The filesystem remains
// authoritative for channel.json/transcript.jsonl; this handler is a
// read-only convenience view, never a second writer.
func WatchHandler(threadsDir string, pollInterval time.Duration) http.HandlerFunc {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	log := slog.Default().With("component", "threadchannel.watch")

	return func(w http.ResponseWriter, r *http.Request) {
		channelID := r.URL.Query().Get("channel")
		if channelID == "" {
			http.Error(w, "missing channel query parameter", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		if err := tailChannel(r.Context(), conn, threadsDir, channelID, pollInterval); err != nil {
			log.Debug("tail ended", "channel_id", channelID, "error", err)
		}
	}
}

// tailChannel sends channelID's transcript once, then polls for
// newly-appended messages every pollInterval until ctx is cancelled or a
// websocket write fails.
func tailChannel(ctx context.Context, conn *websocket.Conn, threadsDir, channelID string, pollInterval time.Duration) error {
	sent := 0
	send := func(msgs []models.ChannelMessage) error {
		for _, m := range msgs[sent:] {
			if err := conn.WriteJSON(m); err != nil {
				return err
			}
		}
		sent = len(msgs)
		return nil
	}

	msgs, err := ReadTranscript(threadsDir, channelID)
	if err != nil {
		return err
	}
	if err := send(msgs); err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			msgs, err := ReadTranscript(threadsDir, channelID)
			if err != nil {
				return err
			}
			if err := send(msgs); err != nil {
				return err
			}
		}
	}
}
