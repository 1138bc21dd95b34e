package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"basetip/sync"
)

const wsWriteTimeout = 10 * time.Second

type updatePayload struct {
	View    string       `json:"view"`
	Creator *creatorView `json:"creator,omitempty"`
}

// handleUpdates streams invalidation notices to the client until either side
// closes the connection.
func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	bus := s.reads.Bus()
	if bus == nil {
		http.Error(w, "updates unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	if err := s.streamUpdates(r.Context(), conn, bus); err != nil {
		if websocket.CloseStatus(err) == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamUpdates(ctx context.Context, conn *websocket.Conn, bus *sync.Bus) error {
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notice, ok := <-sub:
			if !ok {
				return nil
			}
			if err := writeNotice(ctx, conn, notice); err != nil {
				return err
			}
		}
	}
}

func writeNotice(ctx context.Context, conn *websocket.Conn, notice sync.Notice) error {
	payload := updatePayload{View: string(notice.View)}
	if notice.Creator != nil {
		view := viewOf(*notice.Creator)
		payload.Creator = &view
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
