package ws

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/codecollab/collabd/internal/core"
	"github.com/codecollab/collabd/internal/domain"
)

// handleEvent dispatches one JSON control frame from a client.
func (ctl *Controller) handleEvent(
	roomID domain.RoomID,
	sid core.SessionID,
	user *domain.User,
	c *Conn,
	data []byte,
) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "ws").Str("sid", string(sid)).Msg("bad json frame")
		return
	}

	switch env.Type {
	case "chat:send":
		ctl.handleChatSend(roomID, user, c, data)
	case "ping":
		ctl.sendJSON(c, map[string]any{"type": "pong"})
	default:
		log.Warn().Str("module", "ws").Str("type", env.Type).Msg("unknown event")
	}
}

func (ctl *Controller) handleChatSend(roomID domain.RoomID, user *domain.User, c *Conn, data []byte) {
	var p struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Text == "" {
		ctl.sendJSON(c, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}
	if err := ctl.Chat.Send(context.Background(), roomID, user.ID, p.Text); err != nil {
		log.Error().Err(err).Str("module", "ws").Str("room", string(roomID)).Msg("chat send")
		ctl.sendJSON(c, map[string]any{"type": "error", "error": "chat_failed"})
	}
}

func (ctl *Controller) sendJSON(c *Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
