package ws

import (
	"context"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/codecollab/collabd/internal/app"
	"github.com/codecollab/collabd/internal/core"
	"github.com/codecollab/collabd/internal/domain"
)

func (ctl *Controller) writePump(ctx context.Context, c *Conn, doc *app.Document, ss *automerge.SyncState) {
	ping := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump text write")
				return
			}
		case <-c.wake:
			// Drain every pending sync message; the wake channel coalesces,
			// so one signal may cover many document updates.
			for {
				msg, ok := doc.GenerateSync(ss)
				if !ok {
					break
				}
				if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					return
				}
				if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
					log.Error().Err(err).Str("module", "ws").Msg("writePump sync write")
					return
				}
			}
		case <-ping.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(
	ctx context.Context,
	c *Conn,
	doc *app.Document,
	ss *automerge.SyncState,
	roomID domain.RoomID,
	sid core.SessionID,
	user *domain.User,
	unsubscribe func(),
) {
	defer func() {
		unsubscribe()
		ctl.Lifecycle.Detach(roomID, sid)
		ctl.Presence.Leave(context.Background(), roomID, user.ID)
		c.Close()
		log.Info().Str("module", "ws").Str("room", string(roomID)).Str("sid", string(sid)).Msg("session closed")
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "ws").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			if err := doc.ReceiveSync(ss, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Str("sid", string(sid)).Msg("bad sync message, closing session")
				return
			}
		case websocket.TextMessage:
			ctl.handleEvent(roomID, sid, user, c, data)
		}
	}
}
