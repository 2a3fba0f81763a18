// Package ws is the realtime transport: it upgrades /sync connections,
// attaches them to the room document, and runs the read/write pumps. Binary
// frames carry the CRDT sync protocol; text frames carry JSON control events.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/codecollab/collabd/internal/app"
	"github.com/codecollab/collabd/internal/config"
	"github.com/codecollab/collabd/internal/core"
	"github.com/codecollab/collabd/internal/domain"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Controller struct {
	Gate      *app.Gate
	Lifecycle *app.Lifecycle
	Presence  *app.Presence
	Chat      *app.Chat
	Cfg       *config.Config
}

// HandleSync authorizes and upgrades one /sync/:roomId connection. The gate
// runs before the upgrade so rejects are plain HTTP statuses; once the
// socket is open the session is trusted until it closes.
func (ctl *Controller) HandleSync(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Param("roomId"))
	token := c.Query("token")

	user, err := ctl.Gate.Authorize(c.Request.Context(), roomID, token)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, app.ErrForbidden) {
			status = http.StatusForbidden
		}
		c.AbortWithStatus(status)
		return
	}

	wsc, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Str("room", string(roomID)).Msg("upgrade failed")
		return
	}

	sid := core.SessionID(uuid.NewString())
	conn := newConn(wsc, ctl.Cfg.SendBuffer)

	doc := ctl.Lifecycle.Attach(c.Request.Context(), roomID, sid, conn)
	ss := doc.NewSyncState()
	unsubscribe := doc.OnUpdate(conn.WakeSync)

	ctl.Presence.Join(c.Request.Context(), roomID, user)
	log.Info().Str("module", "ws").Str("room", string(roomID)).Str("sid", string(sid)).Str("user", string(user.ID)).Msg("session open")

	// Kick the writer so the peer gets its first sync message immediately.
	conn.WakeSync()

	go ctl.writePump(ctx, conn, doc, ss)
	go ctl.readPump(ctx, conn, doc, ss, roomID, sid, user, unsubscribe)
}
