package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/codecollab/collabd/internal/adapters/ws"
	"github.com/codecollab/collabd/internal/app"
	"github.com/codecollab/collabd/internal/config"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func SetupRouter(
	ctx context.Context,
	cfg *config.Config,
	ctl *ws.Controller,
	lc *app.Lifecycle,
	durable, cache Pinger,
) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	// Document replication endpoint. Other paths are untouched so the API
	// service can share the listener.
	r.GET("/sync/:roomId", func(c *gin.Context) {
		ctl.HandleSync(ctx, c)
	})

	r.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{"postgres": "ok", "redis": "ok"}
		if err := durable.Ping(c.Request.Context()); err != nil {
			body["postgres"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := cache.Ping(c.Request.Context()); err != nil {
			body["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, body)
	})

	r.GET("/api/rooms/active", func(c *gin.Context) {
		c.JSON(http.StatusOK, lc.ActiveRooms())
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
