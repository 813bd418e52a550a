// Package http wires the gin router: the WebSocket endpoint, the file
// upload/download endpoints and the static client bundle.
package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"keyroom/internal/adapters/ws"
	"keyroom/internal/app"
	"keyroom/internal/config"
	"keyroom/internal/transport"
)

type Deps struct {
	Rooms    *app.RoomRegistry
	Binder   *app.SessionBinder
	Presence *app.Presence
	Gate     *app.FileGate
	Hub      *transport.Hub
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	ctl := &ws.Controller{
		Rooms:     deps.Rooms,
		Binder:    deps.Binder,
		Presence:  deps.Presence,
		Hub:       deps.Hub,
		ReadLimit: cfg.ReadLimit,
	}
	fh := &FileHandler{Gate: deps.Gate}

	api := r.Group("/api")
	api.GET("/ws", func(c *gin.Context) {
		ctl.Handle(ctx, c)
	})
	api.POST("/upload/:key/:uid/:fileId", fh.Upload)
	api.GET("/download/:key/:uid/:fileId", fh.Download)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
