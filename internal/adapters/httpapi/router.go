package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dchirkin/lessonlive/internal/adapters/ws"
	"github.com/dchirkin/lessonlive/internal/config"
	"github.com/dchirkin/lessonlive/internal/domain"
	"github.com/dchirkin/lessonlive/internal/relay"
)

// ClientTokenMiddleware issues a per-browser token cookie. The live
// channel does not depend on it; it only keeps log lines correlatable.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter wires the HTTP surface: static UI, read-only room
// introspection, prometheus metrics and the live websocket endpoint.
func SetupRouter(ctx context.Context, cfg *config.Config, rel *relay.Relay) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("LessonLiveSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// GET /api/rooms — active rooms and member counts. Read-only: room
	// lifecycle stays implicit in the registry.
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": rel.Registry().List()})
	})

	// GET /api/rooms/:id — occupant snapshot, in arrival order.
	api.GET("/rooms/:id", func(c *gin.Context) {
		id := domain.RoomID(c.Param("id"))
		peers, ok := rel.Registry().Snapshot(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "peers": peers})
	})

	ctl := ws.NewController(rel, cfg.ReadLimit, cfg.PingPeriod,
		ws.NewRateLimiter(cfg.ChatRateLimit, cfg.ChatRateWindow))
	api.GET("/ws/live", func(c *gin.Context) {
		log.Info().Str("module", "httpapi").Str("client_token", c.GetString("client_token")).Msg("live endpoint hit")
		ctl.HandleLive(ctx, c)
	})

	return r
}
