package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicebridge/internal/adapters/signal"
	"github.com/dkeye/voicebridge/internal/app/orch"
	"github.com/dkeye/voicebridge/internal/config"
	api "github.com/dkeye/voicebridge/internal/transport/http"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	secret := cfg.Secret
	if secret == "" {
		// Sessions do not survive a restart without a configured secret.
		secret = uuid.NewString()
		log.Warn().Str("module", "adapters.http").Msg("no secret configured, using an ephemeral session key")
	}
	store := cookie.NewStore([]byte(secret))
	r.Use(sessions.Sessions("VoiceBridgeSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	limiter := signal.NewRateLimiter(cfg.API.RateLimit, cfg.API.RateInterval)
	group := r.Group("/api")
	api.NewHandlers(o).Register(group, limiter.Middleware())

	events := signal.NewEventWSController(o)
	group.GET("/ws/events", func(c *gin.Context) {
		events.HandleEvents(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Int("rate_limit", cfg.API.RateLimit).Msg("router setup")
	return r
}
