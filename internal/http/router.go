package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gate-service/internal/config"
	"gate-service/internal/pubsub"
	"gate-service/internal/service"
)

// Deps is everything the router needs to mount its routes.
type Deps struct {
	Detection *service.DetectionService
	Gate      *service.GateMachine
	Frames    *service.FrameRelay
	Events    GateEventLister
	Admin     *service.AdminService
	Auth      *service.AuthService
	Hub       *pubsub.Hub
}

const loginRatePerMinute = 10

func NewRouter(cfg *config.Config, deps Deps, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.With().Str("component", "http").Logger()))
	r.Use(cors.New(corsConfig(cfg.HTTP.CORSOrigins)))
	r.MaxMultipartMemory = cfg.Frames.MaxBytes + cfg.OCR.MaxImageBytes

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"in_flight":  deps.Detection.InFlight(),
			"ws_clients": deps.Hub.ClientCount(),
		})
	})
	r.GET("/ws", func(c *gin.Context) {
		deps.Hub.ServeWS(c.Writer, c.Request)
	})

	handler := NewHandler(deps.Detection, deps.Gate, deps.Frames, deps.Events, UploadLimits{
		DetectBytes: cfg.OCR.MaxImageBytes,
		FrameBytes:  cfg.Frames.MaxBytes,
	}, log.With().Str("component", "gate_http").Logger())
	handler.Register(r, RateLimit(cfg.Frames.UploadRatePerMinute, time.Minute))

	var protected gin.HandlerFunc = noop
	if cfg.Auth.Enabled {
		protected = AuthMiddleware(deps.Auth)
	}
	adminHandler := NewAdminHandler(deps.Admin, deps.Auth, log)
	adminHandler.Register(r, protected, RateLimit(loginRatePerMinute, time.Minute))

	return r
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cc
}
