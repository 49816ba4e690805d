package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/store-agent/backend/internal/api/handlers"
	"github.com/store-agent/backend/internal/metrics"
	"github.com/store-agent/backend/internal/middleware/ratelimit"
	"github.com/store-agent/backend/internal/middleware/security"
	"github.com/store-agent/backend/internal/middleware/validation"
	"github.com/store-agent/backend/pkg/config"
	"github.com/store-agent/backend/pkg/logger"
)

type Deps struct {
	Engine    handlers.Asker
	Threshold handlers.ThresholdSetting
	History   handlers.HistoryStore
	Documents handlers.DocumentIngester
	Checks    map[string]handlers.Check
}

type Server struct {
	App     *fiber.App
	limiter *ratelimit.RateLimiter
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:                cfg.RateLimit.Burst,
		Logger:               logger.GetLogger(),
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Store-ID, " + handlers.AdminTokenHeader,
		AllowMethods: "GET, POST, PUT, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: strings.Split(cfg.Server.AllowedOrigins, ","),
		IsDevelopment:  cfg.Server.Development,
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	inquiryHandler := handlers.NewInquiryHandler(deps.Engine, deps.History, nil)
	documentHandler := handlers.NewDocumentHandler(deps.Documents)
	settingsHandler := handlers.NewSettingsHandler(deps.Threshold, cfg.Server.AdminToken)
	healthHandler := handlers.NewHealthHandler(deps.Checks, 0, nil)
	wsHandler := handlers.NewWebSocketHandler(deps.Engine, handlers.WebSocketConfig{
		Timeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		Limiter: limiter,
	})

	api := app.Group("/api/v1")
	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	limited := api.Group("", limiter.Middleware(), validation.Middleware(validation.Config{
		Logger: logger.GetLogger(),
	}))
	limited.Post("/inquiry/ask", inquiryHandler.Ask)
	limited.Get("/inquiry/history/:store_id", inquiryHandler.History)
	limited.Post("/inquiry/:id/feedback", inquiryHandler.Feedback)
	limited.Post("/documents", documentHandler.UploadDocument)
	limited.Get("/settings/threshold", settingsHandler.GetThreshold)
	limited.Put("/settings/threshold", settingsHandler.UpdateThreshold)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals(handlers.LocalClientIP, c.IP())
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.HandleConnection))

	return &Server{App: app, limiter: limiter}
}

func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones up to timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	defer s.limiter.Stop()
	return s.App.ShutdownWithTimeout(timeout)
}
