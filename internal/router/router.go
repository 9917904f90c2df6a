package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/karyadesign/karya-api/internal/config"
	"github.com/karyadesign/karya-api/internal/handler"
	"github.com/karyadesign/karya-api/internal/middleware"
	"github.com/karyadesign/karya-api/internal/models"
	"github.com/karyadesign/karya-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	OrderHandler        *handler.OrderHandler
	ChatHandler         *handler.ChatHandler
	NotificationHandler *handler.NotificationHandler
	UploadHandler       *handler.UploadHandler
	SyncHandler         *handler.SyncHandler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	staffOnly := middleware.RequireRole(models.RoleDesigner, models.RoleAdmin)

	// Design orders
	if deps.OrderHandler != nil {
		orders := app.Group("/api/v2/orders", jwtMiddleware)
		deps.OrderHandler.Register(orders, staffOnly)
	}

	// Order chat (websocket, history, attachments)
	if deps.ChatHandler != nil {
		chat := app.Group("/api/v2/chat", jwtMiddleware)
		deps.ChatHandler.Register(chat)

		if deps.UploadHandler != nil {
			deps.UploadHandler.Register(chat)
		}
	}

	// Notifications (list, SSE stream, mark read)
	if deps.NotificationHandler != nil {
		notifications := app.Group("/api/v2/notifications", jwtMiddleware)
		deps.NotificationHandler.Register(notifications)
	}

	// Live sync sessions
	if deps.SyncHandler != nil {
		sync := app.Group("/api/v2/sync", jwtMiddleware)
		deps.SyncHandler.Register(sync)
	}
}
