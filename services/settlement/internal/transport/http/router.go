package http

import (
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sakashimaa/go-auction/pkg/config"
	"github.com/sakashimaa/go-auction/pkg/metrics"
	"github.com/sakashimaa/go-auction/services/settlement/internal/transport/http/handler"
)

func NewApp(cfg config.HTTP, limits config.Limiter) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	app.Use(otelfiber.Middleware())

	// manual triggers only; the scheduler does not go through HTTP
	app.Use("/internal/settlements", limiter.New(limiter.Config{
		Max:        limits.Max,
		Expiration: limits.Expiration,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Try again later.",
			})
		},
	}))

	return app
}

func RegisterRoutes(app *fiber.App, h *handler.SettlementHandler, reg *prometheus.Registry) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().UTC()})
	})
	app.Get("/metrics", metrics.Handler(reg))

	internal := app.Group("/internal")
	internal.Post("/settlements/collect", h.Collect)
	internal.Post("/settlements/complete", h.Complete)
	internal.Get("/payees/:id/settlement", h.OpenSettlement)
}
