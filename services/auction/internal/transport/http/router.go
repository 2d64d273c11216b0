package http

import (
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sakashimaa/go-auction/pkg/config"
	"github.com/sakashimaa/go-auction/pkg/metrics"
	"github.com/sakashimaa/go-auction/services/auction/internal/transport/http/handler"
	"github.com/sakashimaa/go-auction/services/auction/internal/transport/http/middleware"
)

type Handlers struct {
	Auction *handler.AuctionHandler
	Bid     *handler.BidHandler
}

func NewApp(cfg config.HTTP, limits config.Limiter) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	app.Use(otelfiber.Middleware())

	app.Use(limiter.New(limiter.Config{
		Max:        limits.Max,
		Expiration: limits.Expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := c.Get(middleware.UserIDHeader); id != "" {
				return id
			}
			return c.IP()
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health" || c.Path() == "/metrics"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Try again later.",
			})
		},
	}))

	return app
}

func RegisterRoutes(app *fiber.App, h *Handlers, reg *prometheus.Registry) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().UTC()})
	})
	app.Get("/metrics", metrics.Handler(reg))

	internal := app.Group("/internal")
	internal.Post("/auctions/:id/start", h.Auction.Start)
	internal.Post("/auctions/:id/close", h.Auction.Close)

	api := app.Group("/api", middleware.NewIdentityMiddleware())

	auctions := api.Group("/auctions")
	auctions.Post("", h.Auction.Create)
	auctions.Get("/:id", h.Auction.Get)
	auctions.Delete("/:id", h.Auction.Cancel)
	auctions.Post("/:id/bids", h.Bid.Place)
	auctions.Post("/:id/buy-now", h.Auction.BuyNow)
	auctions.Post("/:id/watch", h.Auction.Watch)
	auctions.Delete("/:id/watch", h.Auction.Unwatch)

	bids := api.Group("/bids")
	bids.Delete("/:id", h.Bid.Cancel)
}
