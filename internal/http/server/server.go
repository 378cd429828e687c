// Package server assembles the fiber application.
package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/redis/go-redis/v9"

	"snapshift/internal/config"
	"snapshift/internal/http/handlers"
	"snapshift/internal/http/middleware"
	"snapshift/internal/infra/logging"
	"snapshift/internal/infra/tokens"
)

// Deps are the collaborators of the app. Redis and Tokens may be nil.
type Deps struct {
	Config config.Config
	Redis  *redis.Client
	Tokens *tokens.Store
}

// New creates the app with middleware and routes.
func New(d Deps) *fiber.App {
	cfg := d.Config
	app := fiber.New(fiber.Config{
		AppName:               "snapshift",
		BodyLimit:             cfg.Limits.MaxUploadBytes,
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	middleware.Register(app, cfg, d.Tokens)
	registerRoutes(app, cfg, d.Redis)

	app.Use(func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})
	return app
}

// errorHandler writes every error as plain text.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		logging.Error("Unhandled error", "path", c.Path(), "error", err)
	}

	if code >= fiber.StatusInternalServerError {
		logging.Error("Request failed", "path", c.Path(), "status", code, "message", msg)
	} else {
		logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(code).SendString(msg)
}

func registerRoutes(app *fiber.App, cfg config.Config, rdb *redis.Client) {
	h := handlers.NewConvertHandler(cfg, rdb)

	api := app.Group("/api")
	conv := api.Group("/convert")
	conv.Post("/image", h.HandleImage)
	conv.Post("/image-to-pdf", h.HandleImageToPDF)
	conv.Post("/pdf-to-image", h.HandlePDFToImage)
	conv.Get("/formats", h.HandleFormats)

	api.Get("/monitor", monitor.New(monitor.Config{Title: "snapshift"}))
}
