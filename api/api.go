package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/engram/pkg/engine"
)

// Server is the API server for driving and inspecting the memory engine.
type Server struct {
	config Config
	engine *engine.Engine
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server. The engine is injected to allow
// sharing with other serving surfaces (e.g. the MCP server).
func NewServer(config Config, eng *engine.Engine, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		engine: eng,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	app.Post("/sessions", s.handleStartSession)
	app.Post("/sessions/:id/turns", s.handleProcessTurn)
	app.Post("/sessions/:id/end", s.handleEndSession)
	app.Post("/sessions/:id/preview", s.handlePreviewBundle)
	app.Get("/sessions/:id/search", s.handleSearch)
	app.Get("/sessions/:id/stats", s.handleStats)

	app.Get("/turns/:id/transitions", s.handleGetTransitions)
	app.Put("/turns/:id/tier", s.handleSetTier)

	app.Post("/admin/reindex", s.handleReindex)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
