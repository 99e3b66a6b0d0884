package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/engram/pkg/model"
	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/turn"
)

// ErrorResponse is the JSON body returned on request failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StartSessionRequest opens a session for a user.
type StartSessionRequest struct {
	UserID string `json:"user_id"`
}

// ProcessTurnRequest submits a new user message to a session.
type ProcessTurnRequest struct {
	Text string `json:"text"`
}

// PreviewRequest asks what memory would be retrieved for a message.
type PreviewRequest struct {
	Text string `json:"text"`
}

// SetTierRequest administratively moves a turn between tiers.
type SetTierRequest struct {
	Tier   string `json:"tier"`
	Reason string `json:"reason"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

func (s *Server) handleStartSession(c *fiber.Ctx) error {
	var req StartSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "user_id required"})
	}

	sess, err := s.engine.StartSession(c.Context(), req.UserID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sess)
}

func (s *Server) handleProcessTurn(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	var req ProcessTurnRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "text required"})
	}

	resp, err := s.engine.ProcessTurn(c.Context(), sessionID, req.Text)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(resp)
}

func (s *Server) handleEndSession(c *fiber.Ctx) error {
	sess, err := s.engine.EndSession(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(sess)
}

func (s *Server) handlePreviewBundle(c *fiber.Ctx) error {
	var req PreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "text required"})
	}

	result, err := s.engine.PreviewBundle(c.Context(), c.Params("id"), req.Text)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(result)
}

func (s *Server) handleSearch(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "q parameter required"})
	}

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "limit must be a positive integer"})
		}
		limit = n
	}

	results, err := s.engine.Search(c.Context(), c.Params("id"), query, limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(results)
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.engine.Stats(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(stats)
}

func (s *Server) handleGetTransitions(c *fiber.Ctx) error {
	transitions, err := s.engine.Transitions(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(map[string]any{
		"count":       len(transitions),
		"transitions": transitions,
	})
}

func (s *Server) handleSetTier(c *fiber.Ctx) error {
	var req SetTierRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	to := turn.Tier(req.Tier)
	if !to.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "tier must be hot, warm, or cold"})
	}
	if req.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "reason required"})
	}

	tr, err := s.engine.SetTier(c.Context(), c.Params("id"), to, req.Reason)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(tr)
}

func (s *Server) handleReindex(c *fiber.Ctx) error {
	n, err := s.engine.RebuildIndex(c.Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(map[string]any{"documents": n})
}

// fail maps engine errors onto HTTP statuses.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	switch {
	case storage.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrSessionBusy):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrSessionEnded), errors.Is(err, storage.ErrActiveSessionExists):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
	}

	var provErr *model.ProviderError
	if errors.As(err, &provErr) {
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: err.Error()})
	}

	s.logger.Error("request failed", "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "internal error"})
}
