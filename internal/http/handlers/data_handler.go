package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/travelpay/backend/internal/http/dto"
	"github.com/travelpay/backend/internal/oracle"
	"github.com/travelpay/backend/internal/provider"
)

type DataHandler struct {
	cached *provider.Cached
	cbp    *provider.BorderWaitProvider
	signer *oracle.Signer
	log    *zap.Logger
}

func NewDataHandler(cached *provider.Cached, cbp *provider.BorderWaitProvider, signer *oracle.Signer, log *zap.Logger) *DataHandler {
	return &DataHandler{cached: cached, cbp: cbp, signer: signer, log: log}
}

// GetBorderWait answers one paid query. A crossing that does not exist is a
// billable answer; only an unreachable upstream gets the caller refunded,
// which the paywall handles when this returns ErrSourceUnavailable.
func (h *DataHandler) GetBorderWait(c *fiber.Ctx) error {
	crossing := c.Query("crossing")
	if crossing == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:  "missing_parameter",
			Detail: "crossing query parameter is required",
		})
	}

	data, err := h.cached.Fetch(c.Context(), provider.TargetBorderWait, map[string]string{"crossing": crossing})
	if errors.Is(err, provider.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error:  "crossing_not_found",
			Detail: "no crossing matches " + crossing + "; try one of the popular ones",
		})
	}
	if err != nil {
		return err
	}

	env, err := h.signer.Sign(data)
	if err != nil {
		h.log.Error("failed to sign response", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "signing failed"})
	}
	return c.JSON(env)
}

// ListCrossings returns the crossing names currently in the upstream feed.
func (h *DataHandler) ListCrossings(c *fiber.Ctx) error {
	names, err := h.cbp.ListCrossings(c.Context())
	if err != nil {
		return err
	}

	env, err := h.signer.Sign(map[string]any{"crossings": names})
	if err != nil {
		h.log.Error("failed to sign response", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "signing failed"})
	}
	return c.JSON(env)
}

// ListTargets describes what can be subscribed to and which fields
// conditions may reference. Free.
func (h *DataHandler) ListTargets(c *fiber.Ctx) error {
	resp := dto.TargetsResponse{}
	for _, t := range provider.Targets {
		info := dto.TargetInfo{Name: t.Name, Fields: make(map[string]string, len(t.Schema))}
		for field, kind := range t.Schema {
			info.Fields[field] = string(kind)
		}
		resp.Targets = append(resp.Targets, info)
	}
	return c.JSON(resp)
}

// InvalidateCache drops cached border data so the next query refetches.
func (h *DataHandler) InvalidateCache(c *fiber.Ctx) error {
	var req dto.InvalidateCacheRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	removed, err := h.cached.Invalidate(c.Context(), provider.TargetBorderWait, req.Crossing)
	if err != nil {
		h.log.Error("cache invalidation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "cache invalidation failed"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{"removed": removed}})
}

// CacheStats reports cache shape.
func (h *DataHandler) CacheStats(c *fiber.Ctx) error {
	stats, err := h.cached.Stats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "cache stats unavailable"})
	}
	return c.JSON(stats)
}
