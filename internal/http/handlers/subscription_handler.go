package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/travelpay/backend/internal/http/dto"
	"github.com/travelpay/backend/internal/middleware"
	"github.com/travelpay/backend/internal/oracle"
	"github.com/travelpay/backend/internal/repositories"
	"github.com/travelpay/backend/internal/services"
)

type SubscriptionHandler struct {
	subs   *services.SubscriptionService
	signer *oracle.Signer
	log    *zap.Logger
}

func NewSubscriptionHandler(subs *services.SubscriptionService, signer *oracle.Signer, log *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs, signer: signer, log: log}
}

func (h *SubscriptionHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.Target == "" || req.Condition == "" || req.WebhookURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:  "missing_fields",
			Detail: "target, condition and webhook_url are required",
		})
	}

	var ttl time.Duration
	if req.TTLSeconds != nil {
		ttl = time.Duration(*req.TTLSeconds) * time.Second
	}

	wallet := middleware.GetWallet(c)
	sub, err := h.subs.Create(c.Context(), wallet, req.Target, req.Params, req.Condition, req.WebhookURL, ttl)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid_subscription", Detail: err.Error()})
	}

	// The record is attested like any data response, so the subscriber can
	// prove later what was agreed.
	env, err := h.signer.Sign(sub)
	if err != nil {
		h.log.Error("failed to sign subscription record", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "signing failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(env)
}

func (h *SubscriptionHandler) List(c *fiber.Ctx) error {
	subs, err := h.subs.List(c.Context(), middleware.GetWallet(c))
	if err != nil {
		h.log.Error("failed to list subscriptions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "failed to list subscriptions"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: subs})
}

func (h *SubscriptionHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid subscription id"})
	}

	sub, err := h.subs.Get(c.Context(), middleware.GetWallet(c), id)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: sub})
}

// Cancel is idempotent; cancelling twice reports the already-terminal state.
func (h *SubscriptionHandler) Cancel(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid subscription id"})
	}

	sub, err := h.subs.Cancel(c.Context(), middleware.GetWallet(c), id)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: sub})
}

func subscriptionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, repositories.ErrSubscriptionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "subscription not found"})
	case errors.Is(err, services.ErrNotOwner):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "not your subscription"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "subscription lookup failed"})
	}
}
