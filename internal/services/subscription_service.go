package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/travelpay/backend/internal/events"
	"github.com/travelpay/backend/internal/models"
	"github.com/travelpay/backend/internal/provider"
	"github.com/travelpay/backend/internal/repositories"
)

var (
	ErrUnknownTarget     = errors.New("unknown subscription target")
	ErrInvalidWebhookURL = errors.New("webhook_url must be an http(s) URL")
	ErrNotOwner          = errors.New("subscription belongs to another wallet")
)

type SubscriptionService struct {
	subs       *repositories.SubscriptionRepo
	publisher  events.Publisher
	defaultTTL time.Duration
	log        *zap.Logger
}

func NewSubscriptionService(
	subs *repositories.SubscriptionRepo,
	publisher events.Publisher,
	defaultTTL time.Duration,
	log *zap.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		subs:       subs,
		publisher:  publisher,
		defaultTTL: defaultTTL,
		log:        log,
	}
}

// Create validates the condition against the target's schema, stores the
// subscription and tells the worker to start watching it. The condition is
// parsed exactly once here; a stored subscription always carries a valid
// tagged condition.
func (s *SubscriptionService) Create(ctx context.Context, wallet, target string, params map[string]any, conditionExpr, webhookURL string, ttl time.Duration) (*models.Subscription, error) {
	t, ok := provider.LookupTarget(target)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	if !strings.HasPrefix(webhookURL, "http://") && !strings.HasPrefix(webhookURL, "https://") {
		return nil, ErrInvalidWebhookURL
	}

	cond, err := models.ParseCondition(conditionExpr)
	if err != nil {
		return nil, err
	}
	if err := cond.Validate(t.Schema); err != nil {
		return nil, err
	}

	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if params == nil {
		params = map[string]any{}
	}

	sub := &models.Subscription{
		ID:          uuid.New(),
		OwnerWallet: wallet,
		Target:      target,
		Params:      params,
		Condition:   cond,
		WebhookURL:  webhookURL,
		Status:      models.SubscriptionStatusActive,
		ExpiresAt:   time.Now().Add(ttl),
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.log.Info("subscription created",
		zap.String("id", sub.ID.String()),
		zap.String("wallet", wallet),
		zap.String("condition", cond.String()))

	s.publishControl(ctx, events.EventSubscriptionCreated, sub.ID)
	return sub, nil
}

func (s *SubscriptionService) Get(ctx context.Context, wallet string, id uuid.UUID) (*models.Subscription, error) {
	sub, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.OwnerWallet != wallet {
		return nil, ErrNotOwner
	}
	return sub, nil
}

func (s *SubscriptionService) List(ctx context.Context, wallet string) ([]*models.Subscription, error) {
	return s.subs.ListByOwner(ctx, wallet)
}

// Cancel is idempotent: cancelling an already cancelled or expired
// subscription returns the current record without error.
func (s *SubscriptionService) Cancel(ctx context.Context, wallet string, id uuid.UUID) (*models.Subscription, error) {
	sub, err := s.Get(ctx, wallet, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusActive {
		return sub, nil
	}

	changed, err := s.subs.UpdateStatus(ctx, id, models.SubscriptionStatusActive, models.SubscriptionStatusCancelled)
	if err != nil {
		return nil, err
	}
	if changed {
		sub.Status = models.SubscriptionStatusCancelled
		s.publishControl(ctx, events.EventSubscriptionCancelled, id)
	}
	return sub, nil
}

func (s *SubscriptionService) publishControl(ctx context.Context, eventType string, id uuid.UUID) {
	err := s.publisher.Publish(ctx, events.StreamSubscriptions, events.Event{
		Type:    eventType,
		Payload: map[string]any{"subscription_id": id.String()},
	})
	if err != nil {
		// Lost control events are repaired by the worker's startup rescan.
		s.log.Warn("failed to publish subscription event",
			zap.String("type", eventType), zap.Error(err))
	}
}
