package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/travelpay/backend/internal/events"
	"github.com/travelpay/backend/internal/models"
	"github.com/travelpay/backend/internal/provider"
	"github.com/travelpay/backend/internal/repositories"
)

// Store is the subscription persistence the engine needs.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	ListActive(ctx context.Context) ([]*models.Subscription, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	RecordCheck(ctx context.Context, id uuid.UUID, matched bool) error
	RecordTriggered(ctx context.Context, id uuid.UUID) error
}

// Ledger is the balance surface the engine charges notifications against.
type Ledger interface {
	Debit(ctx context.Context, wallet string, amount decimal.Decimal, reason string) error
	Refund(ctx context.Context, wallet string, amount decimal.Decimal, reason string) error
}

// Signer produces the signed envelope delivered to webhooks.
type Signer interface {
	Sign(data any) (*models.SignedEnvelope, error)
}

// Deliverer posts a signed envelope to a webhook endpoint.
type Deliverer interface {
	Deliver(ctx context.Context, url string, env *models.SignedEnvelope) error
}

type Config struct {
	CheckInterval     time.Duration
	NotificationPrice decimal.Decimal
	// RefundOnDeliveryFailure returns the notification charge when the
	// webhook endpoint rejects or times out.
	RefundOnDeliveryFailure bool
}

// Engine supervises one watch goroutine per active subscription. Each watch
// periodically fetches the target, evaluates the condition and fires the
// webhook on a false -> true edge. A triggered subscription keeps running
// until it expires or its owner cancels it.
type Engine struct {
	store     Store
	ledger    Ledger
	provider  provider.DataProvider
	signer    Signer
	deliverer Deliverer
	publisher events.Publisher
	cfg       Config
	log       *zap.Logger

	mu      sync.Mutex
	watches map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

func NewEngine(
	store Store,
	ledger Ledger,
	dataProvider provider.DataProvider,
	signer Signer,
	deliverer Deliverer,
	publisher events.Publisher,
	cfg Config,
	log *zap.Logger,
) *Engine {
	return &Engine{
		store:     store,
		ledger:    ledger,
		provider:  dataProvider,
		signer:    signer,
		deliverer: deliverer,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		watches:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start loads every active subscription and begins watching it. Control
// events arriving later add and remove watches incrementally.
func (e *Engine) Start(ctx context.Context) error {
	subs, err := e.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active subscriptions: %w", err)
	}
	for _, sub := range subs {
		e.watch(ctx, sub)
	}
	e.log.Info("subscription engine started", zap.Int("active", len(subs)))
	return nil
}

// HandleEvent reacts to control events published by the API process.
func (e *Engine) HandleEvent(ctx context.Context, event events.Event) {
	raw, _ := event.Payload["subscription_id"].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		e.log.Warn("control event with bad subscription id", zap.String("id", raw))
		return
	}

	switch event.Type {
	case events.EventSubscriptionCreated:
		sub, err := e.store.GetByID(ctx, id)
		if err != nil {
			e.log.Error("failed to load new subscription", zap.String("id", raw), zap.Error(err))
			return
		}
		if sub.Status == models.SubscriptionStatusActive {
			e.watch(ctx, sub)
		}
	case events.EventSubscriptionCancelled:
		e.stopWatch(id)
	}
}

// Resync reconciles the watch set with the database. Control events over
// redis are best-effort; this is the safety net that picks up subscriptions
// whose create event was lost and drops ones cancelled behind our back.
func (e *Engine) Resync(ctx context.Context) error {
	subs, err := e.store.ListActive(ctx)
	if err != nil {
		return err
	}

	active := make(map[uuid.UUID]struct{}, len(subs))
	for _, sub := range subs {
		active[sub.ID] = struct{}{}
		e.watch(ctx, sub)
	}

	e.mu.Lock()
	var stale []uuid.UUID
	for id := range e.watches {
		if _, ok := active[id]; !ok {
			stale = append(stale, id)
		}
	}
	e.mu.Unlock()
	for _, id := range stale {
		e.stopWatch(id)
	}
	return nil
}

// Stop cancels every watch and waits for the loops to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	for id, cancel := range e.watches {
		cancel()
		delete(e.watches, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Watching reports whether a watch loop exists for the subscription.
func (e *Engine) Watching(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.watches[id]
	return ok
}

func (e *Engine) watch(ctx context.Context, sub *models.Subscription) {
	e.mu.Lock()
	if _, exists := e.watches[sub.ID]; exists {
		e.mu.Unlock()
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	e.watches[sub.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.stopWatch(sub.ID)
		e.run(watchCtx, sub)
	}()
}

func (e *Engine) stopWatch(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.watches[id]; ok {
		cancel()
		delete(e.watches, id)
	}
}

func (e *Engine) run(ctx context.Context, sub *models.Subscription) {
	log := e.log.With(
		zap.String("subscription", sub.ID.String()),
		zap.String("condition", sub.Condition.String()))
	log.Info("watching subscription")

	// Seed the edge detector from the stored state so a worker restart does
	// not refire a condition that was already true.
	lastMatched := sub.LastValueMatched

	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if sub.Expired(time.Now()) {
			if _, err := e.store.UpdateStatus(ctx, sub.ID, models.SubscriptionStatusActive, models.SubscriptionStatusExpired); err != nil {
				log.Error("failed to expire subscription", zap.Error(err))
			}
			log.Info("subscription expired")
			return
		}

		matched, data, err := e.evaluate(ctx, sub)
		if err != nil {
			log.Warn("check failed", zap.Error(err))
			continue
		}

		if matched && !lastMatched && !e.trigger(ctx, sub, data, log) {
			// Charge or signing failed before a delivery attempt. Keep the
			// edge armed so the next tick retries while the condition holds.
			continue
		}
		lastMatched = matched

		if err := e.store.RecordCheck(ctx, sub.ID, matched); err != nil {
			log.Warn("failed to record check", zap.Error(err))
		}
	}
}

func (e *Engine) evaluate(ctx context.Context, sub *models.Subscription) (bool, map[string]any, error) {
	params := make(map[string]string, len(sub.Params))
	for k, v := range sub.Params {
		params[k] = fmt.Sprint(v)
	}

	data, err := e.provider.Fetch(ctx, sub.Target, params)
	if err != nil {
		return false, nil, err
	}
	matched, err := sub.Condition.Eval(data)
	return matched, data, err
}

// trigger charges the owner, signs the notification and posts it. It
// reports whether a charged delivery attempt was made; a false return
// means nothing was consumed and the caller should retry next tick. An
// owner with an empty balance keeps the subscription; the notification is
// simply skipped until funds arrive.
func (e *Engine) trigger(ctx context.Context, sub *models.Subscription, data map[string]any, log *zap.Logger) bool {
	err := e.ledger.Debit(ctx, sub.OwnerWallet, e.cfg.NotificationPrice, "subscription notification "+sub.ID.String())
	if errors.Is(err, repositories.ErrInsufficientFunds) {
		log.Warn("notification skipped, insufficient balance",
			zap.String("wallet", sub.OwnerWallet))
		return false
	}
	if err != nil {
		log.Error("failed to charge notification", zap.Error(err))
		return false
	}

	env, err := e.signer.Sign(map[string]any{
		"subscription_id": sub.ID.String(),
		"target":          sub.Target,
		"params":          sub.Params,
		"condition":       sub.Condition.String(),
		"data":            data,
		"triggered_at":    time.Now().Unix(),
	})
	if err != nil {
		log.Error("failed to sign notification", zap.Error(err))
		if refundErr := e.ledger.Refund(ctx, sub.OwnerWallet, e.cfg.NotificationPrice, "unsigned notification "+sub.ID.String()); refundErr != nil {
			log.Error("failed to refund notification charge", zap.Error(refundErr))
		}
		return false
	}

	if err := e.deliverer.Deliver(ctx, sub.WebhookURL, env); err != nil {
		log.Warn("webhook delivery failed", zap.String("url", sub.WebhookURL), zap.Error(err))
		if e.cfg.RefundOnDeliveryFailure {
			if refundErr := e.ledger.Refund(ctx, sub.OwnerWallet, e.cfg.NotificationPrice, "undelivered notification "+sub.ID.String()); refundErr != nil {
				log.Error("failed to refund notification charge", zap.Error(refundErr))
			}
		}
	} else {
		log.Info("webhook delivered", zap.String("url", sub.WebhookURL))
	}

	// An attempted delivery counts as notified, delivered or not.
	if err := e.store.RecordTriggered(ctx, sub.ID); err != nil {
		log.Warn("failed to record trigger", zap.Error(err))
	}
	if err := e.publisher.Publish(ctx, events.StreamSubscriptions, events.Event{
		Type:    events.EventSubscriptionTriggered,
		Payload: map[string]any{"subscription_id": sub.ID.String()},
	}); err != nil {
		log.Warn("failed to publish trigger event", zap.Error(err))
	}
	return true
}
