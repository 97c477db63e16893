package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/travelpay/backend/internal/config"
	"github.com/travelpay/backend/internal/db"
	"github.com/travelpay/backend/internal/events"
	"github.com/travelpay/backend/internal/oracle"
	"github.com/travelpay/backend/internal/provider"
	"github.com/travelpay/backend/internal/repositories"
	"github.com/travelpay/backend/internal/services"
	"github.com/travelpay/backend/internal/subscription"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Notifications are signed with the same key the API serves, so
	// webhook receivers verify against one pinned pubkey.
	signer, err := oracle.NewSigner(cfg.OraclePrivateKeyHex, cfg.OracleKeyFile, log)
	if err != nil {
		log.Fatal("failed to initialize signing key", zap.Error(err))
	}

	ledgerRepo := repositories.NewLedgerRepo(pool)
	subscriptionRepo := repositories.NewSubscriptionRepo(pool)

	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	cbp := provider.NewBorderWaitProvider(log)
	cached := provider.NewCached(cbp, rdb, cfg.CacheTTL, log)
	webhooks := services.NewWebhookClient(cfg.WebhookTimeout, log)

	engine := subscription.NewEngine(
		subscriptionRepo, ledgerRepo, cached, signer, webhooks, publisher,
		subscription.Config{
			CheckInterval:           cfg.SubscriptionCheckInterval,
			NotificationPrice:       cfg.SubscriptionPriceUSD,
			RefundOnDeliveryFailure: cfg.RefundOnDeliveryFailure,
		},
		log,
	)

	if err := engine.Start(ctx); err != nil {
		log.Fatal("failed to start subscription engine", zap.Error(err))
	}

	err = subscriber.Subscribe(ctx, events.StreamSubscriptions, func(event events.Event) {
		engine.HandleEvent(ctx, event)
	})
	if err != nil {
		log.Fatal("failed to subscribe to control events", zap.Error(err))
	}

	// Control events are best-effort; reconcile with the database regularly.
	go func() {
		resync := time.NewTicker(5 * time.Minute)
		defer resync.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-resync.C:
				if err := engine.Resync(ctx); err != nil {
					log.Warn("subscription resync failed", zap.Error(err))
				}
			}
		}
	}()

	log.Info("worker started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")
	cancel()
	engine.Stop()
}
