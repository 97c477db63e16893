package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/travelpay/backend/internal/config"
	"github.com/travelpay/backend/internal/db"
	"github.com/travelpay/backend/internal/events"
	apphttp "github.com/travelpay/backend/internal/http"
	"github.com/travelpay/backend/internal/http/handlers"
	"github.com/travelpay/backend/internal/oracle"
	"github.com/travelpay/backend/internal/provider"
	"github.com/travelpay/backend/internal/repositories"
	"github.com/travelpay/backend/internal/services"
	"github.com/travelpay/backend/internal/ton"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Signing key
	signer, err := oracle.NewSigner(cfg.OraclePrivateKeyHex, cfg.OracleKeyFile, log)
	if err != nil {
		log.Fatal("failed to initialize signing key", zap.Error(err))
	}

	// TON chain access
	chain, err := ton.NewClient(ctx, cfg.TONConfigURL, cfg.ChainMaxRetries, cfg.ChainRetryDelay, log)
	if err != nil {
		log.Fatal("failed to connect to TON lite servers", zap.Error(err))
	}
	price := ton.NewPrice(cfg.TONUSDPrice)
	verifier := ton.NewVerifier(chain, cfg.MerchantWalletAddress, price, cfg.AmountTolerance, log)

	// Repositories
	ledgerRepo := repositories.NewLedgerRepo(pool)
	paymentRepo := repositories.NewPaymentRepo(pool)
	subscriptionRepo := repositories.NewSubscriptionRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)
	err = subscriber.Subscribe(ctx, events.StreamSubscriptions, func(event events.Event) {
		if event.Type == events.EventSubscriptionTriggered {
			log.Info("subscription triggered", zap.Any("payload", event.Payload))
		}
	})
	if err != nil {
		log.Warn("failed to subscribe to trigger events", zap.Error(err))
	}

	// Data providers
	cbp := provider.NewBorderWaitProvider(log)
	cached := provider.NewCached(cbp, rdb, cfg.CacheTTL, log)

	// Services
	paymentService := services.NewPaymentService(paymentRepo, verifier, cfg.MerchantWalletAddress, publisher, log)
	subscriptionService := services.NewSubscriptionService(subscriptionRepo, publisher, cfg.SubscriptionDefaultTTL, log)

	// Handlers
	balanceHandler := handlers.NewBalanceHandler(ledgerRepo, cfg.PricePerRequestUSD, cfg.SubscriptionPriceUSD, log)
	dataHandler := handlers.NewDataHandler(cached, cbp, signer, log)
	oracleHandler := handlers.NewOracleHandler(signer)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionService, signer, log)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, ledgerRepo, paymentService,
		balanceHandler, dataHandler, oracleHandler, subscriptionHandler)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server",
		zap.String("addr", addr),
		zap.String("oracle_pubkey", signer.PublicKeyHex()))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
