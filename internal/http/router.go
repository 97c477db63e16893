package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/travelpay/backend/internal/config"
	"github.com/travelpay/backend/internal/http/handlers"
	"github.com/travelpay/backend/internal/middleware"
	"github.com/travelpay/backend/internal/repositories"
	"github.com/travelpay/backend/internal/services"
	"github.com/travelpay/backend/internal/ton"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	ledger *repositories.LedgerRepo,
	paymentService *services.PaymentService,
	balanceHandler *handlers.BalanceHandler,
	dataHandler *handlers.DataHandler,
	oracleHandler *handlers.OracleHandler,
	subscriptionHandler *handlers.SubscriptionHandler,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID, " +
			middleware.HeaderWallet + ", " + middleware.HeaderPaymentReference,
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Public: verification key and subscribable targets
	api.Get("/oracle-key", oracleHandler.GetOracleKey)
	api.Get("/targets", dataHandler.ListTargets)

	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Everything below is keyed by the caller's wallet address.
	identified := api.Group("",
		middleware.WalletMiddleware(log),
		middleware.WelcomeBonus(ledger, cfg.WelcomeBonusUSD, log),
	)

	identified.Get("/balance", balanceHandler.GetBalance)

	paywallCfg := middleware.PaywallConfig{
		MerchantWallet: cfg.MerchantWalletAddress,
		Price:          ton.NewPrice(cfg.TONUSDPrice),
	}
	dataPaywall := middleware.Paywall(ledger, paymentService, paywallCfg, cfg.PricePerRequestUSD, log)

	// Paid data queries
	identified.Get("/data/border-wait", dataPaywall, dataHandler.GetBorderWait)
	identified.Get("/data/crossings", dataPaywall, dataHandler.ListCrossings)

	// Subscriptions are free to manage; each delivered notification is
	// charged by the engine instead.
	identified.Post("/subscriptions", subscriptionHandler.Create)
	identified.Get("/subscriptions", subscriptionHandler.List)
	identified.Get("/subscriptions/:id", subscriptionHandler.Get)
	identified.Delete("/subscriptions/:id", subscriptionHandler.Cancel)

	// Cache ops
	identified.Post("/cache/invalidate", dataHandler.InvalidateCache)
	identified.Get("/cache/stats", dataHandler.CacheStats)
}
