package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/travelpay/backend/internal/http/dto"
	"github.com/travelpay/backend/internal/middleware"
	"github.com/travelpay/backend/internal/models"
	"github.com/travelpay/backend/internal/repositories"
)

type BalanceHandler struct {
	ledger       *repositories.LedgerRepo
	queryPrice   decimal.Decimal
	webhookPrice decimal.Decimal
	log          *zap.Logger
}

func NewBalanceHandler(ledger *repositories.LedgerRepo, queryPrice, webhookPrice decimal.Decimal, log *zap.Logger) *BalanceHandler {
	return &BalanceHandler{ledger: ledger, queryPrice: queryPrice, webhookPrice: webhookPrice, log: log}
}

// GetBalance is free to call: checking what you have must not cost anything.
func (h *BalanceHandler) GetBalance(c *fiber.Ctx) error {
	wallet := middleware.GetWallet(c)

	account, err := h.ledger.GetAccount(c.Context(), wallet)
	if errors.Is(err, pgx.ErrNoRows) {
		account = &models.Account{Wallet: wallet}
	} else if err != nil {
		h.log.Error("failed to load account", zap.String("wallet", wallet), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "failed to load balance"})
	}

	txs, err := h.ledger.RecentTransactions(c.Context(), wallet, 20)
	if err != nil {
		h.log.Warn("failed to load transaction history", zap.Error(err))
	}

	return c.JSON(dto.BalanceResponse{
		Wallet:              account.Wallet,
		BalanceUSD:          account.BalanceUSD.String(),
		TotalCreditedUSD:    account.TotalCreditedUSD.String(),
		TotalSpentUSD:       account.TotalSpentUSD.String(),
		WelcomeBonusGranted: account.WelcomeBonusGranted,
		PricesUSD: map[string]string{
			"data_query":           h.queryPrice.String(),
			"webhook_notification": h.webhookPrice.String(),
		},
		RemainingQueries: map[string]int64{
			"data_query":           remaining(account.BalanceUSD, h.queryPrice),
			"webhook_notification": remaining(account.BalanceUSD, h.webhookPrice),
		},
		Transactions: txs,
	})
}

func remaining(balance, price decimal.Decimal) int64 {
	if !price.IsPositive() {
		return 0
	}
	return balance.Div(price).Floor().IntPart()
}
