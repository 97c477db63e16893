package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
	"go.uber.org/zap"
)

const (
	CtxWallet = "wallet"

	HeaderWallet = "X-Wallet-Address"
)

// BonusGranter credits a wallet's signup bonus at most once.
type BonusGranter interface {
	GrantWelcomeBonusOnce(ctx context.Context, wallet string, amount decimal.Decimal) (bool, error)
}

// WalletMiddleware extracts the caller's wallet address. The address is the
// whole identity: no password, no token, just proof of control implied by
// on-chain payments from it.
func WalletMiddleware(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		wallet := strings.TrimSpace(c.Get(HeaderWallet))
		if wallet == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":  "identity_required",
				"detail": "pass your wallet address in the " + HeaderWallet + " header",
			})
		}
		if _, err := address.ParseAddr(wallet); err != nil {
			log.Debug("rejected malformed wallet address", zap.String("wallet", wallet))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "invalid_wallet_address",
				"detail": "not a valid TON address",
			})
		}

		c.Locals(CtxWallet, wallet)
		return c.Next()
	}
}

// WelcomeBonus credits the signup bonus the first time a wallet shows up.
// Runs after WalletMiddleware.
func WelcomeBonus(granter BonusGranter, amount decimal.Decimal, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		wallet := GetWallet(c)
		if wallet != "" && amount.IsPositive() {
			granted, err := granter.GrantWelcomeBonusOnce(c.Context(), wallet, amount)
			if err != nil {
				log.Warn("welcome bonus grant failed", zap.String("wallet", wallet), zap.Error(err))
			} else if granted {
				log.Info("welcome bonus granted",
					zap.String("wallet", wallet),
					zap.String("amount_usd", amount.String()))
			}
		}
		return c.Next()
	}
}

func GetWallet(c *fiber.Ctx) string {
	wallet, _ := c.Locals(CtxWallet).(string)
	return wallet
}
