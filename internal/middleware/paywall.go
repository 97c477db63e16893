package middleware

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/travelpay/backend/internal/provider"
	"github.com/travelpay/backend/internal/repositories"
	"github.com/travelpay/backend/internal/ton"
)

const HeaderPaymentReference = "X-Payment-Reference"

// PaywallLedger is the balance surface the paywall debits and refunds.
type PaywallLedger interface {
	GetBalance(ctx context.Context, wallet string) (decimal.Decimal, error)
	Debit(ctx context.Context, wallet string, amount decimal.Decimal, reason string) error
	Refund(ctx context.Context, wallet string, amount decimal.Decimal, reason string) error
}

// Redeemer turns a transaction reference into balance.
type Redeemer interface {
	Redeem(ctx context.Context, wallet, referenceID string, requiredUSD decimal.Decimal) (*ton.VerifiedPayment, error)
}

// PaywallConfig describes how the 402 response invites payment.
type PaywallConfig struct {
	MerchantWallet string
	Price          ton.Price
}

// Paywall debits priceUSD from the caller before the handler runs. A request
// carrying a transaction reference gets the payment credited first, so one
// round trip can both top up and consume. Callers who cannot cover the price
// get 402 with everything needed to pay.
//
// The debit happens before the data is fetched; if the upstream source turns
// out to be down the charge is compensated with a refund.
func Paywall(ledger PaywallLedger, redeemer Redeemer, cfg PaywallConfig, priceUSD decimal.Decimal, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		wallet := GetWallet(c)

		if ref := c.Get(HeaderPaymentReference); ref != "" {
			if _, err := redeemer.Redeem(c.Context(), wallet, ref, priceUSD); err != nil {
				return paymentError(c, err, log)
			}
		}

		err := ledger.Debit(c.Context(), wallet, priceUSD, "data request "+c.Path())
		if errors.Is(err, repositories.ErrInsufficientFunds) {
			return paymentRequired(c, ledger, wallet, priceUSD, cfg)
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "ledger unavailable")
		}

		err = c.Next()
		if errors.Is(err, provider.ErrSourceUnavailable) {
			if refundErr := ledger.Refund(c.Context(), wallet, priceUSD, "upstream unavailable "+c.Path()); refundErr != nil {
				log.Error("refund failed",
					zap.String("wallet", wallet), zap.Error(refundErr))
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":    "source_unavailable",
				"detail":   "upstream data source did not respond, your charge was refunded",
				"refunded": priceUSD.String(),
			})
		}
		return err
	}
}

func paymentRequired(c *fiber.Ctx, ledger PaywallLedger, wallet string, priceUSD decimal.Decimal, cfg PaywallConfig) error {
	balance, err := ledger.GetBalance(c.Context(), wallet)
	if err != nil {
		balance = decimal.Zero
	}
	return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
		"error":       "payment_required",
		"balance_usd": balance.String(),
		"price_usd":   priceUSD.String(),
		"payment": fiber.Map{
			"asset":           "TON",
			"amount_ton":      cfg.Price.USDToTON(priceUSD).String(),
			"amount_nano":     cfg.Price.USDToNano(priceUSD),
			"merchant_wallet": cfg.MerchantWallet,
		},
		"instructions": "send at least amount_ton TON to merchant_wallet, then retry with the transaction hash in the " + HeaderPaymentReference + " header",
	})
}

// paymentError maps verification failures onto HTTP statuses. Chain-side
// trouble is 503 and retryable; everything else is the payer's problem.
func paymentError(c *fiber.Ctx, err error, log *zap.Logger) error {
	var verr *ton.VerificationError
	if !errors.As(err, &verr) {
		log.Error("payment redemption failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "payment processing failed")
	}

	status := fiber.StatusPaymentRequired
	switch verr.Code {
	case ton.CodeInvalidReference:
		status = fiber.StatusBadRequest
	case ton.CodeVerificationPending:
		status = fiber.StatusConflict
	case ton.CodeChainUnavailable, ton.CodeMerchantUnconfigured:
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"error":  verr.Code,
		"detail": verr.Message,
	})
}
