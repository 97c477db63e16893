package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/travelpay/backend/internal/provider"
	"github.com/travelpay/backend/internal/repositories"
	"github.com/travelpay/backend/internal/ton"
)

const testWallet = "EQC4zFQJaFHdjWH2Wp1mWVISWQpLiLMREQf4tUXXk4QJnovA"

type memLedger struct {
	mu      sync.Mutex
	balance decimal.Decimal
	refunds int
}

func (l *memLedger) GetBalance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance, nil
}

func (l *memLedger) Debit(ctx context.Context, wallet string, amount decimal.Decimal, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance.LessThan(amount) {
		return repositories.ErrInsufficientFunds
	}
	l.balance = l.balance.Sub(amount)
	return nil
}

func (l *memLedger) Refund(ctx context.Context, wallet string, amount decimal.Decimal, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = l.balance.Add(amount)
	l.refunds++
	return nil
}

type fakeRedeemer struct {
	creditUSD decimal.Decimal
	err       error
	ledger    *memLedger
	calls     int
}

func (r *fakeRedeemer) Redeem(ctx context.Context, wallet, referenceID string, requiredUSD decimal.Decimal) (*ton.VerifiedPayment, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	r.ledger.mu.Lock()
	r.ledger.balance = r.ledger.balance.Add(r.creditUSD)
	r.ledger.mu.Unlock()
	return &ton.VerifiedPayment{ReferenceID: referenceID, AmountUSD: r.creditUSD}, nil
}

func testApp(ledger *memLedger, redeemer *fakeRedeemer, handler fiber.Handler) *fiber.App {
	app := fiber.New()
	cfg := PaywallConfig{
		MerchantWallet: "EQDmerchant",
		Price:          ton.NewPrice(decimal.NewFromInt(5)),
	}
	price := decimal.RequireFromString("0.05")
	app.Get("/data",
		func(c *fiber.Ctx) error {
			c.Locals(CtxWallet, testWallet)
			return c.Next()
		},
		Paywall(ledger, redeemer, cfg, price, zap.NewNop()),
		handler,
	)
	return app
}

func okHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true})
}

func TestPaywallDebitsAndPasses(t *testing.T) {
	ledger := &memLedger{balance: decimal.NewFromInt(1)}
	app := testApp(ledger, &fakeRedeemer{ledger: ledger}, okHandler)

	resp, err := app.Test(httptest.NewRequest("GET", "/data", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if want := decimal.RequireFromString("0.95"); !ledger.balance.Equal(want) {
		t.Errorf("balance = %s, want %s", ledger.balance, want)
	}
}

func TestPaywallRejectsEmptyBalance(t *testing.T) {
	ledger := &memLedger{balance: decimal.Zero}
	app := testApp(ledger, &fakeRedeemer{ledger: ledger}, okHandler)

	resp, err := app.Test(httptest.NewRequest("GET", "/data", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}

	var body struct {
		Error      string `json:"error"`
		BalanceUSD string `json:"balance_usd"`
		PriceUSD   string `json:"price_usd"`
		Payment    struct {
			Asset          string `json:"asset"`
			AmountTON      string `json:"amount_ton"`
			AmountNano     int64  `json:"amount_nano"`
			MerchantWallet string `json:"merchant_wallet"`
		} `json:"payment"`
		Instructions string `json:"instructions"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("bad 402 body: %v", err)
	}
	if body.Error != "payment_required" {
		t.Errorf("error = %s", body.Error)
	}
	if body.BalanceUSD != "0" {
		t.Errorf("balance_usd = %s, want 0", body.BalanceUSD)
	}
	if body.PriceUSD != "0.05" {
		t.Errorf("price_usd = %s, want 0.05", body.PriceUSD)
	}
	if body.Payment.Asset != "TON" || body.Payment.MerchantWallet != "EQDmerchant" {
		t.Errorf("payment options = %+v", body.Payment)
	}
	if body.Payment.AmountNano != 10_000_000 {
		t.Errorf("amount_nano = %d, want 10000000", body.Payment.AmountNano)
	}
	if body.Instructions == "" {
		t.Error("instructions missing")
	}
}

func TestPaywallRedeemsReferenceThenDebits(t *testing.T) {
	ledger := &memLedger{balance: decimal.Zero}
	redeemer := &fakeRedeemer{ledger: ledger, creditUSD: decimal.RequireFromString("0.25")}
	app := testApp(ledger, redeemer, okHandler)

	req := httptest.NewRequest("GET", "/data", nil)
	req.Header.Set(HeaderPaymentReference, "aa00")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if redeemer.calls != 1 {
		t.Errorf("redeem calls = %d, want 1", redeemer.calls)
	}
	// credited 0.25, debited 0.05
	if want := decimal.RequireFromString("0.20"); !ledger.balance.Equal(want) {
		t.Errorf("balance = %s, want %s", ledger.balance, want)
	}
}

func TestPaywallVerificationErrorStatuses(t *testing.T) {
	tests := []struct {
		code       string
		wantStatus int
	}{
		{ton.CodeInvalidReference, fiber.StatusBadRequest},
		{ton.CodeTxNotFound, fiber.StatusPaymentRequired},
		{ton.CodeWrongRecipient, fiber.StatusPaymentRequired},
		{ton.CodeInsufficientAmount, fiber.StatusPaymentRequired},
		{ton.CodeSelfTransfer, fiber.StatusPaymentRequired},
		{ton.CodeAlreadyCredited, fiber.StatusPaymentRequired},
		{ton.CodeVerificationPending, fiber.StatusConflict},
		{ton.CodeChainUnavailable, fiber.StatusServiceUnavailable},
		{ton.CodeMerchantUnconfigured, fiber.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			ledger := &memLedger{balance: decimal.NewFromInt(1)}
			redeemer := &fakeRedeemer{ledger: ledger, err: &ton.VerificationError{Code: tt.code, Message: tt.code}}
			app := testApp(ledger, redeemer, okHandler)

			req := httptest.NewRequest("GET", "/data", nil)
			req.Header.Set(HeaderPaymentReference, "aa00")
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			// a failed redemption must not charge the balance
			if !ledger.balance.Equal(decimal.NewFromInt(1)) {
				t.Errorf("balance = %s, want 1", ledger.balance)
			}
		})
	}
}

func TestPaywallRefundsWhenSourceDown(t *testing.T) {
	ledger := &memLedger{balance: decimal.NewFromInt(1)}
	app := testApp(ledger, &fakeRedeemer{ledger: ledger}, func(c *fiber.Ctx) error {
		return provider.ErrSourceUnavailable
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/data", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if ledger.refunds != 1 {
		t.Errorf("refunds = %d, want 1", ledger.refunds)
	}
	if !ledger.balance.Equal(decimal.NewFromInt(1)) {
		t.Errorf("balance = %s, want 1 after refund", ledger.balance)
	}
}
