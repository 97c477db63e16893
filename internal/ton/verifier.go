package ton

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Stable codes for payment-verification failures. Handlers map these to
// HTTP statuses; callers must branch on Code, not on message text.
const (
	CodeInvalidReference     = "invalid_reference"
	CodeTxNotFound           = "transaction_not_found"
	CodeWrongRecipient       = "wrong_recipient"
	CodeInsufficientAmount   = "insufficient_amount"
	CodeSelfTransfer         = "self_transfer"
	CodeChainUnavailable     = "chain_unavailable"
	CodeAlreadyCredited      = "already_credited"
	CodeVerificationPending  = "verification_pending"
	CodeMerchantUnconfigured = "merchant_not_configured"
)

type VerificationError struct {
	Code    string
	Message string
	Cause   error
}

func (e *VerificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *VerificationError) Unwrap() error { return e.Cause }

func NewVerificationError(code, message string) *VerificationError {
	return &VerificationError{Code: code, Message: message}
}

// VerifiedPayment is the outcome of a successful on-chain verification.
type VerifiedPayment struct {
	ReferenceID string
	Sender      string
	AmountNano  int64
	AmountUSD   decimal.Decimal
}

// Chain is the part of Client the verifier depends on.
type Chain interface {
	FindIncomingTx(ctx context.Context, accountAddr, txHashHex string) (*TxInfo, error)
}

// Verifier validates externally supplied transaction references against
// chain state: the transfer must target the merchant wallet and carry at
// least the required value at the configured TON/USD rate. Replay
// protection is the payment record's job, not the verifier's.
type Verifier struct {
	chain     Chain
	merchant  string
	price     Price
	tolerance decimal.Decimal
	log       *zap.Logger
}

func NewVerifier(chain Chain, merchant string, price Price, tolerance decimal.Decimal, log *zap.Logger) *Verifier {
	return &Verifier{
		chain:     chain,
		merchant:  merchant,
		price:     price,
		tolerance: tolerance,
		log:       log,
	}
}

// Verify resolves referenceID on chain and validates recipient and amount.
// It never mutates any balance.
func (v *Verifier) Verify(ctx context.Context, referenceID string, requiredUSD decimal.Decimal) (*VerifiedPayment, error) {
	if v.merchant == "" {
		return nil, NewVerificationError(CodeMerchantUnconfigured, "merchant wallet is not configured")
	}

	if raw, err := hex.DecodeString(referenceID); err != nil || len(raw) != 32 {
		return nil, NewVerificationError(CodeInvalidReference, "reference must be a hex-encoded transaction hash")
	}

	tx, err := v.chain.FindIncomingTx(ctx, v.merchant, referenceID)
	if err != nil {
		switch {
		case errors.Is(err, ErrTxNotFound):
			return nil, &VerificationError{Code: CodeTxNotFound, Message: "transaction not found or not finalized", Cause: err}
		case errors.Is(err, ErrChainUnavailable):
			return nil, &VerificationError{Code: CodeChainUnavailable, Message: "could not query the chain", Cause: err}
		default:
			return nil, &VerificationError{Code: CodeChainUnavailable, Message: "chain lookup failed", Cause: err}
		}
	}

	if tx.Recipient != v.merchant {
		return nil, NewVerificationError(CodeWrongRecipient, fmt.Sprintf("transfer targets %s, not the merchant wallet", tx.Recipient))
	}
	if tx.Sender == tx.Recipient {
		return nil, NewVerificationError(CodeSelfTransfer, "self-transfers are not accepted")
	}

	receivedUSD := v.price.NanoToUSD(tx.AmountNano)
	if receivedUSD.LessThan(requiredUSD.Mul(v.tolerance)) {
		return nil, NewVerificationError(CodeInsufficientAmount,
			fmt.Sprintf("received $%s, required $%s", receivedUSD.StringFixed(4), requiredUSD.StringFixed(4)))
	}

	v.log.Info("payment verified on chain",
		zap.String("reference_id", referenceID),
		zap.String("sender", tx.Sender),
		zap.Int64("amount_nano", tx.AmountNano),
		zap.String("amount_usd", receivedUSD.StringFixed(4)),
	)

	return &VerifiedPayment{
		ReferenceID: referenceID,
		Sender:      tx.Sender,
		AmountNano:  tx.AmountNano,
		AmountUSD:   receivedUSD,
	}, nil
}
