package services

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/travelpay/backend/internal/events"
	"github.com/travelpay/backend/internal/repositories"
	"github.com/travelpay/backend/internal/ton"
)

// PaymentService turns an on-chain transaction reference into balance. Every
// reference is consumed at most once, regardless of how many concurrent
// requests present it.
type PaymentService struct {
	payments  *repositories.PaymentRepo
	verifier  *ton.Verifier
	merchant  string
	publisher events.Publisher
	log       *zap.Logger
}

func NewPaymentService(
	payments *repositories.PaymentRepo,
	verifier *ton.Verifier,
	merchant string,
	publisher events.Publisher,
	log *zap.Logger,
) *PaymentService {
	return &PaymentService{
		payments:  payments,
		verifier:  verifier,
		merchant:  merchant,
		publisher: publisher,
		log:       log,
	}
}

// Redeem verifies the referenced transaction and credits its USD value to
// the wallet. requiredUSD is the minimum the payment must cover, before
// tolerance.
//
// The pending reservation is taken before the chain is consulted, so two
// requests racing on the same reference resolve at the database: one
// verifies, the other sees the reservation. A reservation is released when
// the chain itself was unreachable, because the reference may still be good.
func (s *PaymentService) Redeem(ctx context.Context, wallet, referenceID string, requiredUSD decimal.Decimal) (*ton.VerifiedPayment, error) {
	if err := s.payments.Reserve(ctx, referenceID, wallet, s.merchant); err != nil {
		return nil, reservationError(err)
	}

	payment, err := s.verifier.Verify(ctx, referenceID, requiredUSD)
	if err != nil {
		var verr *ton.VerificationError
		if errors.As(err, &verr) {
			// Server-side conditions release the reservation: the reference
			// may still be good once the chain or config recovers.
			if verr.Code == ton.CodeChainUnavailable || verr.Code == ton.CodeMerchantUnconfigured {
				if relErr := s.payments.Release(ctx, referenceID); relErr != nil {
					s.log.Error("failed to release payment reservation",
						zap.String("reference", referenceID), zap.Error(relErr))
				}
			} else {
				if rejErr := s.payments.MarkRejected(ctx, referenceID, verr.Code); rejErr != nil {
					s.log.Error("failed to mark payment rejected",
						zap.String("reference", referenceID), zap.Error(rejErr))
				}
			}
		}
		return nil, err
	}

	err = s.payments.CreditOnce(ctx, referenceID, wallet, payment.Sender, payment.AmountNano, payment.AmountUSD)
	if errors.Is(err, repositories.ErrAlreadyCredited) {
		return nil, &ton.VerificationError{
			Code:    ton.CodeAlreadyCredited,
			Message: "transaction reference was already redeemed",
		}
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("payment credited",
		zap.String("wallet", wallet),
		zap.String("reference", referenceID),
		zap.String("amount_usd", payment.AmountUSD.String()))

	if err := s.publisher.Publish(ctx, events.StreamPayments, events.Event{
		Type: events.EventPaymentCredited,
		Payload: map[string]any{
			"wallet":     wallet,
			"reference":  referenceID,
			"amount_usd": payment.AmountUSD.String(),
		},
	}); err != nil {
		s.log.Warn("failed to publish payment event", zap.Error(err))
	}

	return payment, nil
}

// reservationError translates a Reserve failure into the verification error
// the caller can map to a response. A previously rejected reference keeps
// reporting the code recorded at rejection rather than a pending state.
func reservationError(err error) error {
	var rejected *repositories.RejectedReferenceError
	switch {
	case errors.Is(err, repositories.ErrAlreadyCredited):
		return &ton.VerificationError{
			Code:    ton.CodeAlreadyCredited,
			Message: "transaction reference was already redeemed",
		}
	case errors.As(err, &rejected):
		code := rejected.Reason
		if code == "" {
			code = ton.CodeTxNotFound
		}
		return &ton.VerificationError{
			Code:    code,
			Message: "transaction reference was previously rejected",
		}
	case errors.Is(err, repositories.ErrReferenceTaken):
		return &ton.VerificationError{
			Code:    ton.CodeVerificationPending,
			Message: "transaction reference is being verified by another request",
		}
	}
	return err
}
