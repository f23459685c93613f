package reconcile

import (
	"context"
	"strings"

	"github.com/safar/autoshop-checkout/internal/gateway"
	"github.com/safar/autoshop-checkout/internal/models"
	"github.com/safar/autoshop-checkout/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CancelRequest struct {
	AppointmentID string
	TransactionID string
}

type CancelResult struct {
	RefundID        string
	RefundAmount    decimal.Decimal
	DeductionAmount decimal.Decimal
	Message         string
	Transaction     *models.Transaction
}

// CancelWithRefund cancels a paid appointment, refunds the customer less the
// processing fee and puts the configured items back into inventory. Every
// precondition is checked before the gateway is called; nothing local changes
// unless the gateway accepts the refund.
func (s *Service) CancelWithRefund(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	if req.AppointmentID == "" || req.TransactionID == "" {
		return nil, validation("appointmentId and transactionId are required")
	}

	a, err := s.repo.GetAppointment(ctx, req.AppointmentID)
	if err != nil {
		return nil, fromStore("load appointment", err)
	}
	if a.TransactionID != req.TransactionID {
		return nil, validation("appointment does not belong to this transaction")
	}
	if a.PaymentStatus != models.PaymentPaid {
		return nil, validation("only paid appointments can be cancelled with a refund")
	}
	if a.Status == models.AppointmentCancelled {
		return nil, validation("appointment is already cancelled")
	}

	scheduled, err := a.ScheduledAt(s.opts.Location)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: "appointment has an invalid date or time", Err: err}
	}
	if err := checkCancellationWindow(s.now(), scheduled, s.opts.CancelWindow); err != nil {
		return nil, err
	}

	t, err := s.repo.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, fromStore("load transaction", err)
	}
	if t.PaymentID == "" {
		return nil, validation("transaction has no payment reference")
	}
	if t.Status != models.TransactionPurchased {
		return nil, validationf("transaction is %s and cannot be refunded", t.Status)
	}

	quote := QuoteRefund(MinorUnits(t.Price), s.opts.RefundRate)

	release, acquired, err := s.guard.Acquire(ctx, "refund:"+t.ID)
	if err != nil {
		return nil, operationFailed("failed to start refund", err)
	}
	if !acquired {
		return nil, validation("a refund for this transaction is already in progress")
	}
	defer release()

	refundID := t.RefundID
	if refundID != "" {
		s.logger.Info("resuming refund already issued by the gateway",
			zap.String("transaction_id", t.ID),
			zap.String("refund_id", refundID))
	} else {
		gctx, cancel := s.gatewayContext(ctx)
		refund, err := s.gateway.CreateRefund(gctx, gateway.RefundRequest{
			PaymentID: t.PaymentID,
			Amount:    quote.Refund,
			Reason:    gateway.ReasonRequestedByCustomer,
			Notes:     "Appointment " + a.ID + " cancelled by customer",
		})
		cancel()
		if err != nil {
			return nil, fromGateway("refund", err)
		}
		refundID = refund.ID

		if err := s.repo.RecordRefundIssued(ctx, t.ID, refundID); err != nil {
			// The gateway has already paid out and a retry cannot see it.
			s.logger.Error("refund issued but not recorded",
				zap.String("transaction_id", t.ID),
				zap.String("appointment_id", a.ID),
				zap.String("refund_id", refundID),
				zap.Int64("refund_amount", quote.Refund),
				zap.Error(err))
			return nil, fromStore("record refund", err)
		}
	}

	refunded, err := s.repo.ApplyRefund(ctx, store.RefundApplication{
		AppointmentID:   a.ID,
		TransactionID:   t.ID,
		RefundID:        refundID,
		RefundAmount:    quote.RefundMajor(),
		DeductionAmount: quote.DeductionMajor(),
		At:              s.now(),
	})
	if err != nil {
		// The refund id is on the transaction; retrying the cancellation
		// completes the batch without a second gateway refund.
		s.logger.Error("refund issued but ledger not updated",
			zap.String("transaction_id", t.ID),
			zap.String("appointment_id", a.ID),
			zap.String("refund_id", refundID),
			zap.Int64("refund_amount", quote.Refund),
			zap.Error(err))
		return nil, fromStore("apply refund", err)
	}

	s.logger.Info("appointment cancelled with refund",
		zap.String("transaction_id", t.ID),
		zap.String("appointment_id", a.ID),
		zap.String("refund_id", refundID),
		zap.Int64("refund_amount", quote.Refund),
		zap.Int64("deduction_amount", quote.Deduction))

	s.settled(ctx, t.ID, EventTransactionRefunded, RefundedPayload{
		TransactionID:   t.ID,
		AppointmentID:   a.ID,
		RefundID:        refundID,
		RefundAmount:    quote.RefundMajor(),
		DeductionAmount: quote.DeductionMajor(),
	})

	return &CancelResult{
		RefundID:        refundID,
		RefundAmount:    quote.RefundMajor(),
		DeductionAmount: quote.DeductionMajor(),
		Message:         refundMessage(quote, s.opts.Currency),
		Transaction:     refunded,
	}, nil
}
