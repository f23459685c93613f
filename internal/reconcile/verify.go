package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/safar/autoshop-checkout/internal/gateway"
	"github.com/safar/autoshop-checkout/internal/models"
	"github.com/safar/autoshop-checkout/internal/store"
	"go.uber.org/zap"
)

const (
	sourceVerify  = "verify"
	sourceWebhook = "webhook"
)

type VerifyResult struct {
	Transaction *models.Transaction
	AlreadyPaid bool
}

// Verify confirms a transaction's payment on behalf of the returning
// customer. The gateway is asked for the checkout session so the payment
// reference is recorded alongside the purchase.
func (s *Service) Verify(ctx context.Context, transactionID string) (*VerifyResult, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, validation("transactionId is required")
	}

	t, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, fromStore("load transaction", err)
	}

	switch t.Status {
	case models.TransactionPurchased:
		return &VerifyResult{Transaction: t, AlreadyPaid: true}, nil
	case models.TransactionRefunded:
		return nil, validation("transaction has already been refunded")
	}

	if t.CheckoutSessionID == "" {
		return nil, validation("payment has not been started for this transaction")
	}

	gctx, cancel := s.gatewayContext(ctx)
	session, err := s.gateway.GetCheckoutSession(gctx, t.CheckoutSessionID)
	cancel()
	if err != nil {
		return nil, fromGateway("checkout lookup", err)
	}

	paymentID := session.PaidPaymentID()
	if paymentID == "" {
		return nil, validation("payment has not been completed")
	}

	return s.confirm(ctx, t.ID, paymentID, sourceVerify)
}

// ConfirmPayment applies a payment the gateway has already vouched for. The
// payment reference is required: a purchase recorded without one could
// never be refunded.
func (s *Service) ConfirmPayment(ctx context.Context, transactionID, paymentID string) (*VerifyResult, error) {
	transactionID = strings.TrimSpace(transactionID)
	paymentID = strings.TrimSpace(paymentID)
	if transactionID == "" {
		return nil, validation("transactionId is required")
	}
	if paymentID == "" {
		return nil, validation("payment reference is required")
	}
	return s.confirm(ctx, transactionID, paymentID, sourceWebhook)
}

func (s *Service) confirm(ctx context.Context, transactionID, paymentID, source string) (*VerifyResult, error) {
	res, err := s.repo.ConfirmPurchase(ctx, store.PurchaseConfirmation{
		TransactionID: transactionID,
		PaymentID:     paymentID,
		At:            s.now(),
	})
	if err != nil {
		rerr := fromStore("confirm purchase", err)
		if KindOf(rerr) == KindOperationFailed {
			s.logger.Error("purchase confirmation failed",
				zap.String("transaction_id", transactionID),
				zap.String("source", source),
				zap.Error(err))
		}
		return nil, rerr
	}

	if res.AlreadyPaid {
		s.logger.Info("transaction already purchased",
			zap.String("transaction_id", transactionID),
			zap.String("source", source))
		return &VerifyResult{Transaction: res.Transaction, AlreadyPaid: true}, nil
	}

	s.logger.Info("transaction purchased",
		zap.String("transaction_id", transactionID),
		zap.String("payment_id", paymentID),
		zap.String("source", source),
		zap.Int64("appointments_paid", res.AppointmentsPaid))

	s.settled(ctx, transactionID, EventTransactionPurchased, PurchasedPayload{
		TransactionID:    transactionID,
		PaymentID:        res.Transaction.PaymentID,
		Price:            res.Transaction.Price,
		Source:           source,
		AppointmentsPaid: res.AppointmentsPaid,
	})

	return &VerifyResult{Transaction: res.Transaction}, nil
}

type WebhookResult struct {
	EventID     string
	EventType   string
	Handled     bool
	AlreadyPaid bool
}

// HandleWebhook authenticates and applies one gateway delivery. Event types
// other than a successful payment are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, signature string, body []byte) (*WebhookResult, error) {
	if err := s.opts.Webhook.Verify(signature, body, s.now()); err != nil {
		return nil, &Error{Kind: KindUnauthorized, Message: "invalid webhook signature", Err: err}
	}

	evt, err := gateway.ParseEvent(body)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: "malformed webhook payload", Err: err}
	}

	if evt.LiveMode != s.opts.Webhook.LiveMode {
		return nil, validationf("webhook livemode=%t does not match this deployment (livemode=%t)",
			evt.LiveMode, s.opts.Webhook.LiveMode)
	}

	result := &WebhookResult{EventID: evt.ID, EventType: evt.Type}

	switch evt.Type {
	case gateway.EventPaymentPaid, gateway.EventCheckoutSessionPaid:
	default:
		s.logger.Debug("webhook event ignored",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type))
		return result, nil
	}

	if evt.TransactionID == "" {
		return nil, validation("transactionId missing from event metadata")
	}
	if evt.PaymentID == "" {
		return nil, validation("event carries no paid payment")
	}

	res, err := s.ConfirmPayment(ctx, evt.TransactionID, evt.PaymentID)
	if err != nil {
		var rerr *Error
		if errors.As(err, &rerr) {
			s.logger.Warn("webhook payment not applied",
				zap.String("event_id", evt.ID),
				zap.String("transaction_id", evt.TransactionID),
				zap.String("kind", rerr.Kind.String()),
				zap.Error(err))
		}
		return nil, err
	}

	result.Handled = true
	result.AlreadyPaid = res.AlreadyPaid
	return result, nil
}
