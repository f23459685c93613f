package reconcile

import (
	"context"
	"strings"

	"github.com/safar/autoshop-checkout/internal/gateway"
	"github.com/safar/autoshop-checkout/internal/models"
	"go.uber.org/zap"
)

type CheckoutRequest struct {
	TransactionID string
	Amount        int64
	Description   string
}

type CheckoutResult struct {
	CheckoutURL string
	SessionID   string
}

// CreateCheckout opens a gateway checkout for a pending transaction. The
// amount is in minor units and must match the transaction price.
func (s *Service) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	if req.TransactionID == "" {
		return nil, validation("transactionId is required")
	}
	if req.Amount < s.opts.MinCheckoutAmount {
		return nil, validationf("amount must be at least %d", s.opts.MinCheckoutAmount)
	}
	if strings.TrimSpace(req.Description) == "" {
		req.Description = "Vehicle customization"
	}

	t, err := s.repo.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, fromStore("load transaction", err)
	}
	if t.Status != models.TransactionPending {
		return nil, validationf("transaction is already %s", t.Status)
	}
	if price := MinorUnits(t.Price); price != req.Amount {
		return nil, validationf("amount %d does not match transaction price %d", req.Amount, price)
	}

	gctx, cancel := s.gatewayContext(ctx)
	session, err := s.gateway.CreateCheckoutSession(gctx, gateway.CheckoutRequest{
		TransactionID: t.ID,
		Amount:        req.Amount,
		Description:   req.Description,
	})
	cancel()
	if err != nil {
		return nil, fromGateway("checkout", err)
	}

	if err := s.repo.SetCheckoutSession(ctx, t.ID, session.ID); err != nil {
		s.logger.Error("checkout session not recorded",
			zap.String("transaction_id", t.ID),
			zap.String("session_id", session.ID),
			zap.Error(err))
		return nil, fromStore("record checkout session", err)
	}

	return &CheckoutResult{CheckoutURL: session.CheckoutURL, SessionID: session.ID}, nil
}

type RefundRequest struct {
	PaymentID string
	Amount    int64
	Reason    string
}

// CreateRefund proxies a refund straight to the gateway without touching the
// ledger. Used by staff for adjustments outside the cancellation flow.
func (s *Service) CreateRefund(ctx context.Context, req RefundRequest) (*gateway.Refund, error) {
	req.PaymentID = strings.TrimSpace(req.PaymentID)
	if req.PaymentID == "" {
		return nil, validation("paymentId is required")
	}
	if req.Amount <= 0 {
		return nil, validation("amount must be positive")
	}
	if req.Reason == "" {
		req.Reason = gateway.ReasonRequestedByCustomer
	}
	if !gateway.ValidRefundReason(req.Reason) {
		return nil, validationf("unsupported refund reason %q", req.Reason)
	}

	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	refund, err := s.gateway.CreateRefund(gctx, gateway.RefundRequest{
		PaymentID: req.PaymentID,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		return nil, fromGateway("refund", err)
	}

	s.logger.Info("manual refund created",
		zap.String("payment_id", req.PaymentID),
		zap.String("refund_id", refund.ID),
		zap.Int64("amount", req.Amount))

	return refund, nil
}
