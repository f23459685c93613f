package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/safar/autoshop-checkout/internal/gateway"
	"github.com/safar/autoshop-checkout/internal/reconcile"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReconcileHandler exposes the payment and refund operations.
type ReconcileHandler struct {
	Service *reconcile.Service
	Logger  *zap.Logger
}

func (h *ReconcileHandler) Register(r chi.Router) {
	r.Post("/payments/verify", h.verify)
	r.Post("/appointments/cancel", h.cancel)
	r.Post("/refunds", h.createRefund)
	r.Post("/checkout", h.createCheckout)
	r.Post("/webhooks/paymongo", h.webhook)
	r.Get("/transactions/{id}/status", h.status)
}

type verifyReq struct {
	TransactionID string `json:"transactionId"`
}

type verifyResp struct {
	Success     bool `json:"success"`
	AlreadyPaid bool `json:"alreadyPaid,omitempty"`
}

func (h *ReconcileHandler) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyReq
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Service.Verify(r.Context(), req.TransactionID)
	if err != nil {
		writeServiceError(w, h.Logger, "verify", err)
		return
	}

	writeJSON(w, http.StatusOK, verifyResp{Success: true, AlreadyPaid: res.AlreadyPaid})
}

type cancelReq struct {
	AppointmentID string `json:"appointmentId"`
	TransactionID string `json:"transactionId"`
}

type cancelResp struct {
	Success         bool        `json:"success"`
	RefundID        string      `json:"refundId"`
	RefundAmount    json.Number `json:"refundAmount"`
	DeductionAmount json.Number `json:"deductionAmount"`
	Message         string      `json:"message"`
}

func (h *ReconcileHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Service.CancelWithRefund(r.Context(), reconcile.CancelRequest{
		AppointmentID: req.AppointmentID,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		writeServiceError(w, h.Logger, "cancel", err)
		return
	}

	writeJSON(w, http.StatusOK, cancelResp{
		Success:         true,
		RefundID:        res.RefundID,
		RefundAmount:    amount(res.RefundAmount),
		DeductionAmount: amount(res.DeductionAmount),
		Message:         res.Message,
	})
}

func amount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

type refundReq struct {
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

func (h *ReconcileHandler) createRefund(w http.ResponseWriter, r *http.Request) {
	var req refundReq
	if !decodeJSON(w, r, &req) {
		return
	}

	refund, err := h.Service.CreateRefund(r.Context(), reconcile.RefundRequest{
		PaymentID: req.PaymentID,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		// Gateway rejections keep their own status and detail for the caller.
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			writeJSON(w, apiErr.StatusCode, map[string]any{
				"error":   apiErr.Detail,
				"details": apiErr.Errors,
			})
			return
		}
		writeServiceError(w, h.Logger, "refund", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "refund": refund})
}

type checkoutReq struct {
	TransactionID string `json:"transactionId"`
	Amount        int64  `json:"amount"`
	Description   string `json:"description"`
}

type checkoutResp struct {
	Success     bool   `json:"success"`
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

func (h *ReconcileHandler) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Service.CreateCheckout(r.Context(), reconcile.CheckoutRequest{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Description:   req.Description,
	})
	if err != nil {
		writeServiceError(w, h.Logger, "checkout", err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResp{Success: true, CheckoutURL: res.CheckoutURL, SessionID: res.SessionID})
}

func (h *ReconcileHandler) webhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.Service.HandleWebhook(r.Context(), r.Header.Get(gateway.SignatureHeader), body)
	if err != nil {
		writeServiceError(w, h.Logger, "webhook", err)
		return
	}

	h.Logger.Info("webhook processed",
		zap.String("event_id", res.EventID),
		zap.String("event_type", res.EventType),
		zap.Bool("handled", res.Handled),
		zap.Bool("already_paid", res.AlreadyPaid))

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *ReconcileHandler) status(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.TransactionStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.Logger, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
