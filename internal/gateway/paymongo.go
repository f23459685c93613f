package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/safar/autoshop-checkout/internal/config"
	"go.uber.org/zap"
)

var checkoutPaymentMethods = []string{"card", "gcash", "paymaya", "grab_pay"}

// Client talks to the PayMongo REST API with the merchant secret key.
type Client struct {
	baseURL    string
	secretKey  string
	currency   string
	successURL string
	cancelURL  string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg config.GatewayConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		currency:   cfg.Currency,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type resource[T any] struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes T      `json:"attributes"`
}

type envelope[T any] struct {
	Data resource[T] `json:"data"`
}

type checkoutLineItem struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type checkoutCreateAttributes struct {
	LineItems          []checkoutLineItem `json:"line_items"`
	PaymentMethodTypes []string           `json:"payment_method_types"`
	Description        string             `json:"description"`
	SuccessURL         string             `json:"success_url"`
	CancelURL          string             `json:"cancel_url"`
	ReferenceNumber    string             `json:"reference_number"`
	Metadata           map[string]string  `json:"metadata"`
}

type paymentAttributes struct {
	Amount   int64             `json:"amount"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

type checkoutSessionAttributes struct {
	CheckoutURL string                        `json:"checkout_url"`
	Status      string                        `json:"status"`
	Metadata    map[string]string             `json:"metadata"`
	Payments    []resource[paymentAttributes] `json:"payments"`
}

func (a checkoutSessionAttributes) session(id string) *CheckoutSession {
	s := &CheckoutSession{ID: id, CheckoutURL: a.CheckoutURL, Status: a.Status}
	for _, p := range a.Payments {
		s.Payments = append(s.Payments, Payment{ID: p.ID, Status: p.Attributes.Status, Amount: p.Attributes.Amount})
	}
	return s
}

type refundCreateAttributes struct {
	Amount    int64  `json:"amount"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
	Notes     string `json:"notes,omitempty"`
}

type refundAttributes struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
	Status    string `json:"status"`
}

// CreateCheckoutSession opens a hosted payment page for one transaction. The
// transaction id travels in the session metadata and comes back on webhooks.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	body := envelope[checkoutCreateAttributes]{Data: resource[checkoutCreateAttributes]{
		Attributes: checkoutCreateAttributes{
			LineItems: []checkoutLineItem{{
				Amount:   req.Amount,
				Currency: c.currency,
				Name:     req.Description,
				Quantity: 1,
			}},
			PaymentMethodTypes: checkoutPaymentMethods,
			Description:        req.Description,
			SuccessURL:         withTransaction(c.successURL, req.TransactionID),
			CancelURL:          withTransaction(c.cancelURL, req.TransactionID),
			ReferenceNumber:    req.TransactionID,
			Metadata:           map[string]string{MetadataTransactionID: req.TransactionID},
		},
	}}

	var out envelope[checkoutSessionAttributes]
	if err := c.do(ctx, http.MethodPost, "/checkout_sessions", body, &out); err != nil {
		return nil, err
	}

	c.logger.Info("checkout session created",
		zap.String("transaction_id", req.TransactionID),
		zap.String("session_id", out.Data.ID),
		zap.Int64("amount", req.Amount))

	return out.Data.Attributes.session(out.Data.ID), nil
}

func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	var out envelope[checkoutSessionAttributes]
	if err := c.do(ctx, http.MethodGet, "/checkout_sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out.Data.Attributes.session(out.Data.ID), nil
}

func (c *Client) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	body := envelope[refundCreateAttributes]{Data: resource[refundCreateAttributes]{
		Attributes: refundCreateAttributes{
			Amount:    req.Amount,
			PaymentID: req.PaymentID,
			Reason:    req.Reason,
			Notes:     req.Notes,
		},
	}}

	var out envelope[refundAttributes]
	if err := c.do(ctx, http.MethodPost, "/refunds", body, &out); err != nil {
		return nil, err
	}

	c.logger.Info("refund created",
		zap.String("payment_id", req.PaymentID),
		zap.String("refund_id", out.Data.ID),
		zap.Int64("amount", req.Amount))

	a := out.Data.Attributes
	return &Refund{
		ID:        out.Data.ID,
		PaymentID: a.PaymentID,
		Amount:    a.Amount,
		Currency:  a.Currency,
		Reason:    a.Reason,
		Status:    a.Status,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.secretKey, "")
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure struct {
			Errors []ErrorDetail `json:"errors"`
		}
		_ = json.Unmarshal(raw, &failure)
		apiErr := newAPIError(resp.StatusCode, failure.Errors)
		c.logger.Warn("gateway request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", apiErr.Detail))
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func withTransaction(raw, transactionID string) string {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return raw
	}
	q := u.Query()
	q.Set("transactionId", transactionID)
	u.RawQuery = q.Encode()
	return u.String()
}
