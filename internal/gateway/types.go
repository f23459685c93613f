package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTimeout is returned when the gateway does not answer within the
// client's deadline.
var ErrTimeout = errors.New("payment gateway timeout")

// Refund reasons accepted by the gateway.
const (
	ReasonDuplicate           = "duplicate"
	ReasonFraudulent          = "fraudulent"
	ReasonRequestedByCustomer = "requested_by_customer"
	ReasonOthers              = "others"
)

func ValidRefundReason(reason string) bool {
	switch reason {
	case ReasonDuplicate, ReasonFraudulent, ReasonRequestedByCustomer, ReasonOthers:
		return true
	}
	return false
}

const MetadataTransactionID = "transactionId"

type CheckoutRequest struct {
	TransactionID string
	Amount        int64
	Description   string
}

type CheckoutSession struct {
	ID          string    `json:"id"`
	CheckoutURL string    `json:"checkout_url"`
	Status      string    `json:"status"`
	Payments    []Payment `json:"payments,omitempty"`
}

// PaidPaymentID returns the first payment on the session that settled.
func (s *CheckoutSession) PaidPaymentID() string {
	for _, p := range s.Payments {
		if p.Status == PaymentStatusPaid {
			return p.ID
		}
	}
	return ""
}

const PaymentStatusPaid = "paid"

type Payment struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

type RefundRequest struct {
	PaymentID string
	Amount    int64
	Reason    string
	Notes     string
}

type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reason    string `json:"reason"`
	Status    string `json:"status"`
}

// ErrorDetail is one entry of the gateway's error response.
type ErrorDetail struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// APIError is a non-2xx gateway response. Detail joins the gateway's own
// messages verbatim.
type APIError struct {
	StatusCode int
	Detail     string
	Errors     []ErrorDetail
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.StatusCode, e.Detail)
}

func newAPIError(status int, details []ErrorDetail) *APIError {
	msgs := make([]string, 0, len(details))
	for _, d := range details {
		if d.Detail != "" {
			msgs = append(msgs, d.Detail)
		}
	}
	detail := strings.Join(msgs, "; ")
	if detail == "" {
		detail = fmt.Sprintf("gateway request failed with status %d", status)
	}
	return &APIError{StatusCode: status, Detail: detail, Errors: details}
}
