package reconcile

import "github.com/shopspring/decimal"

const (
	EventTransactionPurchased = "transaction.purchased"
	EventTransactionRefunded  = "transaction.refunded"
)

type PurchasedPayload struct {
	TransactionID    string          `json:"transactionId"`
	PaymentID        string          `json:"paymentId,omitempty"`
	Price            decimal.Decimal `json:"price"`
	Source           string          `json:"source"`
	AppointmentsPaid int64           `json:"appointmentsPaid"`
}

type RefundedPayload struct {
	TransactionID   string          `json:"transactionId"`
	AppointmentID   string          `json:"appointmentId"`
	RefundID        string          `json:"refundId"`
	RefundAmount    decimal.Decimal `json:"refundAmount"`
	DeductionAmount decimal.Decimal `json:"deductionAmount"`
}
