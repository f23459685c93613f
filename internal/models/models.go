package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// ItemKind is the basket slot an inventory item fills.
type ItemKind string

const (
	ItemKindColor    ItemKind = "color"
	ItemKindWheel    ItemKind = "wheel"
	ItemKindInterior ItemKind = "interior"
)

func (k ItemKind) Valid() bool {
	switch k {
	case ItemKindColor, ItemKindWheel, ItemKindInterior:
		return true
	}
	return false
}

type InventoryItem struct {
	ID        string          `json:"id"`
	Kind      ItemKind        `json:"kind"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Inventory int             `json:"inventory"`
	Sold      int             `json:"sold"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Version   int             `json:"version"`
}

type Transaction struct {
	ID                string            `json:"id"`
	CustomerID        string            `json:"customer_id"`
	ColorID           string            `json:"color_id"`
	WheelID           string            `json:"wheel_id"`
	InteriorID        string            `json:"interior_id"`
	Price             decimal.Decimal   `json:"price"`
	Status            TransactionStatus `json:"status"`
	PaymentID         string            `json:"payment_id,omitempty"`
	CheckoutSessionID string            `json:"checkout_session_id,omitempty"`
	RefundID          string            `json:"refund_id,omitempty"`
	RefundAmount      *decimal.Decimal  `json:"refund_amount,omitempty"`
	VerifiedAt        *time.Time        `json:"verified_at,omitempty"`
	RefundedAt        *time.Time        `json:"refunded_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	Version           int               `json:"version"`
}

// BasketLine is one inventory reference carried by a transaction.
type BasketLine struct {
	Kind   ItemKind
	ItemID string
}

// Basket lists the three items a transaction deducts on purchase and
// restores on refund, in a fixed kind order.
func (t *Transaction) Basket() []BasketLine {
	return []BasketLine{
		{Kind: ItemKindColor, ItemID: t.ColorID},
		{Kind: ItemKindWheel, ItemID: t.WheelID},
		{Kind: ItemKindInterior, ItemID: t.InteriorID},
	}
}

type Appointment struct {
	ID              string            `json:"id"`
	TransactionID   string            `json:"transaction_id"`
	Date            string            `json:"date"`
	Time            string            `json:"time"`
	PaymentStatus   PaymentStatus     `json:"payment_status"`
	Status          AppointmentStatus `json:"status"`
	RefundStatus    string            `json:"refund_status,omitempty"`
	RefundAmount    *decimal.Decimal  `json:"refund_amount,omitempty"`
	DeductionAmount *decimal.Decimal  `json:"deduction_amount,omitempty"`
	RefundID        string            `json:"refund_id,omitempty"`
	PaidAt          *time.Time        `json:"paid_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

const RefundStatusProcessed = "processed"
