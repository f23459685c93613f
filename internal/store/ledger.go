package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/safar/autoshop-checkout/internal/database"
	"github.com/safar/autoshop-checkout/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PurchaseConfirmation struct {
	TransactionID string
	PaymentID     string
	At            time.Time
}

type PurchaseResult struct {
	Transaction      *models.Transaction
	AlreadyPaid      bool
	AppointmentsPaid int64
}

// RefundApplication carries the gateway's accepted refund into the ledger.
// Amounts are in major currency units.
type RefundApplication struct {
	AppointmentID   string
	TransactionID   string
	RefundID        string
	RefundAmount    decimal.Decimal
	DeductionAmount decimal.Decimal
	At              time.Time
}

// Ledger applies inventory-moving batches against PostgreSQL. Every batch
// runs SERIALIZABLE, locks the transaction row before any item row, and
// locks items in id order.
type Ledger struct {
	DB     *sql.DB
	Logger *zap.Logger
}

func NewLedger(db *sql.DB, logger *zap.Logger) *Ledger {
	return &Ledger{DB: db, Logger: logger}
}

func (l *Ledger) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return GetTransaction(ctx, l.DB, id)
}

func (l *Ledger) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	return GetAppointment(ctx, l.DB, id)
}

func (l *Ledger) SetCheckoutSession(ctx context.Context, transactionID, sessionID string) error {
	return SetCheckoutSession(ctx, l.DB, transactionID, sessionID)
}

func (l *Ledger) RecordRefundIssued(ctx context.Context, transactionID, refundID string) error {
	return RecordRefundIssued(ctx, l.DB, transactionID, refundID)
}

// ConfirmPurchase deducts one unit of every basket item and marks the
// transaction and its appointments paid, all in one commit. A transaction
// that is already purchased is reported with AlreadyPaid and left untouched.
func (l *Ledger) ConfirmPurchase(ctx context.Context, c PurchaseConfirmation) (*PurchaseResult, error) {
	var result *PurchaseResult

	err := database.WithRetry(ctx, l.DB, l.txOptions("confirm_purchase", c.TransactionID), func(tx *sql.Tx) error {
		result = nil

		t, err := LockTransaction(ctx, tx, c.TransactionID)
		if err != nil {
			return err
		}

		switch t.Status {
		case models.TransactionPurchased:
			result = &PurchaseResult{Transaction: t, AlreadyPaid: true}
			return nil
		case models.TransactionRefunded:
			return &database.TransitionError{
				Entity: "transaction", ID: t.ID,
				From: string(t.Status), To: string(models.TransactionPurchased),
			}
		}

		lines, err := lockBasket(ctx, tx, t)
		if err != nil {
			return err
		}

		for _, line := range lines {
			if line.item.Inventory < line.qty {
				return &database.OutOfStockError{Kind: string(line.kind), ItemID: line.item.ID}
			}
		}

		for _, line := range lines {
			if err := DeductInventory(ctx, tx, line.item.ID, line.qty); err != nil {
				if errors.Is(err, database.ErrInsufficientStock) {
					return &database.OutOfStockError{Kind: string(line.kind), ItemID: line.item.ID}
				}
				return err
			}
		}

		if err := markTransactionPurchased(ctx, tx, t.ID, c.PaymentID, c.At); err != nil {
			return err
		}

		paid, err := markAppointmentsPaid(ctx, tx, t.ID, c.At)
		if err != nil {
			return err
		}

		t.Status = models.TransactionPurchased
		if c.PaymentID != "" {
			t.PaymentID = c.PaymentID
		}
		verifiedAt := c.At
		t.VerifiedAt = &verifiedAt

		result = &PurchaseResult{Transaction: t, AppointmentsPaid: paid}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ApplyRefund restores one unit of every basket item, cancels the appointment
// and marks the transaction refunded, all in one commit.
func (l *Ledger) ApplyRefund(ctx context.Context, app RefundApplication) (*models.Transaction, error) {
	var refunded *models.Transaction

	err := database.WithRetry(ctx, l.DB, l.txOptions("apply_refund", app.TransactionID), func(tx *sql.Tx) error {
		refunded = nil

		t, err := LockTransaction(ctx, tx, app.TransactionID)
		if err != nil {
			return err
		}
		if !t.Status.CanTransition(models.TransactionRefunded) {
			return &database.TransitionError{
				Entity: "transaction", ID: t.ID,
				From: string(t.Status), To: string(models.TransactionRefunded),
			}
		}

		a, err := LockAppointment(ctx, tx, app.AppointmentID)
		if err != nil {
			return err
		}
		if a.TransactionID != t.ID {
			return database.ErrAppointmentNotFound
		}
		if a.Status != models.AppointmentScheduled || a.PaymentStatus != models.PaymentPaid {
			from := string(a.Status)
			if a.Status == models.AppointmentScheduled {
				from = string(a.PaymentStatus)
			}
			return &database.TransitionError{
				Entity: "appointment", ID: a.ID,
				From: from, To: string(models.AppointmentCancelled),
			}
		}

		lines, err := lockBasket(ctx, tx, t)
		if err != nil {
			return err
		}

		for _, line := range lines {
			if err := RestoreInventory(ctx, tx, line.item.ID, line.qty); err != nil {
				return err
			}
		}

		if err := markAppointmentRefunded(ctx, tx, app); err != nil {
			return err
		}

		if err := markTransactionRefunded(ctx, tx, t.ID, app.RefundID, app.RefundAmount, app.At); err != nil {
			return err
		}

		t.Status = models.TransactionRefunded
		if t.RefundID == "" {
			t.RefundID = app.RefundID
		}
		refundAmount := app.RefundAmount
		t.RefundAmount = &refundAmount
		refundedAt := app.At
		t.RefundedAt = &refundedAt

		refunded = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	return refunded, nil
}

func (l *Ledger) txOptions(op, transactionID string) database.TxOptions {
	opts := database.SerializableTxOptions()
	opts.OnRetry = func(attempt int, err error) {
		if l.Logger == nil {
			return
		}
		l.Logger.Warn("retrying ledger batch",
			zap.String("op", op),
			zap.String("transaction_id", transactionID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return opts
}

type basketLine struct {
	kind models.ItemKind
	item *models.InventoryItem
	qty  int
}

// lockBasket locks the transaction's items in id order and returns one line
// per distinct item.
func lockBasket(ctx context.Context, tx *sql.Tx, t *models.Transaction) ([]basketLine, error) {
	qty := make(map[string]int)
	kinds := make(map[string]models.ItemKind)
	for _, line := range t.Basket() {
		if qty[line.ItemID] == 0 {
			kinds[line.ItemID] = line.Kind
		}
		qty[line.ItemID]++
	}

	ids := make([]string, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	lines := make([]basketLine, 0, len(ids))
	for _, id := range ids {
		item, err := LockInventoryItem(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		lines = append(lines, basketLine{kind: kinds[id], item: item, qty: qty[id]})
	}

	return lines, nil
}
