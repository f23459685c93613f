// Package reconciletest provides in-memory doubles for the reconcile
// service's collaborators.
package reconciletest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/safar/autoshop-checkout/internal/database"
	"github.com/safar/autoshop-checkout/internal/models"
	"github.com/safar/autoshop-checkout/internal/store"
	"github.com/shopspring/decimal"
)

// Repository is an in-memory ledger with the same all-or-nothing rules as
// store.Ledger. All batches run under a single mutex.
type Repository struct {
	mu           sync.Mutex
	items        map[string]*models.InventoryItem
	transactions map[string]*models.Transaction
	appointments map[string]*models.Appointment

	// FailConfirm, FailRecord and FailRefund make the next call fail before
	// any change.
	FailConfirm error
	FailRecord  error
	FailRefund  error

	ConfirmCalls int
	RefundCalls  int

	// AfterRead runs once, after the next GetTransaction has taken its
	// snapshot and released the lock.
	AfterRead func(id string)
}

func NewRepository() *Repository {
	return &Repository{
		items:        make(map[string]*models.InventoryItem),
		transactions: make(map[string]*models.Transaction),
		appointments: make(map[string]*models.Appointment),
	}
}

func (r *Repository) AddItem(kind models.ItemKind, price string, inventory int) *models.InventoryItem {
	r.mu.Lock()
	defer r.mu.Unlock()

	item := &models.InventoryItem{
		ID:        uuid.NewString(),
		Kind:      kind,
		Name:      string(kind),
		Price:     decimal.RequireFromString(price),
		Inventory: inventory,
		Version:   1,
	}
	r.items[item.ID] = item
	cp := *item
	return &cp
}

// AddTransaction creates a pending transaction priced at the sum of its
// three items.
func (r *Repository) AddTransaction(colorID, wheelID, interiorID string) *models.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := &models.Transaction{
		ID:         uuid.NewString(),
		CustomerID: uuid.NewString(),
		ColorID:    colorID,
		WheelID:    wheelID,
		InteriorID: interiorID,
		Status:     models.TransactionPending,
		Version:    1,
	}
	price := decimal.Zero
	for _, line := range t.Basket() {
		if item, ok := r.items[line.ItemID]; ok {
			price = price.Add(item.Price)
		}
	}
	t.Price = price
	r.transactions[t.ID] = t
	cp := *t
	return &cp
}

func (r *Repository) AddAppointment(transactionID, date, clock string) *models.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := &models.Appointment{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		Date:          date,
		Time:          clock,
		PaymentStatus: models.PaymentUnpaid,
		Status:        models.AppointmentScheduled,
	}
	if t, ok := r.transactions[transactionID]; ok && t.Status == models.TransactionPurchased {
		a.PaymentStatus = models.PaymentPaid
	}
	r.appointments[a.ID] = a
	cp := *a
	return &cp
}

// Update mutates a stored transaction in place, for arranging test states.
func (r *Repository) Update(id string, fn func(t *models.Transaction)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.transactions[id]; ok {
		fn(t)
	}
}

func (r *Repository) Item(id string) models.InventoryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.items[id]
}

func (r *Repository) Transaction(id string) models.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.transactions[id]
}

func (r *Repository) Appointment(id string) models.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.appointments[id]
}

func (r *Repository) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	r.mu.Lock()
	t, ok := r.transactions[id]
	var cp models.Transaction
	if ok {
		cp = *t
	}
	hook := r.AfterRead
	r.AfterRead = nil
	r.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	if !ok {
		return nil, database.ErrTransactionNotFound
	}
	return &cp, nil
}

func (r *Repository) GetAppointment(_ context.Context, id string) (*models.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, database.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *Repository) SetCheckoutSession(_ context.Context, transactionID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transactions[transactionID]
	if !ok {
		return database.ErrTransactionNotFound
	}
	if t.Status != models.TransactionPending {
		return &database.TransitionError{Entity: "transaction", ID: t.ID, From: string(t.Status), To: string(models.TransactionPending)}
	}
	t.CheckoutSessionID = sessionID
	return nil
}

func (r *Repository) ConfirmPurchase(_ context.Context, c store.PurchaseConfirmation) (*store.PurchaseResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ConfirmCalls++
	if err := r.FailConfirm; err != nil {
		r.FailConfirm = nil
		return nil, err
	}

	t, ok := r.transactions[c.TransactionID]
	if !ok {
		return nil, database.ErrTransactionNotFound
	}

	switch t.Status {
	case models.TransactionPurchased:
		cp := *t
		return &store.PurchaseResult{Transaction: &cp, AlreadyPaid: true}, nil
	case models.TransactionRefunded:
		return nil, &database.TransitionError{Entity: "transaction", ID: t.ID, From: string(t.Status), To: string(models.TransactionPurchased)}
	}

	need := make(map[string]int)
	for _, line := range t.Basket() {
		item, ok := r.items[line.ItemID]
		if !ok {
			return nil, database.ErrInventoryItemNotFound
		}
		need[item.ID]++
		if item.Inventory < need[item.ID] {
			return nil, &database.OutOfStockError{Kind: string(line.Kind), ItemID: item.ID}
		}
	}

	for id, qty := range need {
		r.items[id].Inventory -= qty
		r.items[id].Sold += qty
		r.items[id].Version++
	}

	t.Status = models.TransactionPurchased
	if c.PaymentID != "" {
		t.PaymentID = c.PaymentID
	}
	at := c.At
	t.VerifiedAt = &at
	t.Version++

	var paid int64
	for _, a := range r.appointments {
		if a.TransactionID == t.ID && a.PaymentStatus == models.PaymentUnpaid {
			a.PaymentStatus = models.PaymentPaid
			paidAt := c.At
			a.PaidAt = &paidAt
			paid++
		}
	}

	cp := *t
	return &store.PurchaseResult{Transaction: &cp, AppointmentsPaid: paid}, nil
}

func (r *Repository) RecordRefundIssued(_ context.Context, transactionID, refundID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.FailRecord; err != nil {
		r.FailRecord = nil
		return err
	}

	t, ok := r.transactions[transactionID]
	if !ok {
		return database.ErrTransactionNotFound
	}
	if t.Status != models.TransactionPurchased || t.RefundID != "" {
		return &database.TransitionError{Entity: "transaction", ID: t.ID, From: string(t.Status), To: "refund issued"}
	}
	t.RefundID = refundID
	t.Version++
	return nil
}

func (r *Repository) ApplyRefund(_ context.Context, app store.RefundApplication) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.RefundCalls++
	if err := r.FailRefund; err != nil {
		r.FailRefund = nil
		return nil, err
	}

	t, ok := r.transactions[app.TransactionID]
	if !ok {
		return nil, database.ErrTransactionNotFound
	}
	if !t.Status.CanTransition(models.TransactionRefunded) {
		return nil, &database.TransitionError{Entity: "transaction", ID: t.ID, From: string(t.Status), To: string(models.TransactionRefunded)}
	}

	a, ok := r.appointments[app.AppointmentID]
	if !ok || a.TransactionID != t.ID {
		return nil, database.ErrAppointmentNotFound
	}
	if a.Status != models.AppointmentScheduled || a.PaymentStatus != models.PaymentPaid {
		return nil, &database.TransitionError{Entity: "appointment", ID: a.ID, From: string(a.Status), To: string(models.AppointmentCancelled)}
	}

	for _, line := range t.Basket() {
		item, ok := r.items[line.ItemID]
		if !ok {
			return nil, database.ErrInventoryItemNotFound
		}
		if item.Sold < 1 {
			return nil, database.ErrInsufficientStock
		}
	}
	for _, line := range t.Basket() {
		r.items[line.ItemID].Inventory++
		r.items[line.ItemID].Sold--
		r.items[line.ItemID].Version++
	}

	at := app.At
	refundAmount := app.RefundAmount
	deduction := app.DeductionAmount
	a.Status = models.AppointmentCancelled
	a.RefundStatus = models.RefundStatusProcessed
	a.RefundAmount = &refundAmount
	a.DeductionAmount = &deduction
	a.RefundID = app.RefundID
	a.CancelledAt = &at

	t.Status = models.TransactionRefunded
	if t.RefundID == "" {
		t.RefundID = app.RefundID
	}
	t.RefundAmount = &refundAmount
	t.RefundedAt = &at
	t.Version++

	cp := *t
	return &cp, nil
}

// Now is a fixed clock for Options.Now.
func Now(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
