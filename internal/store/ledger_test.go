package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/safar/autoshop-checkout/internal/database"
	"github.com/safar/autoshop-checkout/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestCreateTransactionPricesBasket(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	c := seedCatalog(t, db, 2)
	tx := c.newTransaction(t, db)

	if tx.Status != models.TransactionPending {
		t.Errorf("Expected pending, got %s", tx.Status)
	}
	if !tx.Price.Equal(decimal.RequireFromString("10000.50")) {
		t.Errorf("Expected price 10000.50, got %s", tx.Price)
	}

	_, err := CreateTransaction(context.Background(), db, CreateTransactionRequest{
		CustomerID: c.customer.ID,
		ColorID:    c.wheel.ID,
		WheelID:    c.wheel.ID,
		InteriorID: c.interior.ID,
	})
	if !errors.Is(err, database.ErrInventoryItemNotFound) {
		t.Errorf("Expected kind mismatch to be rejected, got %v", err)
	}
}

func TestConfirmPurchase(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedger(db, zap.NewNop())
	c := seedCatalog(t, db, 2)
	tx := c.newTransaction(t, db)

	appt, err := CreateAppointment(ctx, db, tx.ID, "2026-04-01", "10:00")
	if err != nil {
		t.Fatalf("Create appointment: %v", err)
	}
	if appt.PaymentStatus != models.PaymentUnpaid {
		t.Errorf("Expected unpaid appointment, got %s", appt.PaymentStatus)
	}

	res, err := ledger.ConfirmPurchase(ctx, PurchaseConfirmation{TransactionID: tx.ID, PaymentID: "pay_1", At: time.Now()})
	if err != nil {
		t.Fatalf("ConfirmPurchase: %v", err)
	}
	if res.AlreadyPaid || res.AppointmentsPaid != 1 {
		t.Errorf("Unexpected result %+v", res)
	}

	again, err := ledger.ConfirmPurchase(ctx, PurchaseConfirmation{TransactionID: tx.ID, PaymentID: "pay_2", At: time.Now()})
	if err != nil {
		t.Fatalf("Second ConfirmPurchase: %v", err)
	}
	if !again.AlreadyPaid {
		t.Error("Second confirmation should report AlreadyPaid")
	}

	for _, id := range []string{c.color.ID, c.wheel.ID, c.interior.ID} {
		item, err := GetInventoryItem(ctx, db, id)
		if err != nil {
			t.Fatalf("Get item: %v", err)
		}
		if item.Inventory != 1 || item.Sold != 1 {
			t.Errorf("Item %s: expected 1/1, got %d/%d", item.Kind, item.Inventory, item.Sold)
		}
	}

	stored, err := GetTransaction(ctx, db, tx.ID)
	if err != nil {
		t.Fatalf("Get transaction: %v", err)
	}
	if stored.Status != models.TransactionPurchased || stored.PaymentID != "pay_1" || stored.VerifiedAt == nil {
		t.Errorf("Unexpected transaction %+v", stored)
	}

	paid, err := GetAppointment(ctx, db, appt.ID)
	if err != nil {
		t.Fatalf("Get appointment: %v", err)
	}
	if paid.PaymentStatus != models.PaymentPaid || paid.PaidAt == nil {
		t.Errorf("Unexpected appointment %+v", paid)
	}

	late, err := CreateAppointment(ctx, db, tx.ID, "2026-04-02", "2:30 PM")
	if err != nil {
		t.Fatalf("Create appointment after purchase: %v", err)
	}
	if late.PaymentStatus != models.PaymentPaid {
		t.Errorf("Appointment booked after purchase should be paid, got %s", late.PaymentStatus)
	}
}

func TestConfirmPurchaseOutOfStockIsAtomic(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedger(db, zap.NewNop())
	c := seedCatalog(t, db, 1)

	if _, err := SetInventoryOptimistic(ctx, db, c.interior.ID, 0, c.interior.Version); err != nil {
		t.Fatalf("Empty interior stock: %v", err)
	}

	tx := c.newTransaction(t, db)
	_, err := ledger.ConfirmPurchase(ctx, PurchaseConfirmation{TransactionID: tx.ID, At: time.Now()})

	var oos *database.OutOfStockError
	if !errors.As(err, &oos) || oos.Kind != string(models.ItemKindInterior) {
		t.Fatalf("Expected interior out of stock, got %v", err)
	}

	color, _ := GetInventoryItem(ctx, db, c.color.ID)
	if color.Inventory != 1 || color.Sold != 0 {
		t.Errorf("Color must be untouched, got %d/%d", color.Inventory, color.Sold)
	}
	stored, _ := GetTransaction(ctx, db, tx.ID)
	if stored.Status != models.TransactionPending {
		t.Errorf("Expected pending, got %s", stored.Status)
	}
}

func TestConfirmPurchaseConcurrentBuyersLastUnit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedger(db, zap.NewNop())
	c := seedCatalog(t, db, 1)

	txs := []*models.Transaction{c.newTransaction(t, db), c.newTransaction(t, db)}

	var wg sync.WaitGroup
	errs := make([]error, len(txs))
	for i, tx := range txs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = ledger.ConfirmPurchase(ctx, PurchaseConfirmation{TransactionID: id, At: time.Now()})
		}(i, tx.ID)
	}
	wg.Wait()

	succeeded, outOfStock := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, database.ErrInsufficientStock):
			outOfStock++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if succeeded != 1 || outOfStock != 1 {
		t.Errorf("Expected one success and one out of stock, got %d/%d", succeeded, outOfStock)
	}

	for _, id := range []string{c.color.ID, c.wheel.ID, c.interior.ID} {
		item, _ := GetInventoryItem(ctx, db, id)
		if item.Inventory != 0 || item.Sold != 1 {
			t.Errorf("Item %s: expected 0/1, got %d/%d", item.Kind, item.Inventory, item.Sold)
		}
	}
}

func TestConfirmPurchaseConcurrentDuplicates(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedger(db, zap.NewNop())
	c := seedCatalog(t, db, 5)
	tx := c.newTransaction(t, db)

	const callers = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.ConfirmPurchase(ctx, PurchaseConfirmation{TransactionID: tx.ID, At: time.Now()})
			if err != nil {
				t.Errorf("ConfirmPurchase: %v", err)
				return
			}
			if !res.AlreadyPaid {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fresh != 1 {
		t.Errorf("Expected exactly one fresh confirmation, got %d", fresh)
	}
	color, _ := GetInventoryItem(ctx, db, c.color.ID)
	if color.Sold != 1 || color.Inventory != 4 {
		t.Errorf("Expected one deduction, got %d/%d", color.Inventory, color.Sold)
	}
}

func TestApplyRefund(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedger(db, zap.NewNop())
	c := seedCatalog(t, db, 3)
	tx := c.newTransaction(t, db)

	appt, err := CreateAppointment(ctx, db, tx.ID, "2026-05-01", "09:00")
	if err != nil {
		t.Fatalf("Create appointment: %v", err)
	}

	app := RefundApplication{
		AppointmentID:   appt.ID,
		TransactionID:   tx.ID,
		RefundID:        "ref_1",
		RefundAmount:    decimal.RequireFromString("9800.49"),
		DeductionAmount: decimal.RequireFromString("200.01"),
		At:              time.Now(),
	}

	_, err = ledger.ApplyRefund(ctx, app)
	if !errors.Is(err, database.ErrInvalidTransition) {
		t.Fatalf("Refunding a pending transaction should fail, got %v", err)
	}

	if _, err := ledger.ConfirmPurchase(ctx, PurchaseConfirmation{TransactionID: tx.ID, PaymentID: "pay_1", At: time.Now()}); err != nil {
		t.Fatalf("ConfirmPurchase: %v", err)
	}

	refunded, err := ledger.ApplyRefund(ctx, app)
	if err != nil {
		t.Fatalf("ApplyRefund: %v", err)
	}
	if refunded.Status != models.TransactionRefunded {
		t.Errorf("Expected refunded, got %s", refunded.Status)
	}

	for _, id := range []string{c.color.ID, c.wheel.ID, c.interior.ID} {
		item, _ := GetInventoryItem(ctx, db, id)
		if item.Inventory != 3 || item.Sold != 0 {
			t.Errorf("Item %s not restored: %d/%d", item.Kind, item.Inventory, item.Sold)
		}
	}

	stored, _ := GetAppointment(ctx, db, appt.ID)
	if stored.Status != models.AppointmentCancelled || stored.RefundStatus != models.RefundStatusProcessed || stored.RefundID != "ref_1" {
		t.Errorf("Unexpected appointment %+v", stored)
	}
	if stored.DeductionAmount == nil || !stored.DeductionAmount.Equal(app.DeductionAmount) {
		t.Errorf("Expected deduction %s, got %v", app.DeductionAmount, stored.DeductionAmount)
	}

	_, err = ledger.ApplyRefund(ctx, app)
	if !errors.Is(err, database.ErrInvalidTransition) {
		t.Errorf("Second refund should fail, got %v", err)
	}

	_, err = ledger.ConfirmPurchase(ctx, PurchaseConfirmation{TransactionID: tx.ID, At: time.Now()})
	if !errors.Is(err, database.ErrInvalidTransition) {
		t.Errorf("Confirming a refunded transaction should fail, got %v", err)
	}
}

func TestRecordRefundIssued(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedger(db, zap.NewNop())
	c := seedCatalog(t, db, 3)
	tx := c.newTransaction(t, db)

	if err := ledger.RecordRefundIssued(ctx, tx.ID, "ref_9"); !errors.Is(err, database.ErrInvalidTransition) {
		t.Fatalf("Recording a refund on a pending transaction should fail, got %v", err)
	}

	if _, err := ledger.ConfirmPurchase(ctx, PurchaseConfirmation{TransactionID: tx.ID, PaymentID: "pay_9", At: time.Now()}); err != nil {
		t.Fatalf("ConfirmPurchase: %v", err)
	}

	if err := ledger.RecordRefundIssued(ctx, tx.ID, "ref_9"); err != nil {
		t.Fatalf("RecordRefundIssued: %v", err)
	}
	if err := ledger.RecordRefundIssued(ctx, tx.ID, "ref_10"); !errors.Is(err, database.ErrInvalidTransition) {
		t.Errorf("A second refund id must not overwrite the first, got %v", err)
	}

	stored, err := GetTransaction(ctx, db, tx.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if stored.Status != models.TransactionPurchased || stored.RefundID != "ref_9" {
		t.Errorf("Expected purchased with ref_9, got %s %q", stored.Status, stored.RefundID)
	}

	appt, err := CreateAppointment(ctx, db, tx.ID, "2026-05-01", "09:00")
	if err != nil {
		t.Fatalf("Create appointment: %v", err)
	}
	refunded, err := ledger.ApplyRefund(ctx, RefundApplication{
		AppointmentID:   appt.ID,
		TransactionID:   tx.ID,
		RefundID:        "ref_9",
		RefundAmount:    decimal.RequireFromString("9800.49"),
		DeductionAmount: decimal.RequireFromString("200.01"),
		At:              time.Now(),
	})
	if err != nil {
		t.Fatalf("ApplyRefund: %v", err)
	}
	if refunded.RefundID != "ref_9" {
		t.Errorf("Expected ref_9 kept, got %q", refunded.RefundID)
	}
}

func TestListTransactionsCursor(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	c := seedCatalog(t, db, 5)

	created := map[string]bool{}
	for i := 0; i < 5; i++ {
		created[c.newTransaction(t, db).ID] = true
	}

	seen := map[string]bool{}
	cursor := ""
	for pages := 0; pages < 5; pages++ {
		page, err := ListTransactionsCursor(ctx, db, c.customer.ID, cursor, 2)
		if err != nil {
			t.Fatalf("List page %d: %v", pages, err)
		}
		for _, tx := range page.Items.([]models.Transaction) {
			if seen[tx.ID] {
				t.Errorf("Transaction %s returned twice", tx.ID)
			}
			seen[tx.ID] = true
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	if len(seen) != len(created) {
		t.Errorf("Expected %d transactions, saw %d", len(created), len(seen))
	}

	if _, err := ListTransactionsCursor(ctx, db, c.customer.ID, "%%%", 2); !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("Expected ErrInvalidCursor, got %v", err)
	}
}

func TestSetCheckoutSessionRequiresPending(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedger(db, zap.NewNop())
	c := seedCatalog(t, db, 2)
	tx := c.newTransaction(t, db)

	if err := ledger.SetCheckoutSession(ctx, tx.ID, "cs_1"); err != nil {
		t.Fatalf("SetCheckoutSession: %v", err)
	}
	stored, _ := ledger.GetTransaction(ctx, tx.ID)
	if stored.CheckoutSessionID != "cs_1" {
		t.Errorf("Expected cs_1, got %q", stored.CheckoutSessionID)
	}

	if _, err := ledger.ConfirmPurchase(ctx, PurchaseConfirmation{TransactionID: tx.ID, At: time.Now()}); err != nil {
		t.Fatalf("ConfirmPurchase: %v", err)
	}
	if err := ledger.SetCheckoutSession(ctx, tx.ID, "cs_2"); !errors.Is(err, database.ErrInvalidTransition) {
		t.Errorf("Expected transition error, got %v", err)
	}
}
