package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/autoshop-checkout/internal/database"
	"github.com/safar/autoshop-checkout/internal/models"
	"github.com/shopspring/decimal"
)

type CreateTransactionRequest struct {
	CustomerID string
	ColorID    string
	WheelID    string
	InteriorID string
}

const transactionColumns = `id, customer_id, color_id, wheel_id, interior_id, price, status,
	payment_id, checkout_session_id, refund_amount, refund_id, verified_at, refunded_at,
	created_at, updated_at, version`

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	t := &models.Transaction{}
	var (
		paymentID    sql.NullString
		sessionID    sql.NullString
		refundAmount decimal.NullDecimal
		refundID     sql.NullString
		verifiedAt   sql.NullTime
		refundedAt   sql.NullTime
	)

	err := row.Scan(
		&t.ID,
		&t.CustomerID,
		&t.ColorID,
		&t.WheelID,
		&t.InteriorID,
		&t.Price,
		&t.Status,
		&paymentID,
		&sessionID,
		&refundAmount,
		&refundID,
		&verifiedAt,
		&refundedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.Version,
	)
	if err != nil {
		return nil, err
	}

	t.PaymentID = paymentID.String
	t.CheckoutSessionID = sessionID.String
	t.RefundID = refundID.String
	if refundAmount.Valid {
		t.RefundAmount = &refundAmount.Decimal
	}
	if verifiedAt.Valid {
		t.VerifiedAt = &verifiedAt.Time
	}
	if refundedAt.Valid {
		t.RefundedAt = &refundedAt.Time
	}

	return t, nil
}

// CreateTransaction records a pending order for a configured vehicle. The
// price is the sum of the three item prices at creation time.
func CreateTransaction(ctx context.Context, db *sql.DB, req CreateTransactionRequest) (*models.Transaction, error) {
	var created *models.Transaction

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if !validID(req.CustomerID) {
			return database.ErrCustomerNotFound
		}
		exists, err := customerExists(ctx, tx, req.CustomerID)
		if err != nil {
			return err
		}
		if !exists {
			return database.ErrCustomerNotFound
		}

		basket := []models.BasketLine{
			{Kind: models.ItemKindColor, ItemID: req.ColorID},
			{Kind: models.ItemKindWheel, ItemID: req.WheelID},
			{Kind: models.ItemKindInterior, ItemID: req.InteriorID},
		}

		var total decimal.Decimal
		for _, line := range basket {
			item, err := GetInventoryItem(ctx, tx, line.ItemID)
			if err != nil {
				if errors.Is(err, database.ErrInventoryItemNotFound) {
					return fmt.Errorf("%s %s: %w", line.Kind, line.ItemID, err)
				}
				return err
			}
			if item.Kind != line.Kind {
				return fmt.Errorf("item %s is a %s, not a %s: %w", item.ID, item.Kind, line.Kind, database.ErrInventoryItemNotFound)
			}
			total = total.Add(item.Price)
		}

		query := `
			INSERT INTO transactions (id, customer_id, color_id, wheel_id, interior_id, price, status, created_at, updated_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), 1)
			RETURNING ` + transactionColumns

		created, err = scanTransaction(tx.QueryRowContext(ctx, query,
			uuid.NewString(), req.CustomerID, req.ColorID, req.WheelID, req.InteriorID,
			total, models.TransactionPending))
		if err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func GetTransaction(ctx context.Context, db Querier, id string) (*models.Transaction, error) {
	if !validID(id) {
		return nil, database.ErrTransactionNotFound
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	t, err := scanTransaction(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	return t, nil
}

// LockTransaction reads a transaction under a row lock held until tx ends.
func LockTransaction(ctx context.Context, tx *sql.Tx, id string) (*models.Transaction, error) {
	if !validID(id) {
		return nil, database.ErrTransactionNotFound
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`

	t, err := scanTransaction(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("lock transaction: %w", err)
	}

	return t, nil
}

// SetCheckoutSession remembers the gateway session opened for a pending
// transaction.
func SetCheckoutSession(ctx context.Context, db Querier, id, sessionID string) error {
	if !validID(id) {
		return database.ErrTransactionNotFound
	}

	result, err := db.ExecContext(ctx,
		`UPDATE transactions
		 SET checkout_session_id = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2 AND status = $3`,
		sessionID, id, models.TransactionPending)
	if err != nil {
		return fmt.Errorf("set checkout session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		t, err := GetTransaction(ctx, db, id)
		if err != nil {
			return err
		}
		return &database.TransitionError{Entity: "transaction", ID: id, From: string(t.Status), To: "checkout"}
	}

	return nil
}

// RecordRefundIssued stores the gateway refund reference on a purchased
// transaction before the refund batch runs, so a retried cancellation can
// finish the batch without asking the gateway for a second refund.
func RecordRefundIssued(ctx context.Context, db Querier, id, refundID string) error {
	if !validID(id) {
		return database.ErrTransactionNotFound
	}

	result, err := db.ExecContext(ctx,
		`UPDATE transactions
		 SET refund_id = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2 AND status = $3 AND refund_id IS NULL`,
		refundID, id, models.TransactionPurchased)
	if err != nil {
		return fmt.Errorf("record refund: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		t, err := GetTransaction(ctx, db, id)
		if err != nil {
			return err
		}
		from := string(t.Status)
		if t.RefundID != "" {
			from = "refund " + t.RefundID
		}
		return &database.TransitionError{Entity: "transaction", ID: id, From: from, To: "refund issued"}
	}

	return nil
}

func markTransactionPurchased(ctx context.Context, tx *sql.Tx, id, paymentID string, at time.Time) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE transactions
		 SET status = $1,
		     payment_id = COALESCE(NULLIF($2, ''), payment_id),
		     verified_at = $3,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $4 AND status = $5`,
		models.TransactionPurchased, paymentID, at, id, models.TransactionPending)
	if err != nil {
		return fmt.Errorf("mark transaction purchased: %w", err)
	}

	return expectOneRow(result, &database.TransitionError{
		Entity: "transaction", ID: id,
		From: string(models.TransactionPending), To: string(models.TransactionPurchased),
	})
}

func markTransactionRefunded(ctx context.Context, tx *sql.Tx, id, refundID string, refundAmount decimal.Decimal, at time.Time) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE transactions
		 SET status = $1,
		     refund_amount = $2,
		     refund_id = COALESCE(refund_id, NULLIF($3, '')),
		     refunded_at = $4,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $5 AND status = $6`,
		models.TransactionRefunded, refundAmount, refundID, at, id, models.TransactionPurchased)
	if err != nil {
		return fmt.Errorf("mark transaction refunded: %w", err)
	}

	return expectOneRow(result, &database.TransitionError{
		Entity: "transaction", ID: id,
		From: string(models.TransactionPurchased), To: string(models.TransactionRefunded),
	})
}

func expectOneRow(result sql.Result, otherwise error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected != 1 {
		return otherwise
	}
	return nil
}

func ListTransactionsCursor(ctx context.Context, db Querier, customerID string, cursor string, limit int) (*CursorPage, error) {
	cursorData, hasCursor, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if !validID(customerID) {
		return nil, database.ErrCustomerNotFound
	}

	var rows *sql.Rows
	if hasCursor {
		rows, err = db.QueryContext(ctx, `
			SELECT `+transactionColumns+`
			FROM transactions
			WHERE customer_id = $1
			  AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`,
			customerID, cursorData.CreatedAt, cursorData.ID, limit+1)
	} else {
		rows, err = db.QueryContext(ctx, `
			SELECT `+transactionColumns+`
			FROM transactions
			WHERE customer_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`,
			customerID, limit+1)
	}
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(transactions) > limit
	if hasMore {
		transactions = transactions[:limit]
	}

	var nextCursor string
	if hasMore && len(transactions) > 0 {
		last := transactions[len(transactions)-1]
		nextCursor = EncodeCursor(TransactionCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	return &CursorPage{
		Items:      transactions,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
