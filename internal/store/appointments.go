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

const appointmentColumns = `id, transaction_id, appointment_date, appointment_time, payment_status, status,
	refund_status, refund_amount, deduction_amount, refund_id, paid_at, cancelled_at,
	created_at, updated_at`

func scanAppointment(row rowScanner) (*models.Appointment, error) {
	a := &models.Appointment{}
	var (
		refundStatus sql.NullString
		refundAmount decimal.NullDecimal
		deduction    decimal.NullDecimal
		refundID     sql.NullString
		paidAt       sql.NullTime
		cancelledAt  sql.NullTime
	)

	err := row.Scan(
		&a.ID,
		&a.TransactionID,
		&a.Date,
		&a.Time,
		&a.PaymentStatus,
		&a.Status,
		&refundStatus,
		&refundAmount,
		&deduction,
		&refundID,
		&paidAt,
		&cancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.RefundStatus = refundStatus.String
	a.RefundID = refundID.String
	if refundAmount.Valid {
		a.RefundAmount = &refundAmount.Decimal
	}
	if deduction.Valid {
		a.DeductionAmount = &deduction.Decimal
	}
	if paidAt.Valid {
		a.PaidAt = &paidAt.Time
	}
	if cancelledAt.Valid {
		a.CancelledAt = &cancelledAt.Time
	}

	return a, nil
}

// CreateAppointment books a slot against a transaction. The transaction row
// is share-locked so a concurrent purchase confirmation either sees the new
// appointment or is seen by it.
func CreateAppointment(ctx context.Context, db *sql.DB, transactionID, date, clock string) (*models.Appointment, error) {
	var created *models.Appointment

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if !validID(transactionID) {
			return database.ErrTransactionNotFound
		}

		var status models.TransactionStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM transactions WHERE id = $1 FOR SHARE`,
			transactionID).Scan(&status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrTransactionNotFound
			}
			return fmt.Errorf("lock transaction: %w", err)
		}

		paymentStatus := models.PaymentUnpaid
		var paidAt *time.Time
		switch status {
		case models.TransactionPurchased:
			paymentStatus = models.PaymentPaid
			now := time.Now()
			paidAt = &now
		case models.TransactionRefunded:
			return &database.TransitionError{Entity: "transaction", ID: transactionID, From: string(status), To: "booked"}
		}

		query := `
			INSERT INTO appointments (id, transaction_id, appointment_date, appointment_time, payment_status, status, paid_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
			RETURNING ` + appointmentColumns

		created, err = scanAppointment(tx.QueryRowContext(ctx, query,
			uuid.NewString(), transactionID, date, clock, paymentStatus, models.AppointmentScheduled, paidAt))
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func GetAppointment(ctx context.Context, db Querier, id string) (*models.Appointment, error) {
	if !validID(id) {
		return nil, database.ErrAppointmentNotFound
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	a, err := scanAppointment(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}

	return a, nil
}

func LockAppointment(ctx context.Context, tx *sql.Tx, id string) (*models.Appointment, error) {
	if !validID(id) {
		return nil, database.ErrAppointmentNotFound
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1 FOR UPDATE`

	a, err := scanAppointment(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("lock appointment: %w", err)
	}

	return a, nil
}

func ListAppointmentsByTransaction(ctx context.Context, db Querier, transactionID string) ([]models.Appointment, error) {
	if !validID(transactionID) {
		return nil, database.ErrTransactionNotFound
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+appointmentColumns+`
		 FROM appointments
		 WHERE transaction_id = $1
		 ORDER BY appointment_date, appointment_time, id`,
		transactionID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	appointments := []models.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		appointments = append(appointments, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return appointments, nil
}

func markAppointmentsPaid(ctx context.Context, tx *sql.Tx, transactionID string, at time.Time) (int64, error) {
	result, err := tx.ExecContext(ctx,
		`UPDATE appointments
		 SET payment_status = $1, paid_at = $2, updated_at = NOW()
		 WHERE transaction_id = $3 AND payment_status = $4`,
		models.PaymentPaid, at, transactionID, models.PaymentUnpaid)
	if err != nil {
		return 0, fmt.Errorf("mark appointments paid: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

func markAppointmentRefunded(ctx context.Context, tx *sql.Tx, app RefundApplication) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE appointments
		 SET status = $1,
		     refund_status = $2,
		     refund_amount = $3,
		     deduction_amount = $4,
		     refund_id = $5,
		     cancelled_at = $6,
		     updated_at = NOW()
		 WHERE id = $7 AND payment_status = $8 AND status = $9`,
		models.AppointmentCancelled, models.RefundStatusProcessed,
		app.RefundAmount, app.DeductionAmount, app.RefundID, app.At,
		app.AppointmentID, models.PaymentPaid, models.AppointmentScheduled)
	if err != nil {
		return fmt.Errorf("mark appointment refunded: %w", err)
	}

	return expectOneRow(result, &database.TransitionError{
		Entity: "appointment", ID: app.AppointmentID,
		From: string(models.AppointmentScheduled), To: string(models.AppointmentCancelled),
	})
}
