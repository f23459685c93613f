package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/safar/autoshop-checkout/internal/database"
	"github.com/safar/autoshop-checkout/internal/gateway"
)

// Kind classifies a reconciliation failure for the caller.
type Kind int

const (
	KindOperationFailed Kind = iota
	KindNotFound
	KindValidation
	KindUpstream
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindUpstream:
		return "upstream_failure"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "operation_failed"
	}
}

// Error is returned by every Service operation. Message is safe to show to
// the end user; Err keeps the underlying cause for logs and errors.Is.
type Error struct {
	Kind      Kind
	Message   string
	Err       error
	retryable bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the whole operation may succeed.
// Verification is idempotent, so a retry never double-deducts.
func (e *Error) Retryable() bool {
	return e.retryable
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOperationFailed
}

func notFound(msg string, err error) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Err: err}
}

func validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func operationFailed(msg string, err error) *Error {
	return &Error{Kind: KindOperationFailed, Message: msg, Err: err, retryable: true}
}

// fromStore converts ledger errors into caller-facing kinds.
func fromStore(op string, err error) error {
	var oos *database.OutOfStockError
	var transition *database.TransitionError

	switch {
	case errors.As(err, &oos):
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("%s is out of stock", oos.Kind), Err: err}
	case errors.As(err, &transition):
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("%s cannot change from %s to %s", transition.Entity, transition.From, transition.To), Err: err}
	case errors.Is(err, database.ErrTransactionNotFound):
		return notFound("transaction not found", err)
	case errors.Is(err, database.ErrAppointmentNotFound):
		return notFound("appointment not found", err)
	case errors.Is(err, database.ErrInventoryItemNotFound):
		return notFound("inventory item not found", err)
	case errors.Is(err, database.ErrInsufficientStock):
		return &Error{Kind: KindValidation, Message: "item is out of stock", Err: err}
	default:
		return operationFailed(fmt.Sprintf("failed to %s", op), err)
	}
}

// fromGateway converts gateway failures. Timeouts are retryable operation
// failures; rejections keep the gateway's own detail.
func fromGateway(op string, err error) error {
	if errors.Is(err, gateway.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return operationFailed(fmt.Sprintf("payment gateway timed out during %s", op), err)
	}

	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: KindUpstream, Message: apiErr.Detail, Err: err}
	}

	return &Error{Kind: KindUpstream, Message: fmt.Sprintf("payment gateway %s failed", op), Err: err, retryable: true}
}
