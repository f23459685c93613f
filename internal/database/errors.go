package database

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

// sqlStateClass lists the SQLSTATE codes worth rerunning a batch for.
// Everything else, constraint violations included, is permanent.
var sqlStateClass = map[pq.ErrorCode]ErrorClass{
	"40001": ErrorClassSerialization,
	"40P01": ErrorClassDeadlock,
	"55P03": ErrorClassTransient,
}

func ClassifyError(err error) ErrorClass {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return ErrorClassPermanent
	}
	if class, ok := sqlStateClass[pqErr.Code]; ok {
		return class
	}
	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	return ClassifyError(err) != ErrorClassPermanent
}

// IsUniqueViolation reports whether err is a PostgreSQL 23505 error.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// IsCheckViolation reports whether err is a PostgreSQL 23514 error.
func IsCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23514"
}

var (
	ErrCustomerNotFound      = errors.New("customer not found")
	ErrInventoryItemNotFound = errors.New("inventory item not found")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrAppointmentNotFound   = errors.New("appointment not found")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrOptimisticLockFailed  = errors.New("optimistic lock failed")
)

// OutOfStockError names the basket slot that could not be fulfilled.
type OutOfStockError struct {
	Kind   string
	ItemID string
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("%s %s is out of stock", e.Kind, e.ItemID)
}

func (e *OutOfStockError) Unwrap() error {
	return ErrInsufficientStock
}

// TransitionError records a rejected status change on a transaction or appointment.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
