package database

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassPermanent},
		{"serialization", &pq.Error{Code: "40001"}, ErrorClassSerialization},
		{"deadlock", &pq.Error{Code: "40P01"}, ErrorClassDeadlock},
		{"lock not available", &pq.Error{Code: "55P03"}, ErrorClassTransient},
		{"unique violation", &pq.Error{Code: "23505"}, ErrorClassPermanent},
		{"wrapped serialization", fmt.Errorf("update stock: %w", &pq.Error{Code: "40001"}), ErrorClassSerialization},
		{"no rows", sql.ErrNoRows, ErrorClassPermanent},
		{"sentinel", ErrInsufficientStock, ErrorClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&pq.Error{Code: "40001"}) {
		t.Error("Serialization failure should be retryable")
	}
	if IsRetryable(ErrTransactionNotFound) {
		t.Error("Not found should not be retryable")
	}
}

func TestOutOfStockErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("confirm purchase: %w", &OutOfStockError{Kind: "wheel", ItemID: "w-1"})

	if !errors.Is(err, ErrInsufficientStock) {
		t.Error("OutOfStockError should match ErrInsufficientStock")
	}

	var oos *OutOfStockError
	if !errors.As(err, &oos) || oos.Kind != "wheel" {
		t.Errorf("Expected wheel out of stock, got %v", oos)
	}
}

func TestTransitionErrorUnwraps(t *testing.T) {
	err := &TransitionError{Entity: "transaction", ID: "t-1", From: "pending", To: "refunded"}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("TransitionError should match ErrInvalidTransition")
	}
}

func TestConstraintViolations(t *testing.T) {
	dup := fmt.Errorf("create customer: %w", &pq.Error{Code: "23505"})
	if !IsUniqueViolation(dup) || IsCheckViolation(dup) {
		t.Error("23505 should be a unique violation only")
	}
	if !IsCheckViolation(&pq.Error{Code: "23514"}) {
		t.Error("23514 should be a check violation")
	}
	if IsUniqueViolation(ErrCustomerNotFound) {
		t.Error("Sentinels are not constraint violations")
	}
}
