package reconcile

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// minorPerMajor is the number of centavos in a peso.
const minorPerMajor = 100

// RefundQuote splits an original charge into the refunded part and the
// retained processing fee. All amounts are minor units.
type RefundQuote struct {
	Original  int64
	Refund    int64
	Deduction int64
}

// QuoteRefund applies rate to original and rounds to the nearest minor unit.
// The deduction is whatever the refund leaves behind, so the two always sum
// to the original.
func QuoteRefund(original int64, rate decimal.Decimal) RefundQuote {
	refund := decimal.NewFromInt(original).Mul(rate).Round(0).IntPart()
	return RefundQuote{
		Original:  original,
		Refund:    refund,
		Deduction: original - refund,
	}
}

func (q RefundQuote) RefundMajor() decimal.Decimal {
	return MajorUnits(q.Refund)
}

func (q RefundQuote) DeductionMajor() decimal.Decimal {
	return MajorUnits(q.Deduction)
}

func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(minorPerMajor)).Round(0).IntPart()
}

func MajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, 0).Div(decimal.NewFromInt(minorPerMajor))
}

// checkCancellationWindow rejects cancellations of future appointments that
// start within window of now. Past appointments may always be cancelled.
func checkCancellationWindow(now, scheduled time.Time, window time.Duration) error {
	gap := scheduled.Sub(now)
	if gap > 0 && gap < window {
		return validationf("cannot cancel within %d hours of the appointment", int(window.Hours()))
	}
	return nil
}

func refundMessage(q RefundQuote, currency string) string {
	return fmt.Sprintf("Appointment cancelled. %s %s will be refunded; a %s %s processing fee was deducted.",
		currency, q.RefundMajor().StringFixed(2), currency, q.DeductionMajor().StringFixed(2))
}
