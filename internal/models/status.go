package models

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionPurchased TransactionStatus = "purchased"
	TransactionRefunded  TransactionStatus = "refunded"
)

var transactionNext = map[TransactionStatus]map[TransactionStatus]bool{
	TransactionPending:   {TransactionPurchased: true},
	TransactionPurchased: {TransactionRefunded: true},
	TransactionRefunded:  {},
}

// CanTransition reports whether a transaction may move from one status to
// another. Each edge is taken at most once.
func (s TransactionStatus) CanTransition(to TransactionStatus) bool {
	return transactionNext[s][to]
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCancelled AppointmentStatus = "cancelled"
)
