package transaction

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no transaction exists for an order.
var ErrNotFound = errors.New("transaction not found")

// ErrAlreadyPaid is returned when a new payment is opened for an order whose
// transaction was already approved or refunded.
var ErrAlreadyPaid = errors.New("order already paid")

// ErrRefundExceedsBalance is returned when a refund is larger than the
// unrefunded part of the payment.
var ErrRefundExceedsBalance = errors.New("refund exceeds the unrefunded amount")

// Status is the projected payment status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusRefunded, StatusCancelled},
}

// CanTransition reports whether a transaction may move from one status to
// another. Repeating the current status is not a transition.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseStatus normalizes provider status words into a Status.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "in_process", "in_progress", "created":
		return StatusPending, true
	case "approved", "paid", "succeeded", "success", "completed":
		return StatusApproved, true
	case "rejected", "declined", "failed", "denied":
		return StatusRejected, true
	case "cancelled", "canceled", "voided", "expired":
		return StatusCancelled, true
	case "refunded":
		return StatusRefunded, true
	default:
		return "", false
	}
}

// Item is an order line captured at payment time.
type Item struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Address is the shipping destination captured at payment time.
type Address struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
}

// Transaction is the current state of an order's payment, derived from the
// event log.
type Transaction struct {
	OrderID         string            `json:"orderId"`
	PaymentID       string            `json:"paymentId"`
	Gateway         string            `json:"gateway"`
	Status          Status            `json:"status"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	Items           []Item            `json:"items"`
	ShippingAddress *Address          `json:"shippingAddress,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	ProcessedAt     *time.Time        `json:"processedAt,omitempty"`
	FailureReason   string            `json:"failureReason,omitempty"`
	// RefundedAmount is the sum of refunds recorded against the payment.
	RefundedAmount decimal.Decimal `json:"refundedAmount"`
}

// Refundable is the captured amount not yet refunded.
func (t *Transaction) Refundable() decimal.Decimal {
	return t.Amount.Sub(t.RefundedAmount)
}

// CanRefund reports whether a refund may be recorded from s. A partially
// refunded transaction stays refundable until its amount is exhausted.
func CanRefund(s Status) bool {
	return s == StatusApproved || s == StatusRefunded
}

// Store persists the projection.
type Store interface {
	Get(ctx context.Context, orderID string) (*Transaction, error)
	// Save inserts or replaces the transaction of t.OrderID.
	Save(ctx context.Context, t *Transaction) error
}
