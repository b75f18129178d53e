package returns

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-payments/internal/domain/coupon"
	"github.com/xenking/kart-payments/internal/domain/payment"
	"github.com/xenking/kart-payments/internal/domain/transaction"
)

// OrderInfo is what the order lookup knows about a confirmed order.
type OrderInfo struct {
	Valid       bool
	OrderNumber string
	Email       string
	Name        string
	Phone       string
	Total       decimal.Decimal
}

// OrderLookup confirms that an order belongs to a customer.
type OrderLookup interface {
	ValidateOrder(ctx context.Context, orderNumber, email string) (*OrderInfo, error)
}

// Label is an issued shipping label.
type Label struct {
	URL            string
	TrackingNumber string
}

// LabelProvider issues return shipping labels.
type LabelProvider interface {
	IssueLabel(ctx context.Context, r *Request) (*Label, error)
}

// Notifier delivers a message over a channel.
type Notifier interface {
	Send(ctx context.Context, channel Channel, recipient, content string) error
}

// CouponIssuer issues exchange coupons.
type CouponIssuer interface {
	Issue(ctx context.Context, req coupon.IssueRequest) (*coupon.Rule, error)
}

// Refunder returns money for an order.
type Refunder interface {
	RefundOrder(ctx context.Context, orderID string, amount decimal.Decimal, reason string) error
}

// Ledger is the part of the transaction service used for refunds.
type Ledger interface {
	Get(ctx context.Context, orderID string) (*transaction.Transaction, error)
	MarkRefunded(ctx context.Context, orderID string, amount decimal.Decimal, reason string) (*transaction.Transaction, error)
}

// GatewayRefunder refunds through the gateway that captured the payment.
type GatewayRefunder interface {
	Refund(ctx context.Context, gatewayID string, req payment.RefundRequest) error
}

// PaymentRefunder resolves the order's transaction, asks its gateway for the
// refund and records it against the transaction. Several returns of one order
// each refund their own share.
type PaymentRefunder struct {
	ledger  Ledger
	gateway GatewayRefunder
}

var _ Refunder = (*PaymentRefunder)(nil)

// NewPaymentRefunder creates a PaymentRefunder.
func NewPaymentRefunder(ledger Ledger, gateway GatewayRefunder) *PaymentRefunder {
	return &PaymentRefunder{ledger: ledger, gateway: gateway}
}

func (p *PaymentRefunder) RefundOrder(ctx context.Context, orderID string, amount decimal.Decimal, reason string) error {
	t, err := p.ledger.Get(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "get transaction")
	}
	if !transaction.CanRefund(t.Status) {
		return &transaction.TransitionError{OrderID: orderID, From: t.Status, To: transaction.StatusRefunded}
	}
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if amount.GreaterThan(t.Refundable()) {
		return &ValidationError{Field: "amount", Reason: "exceeds the unrefunded amount " + t.Refundable().String()}
	}

	if err := p.gateway.Refund(ctx, t.Gateway, payment.RefundRequest{
		OrderID:   t.OrderID,
		PaymentID: t.PaymentID,
		Amount:    amount,
		Currency:  t.Currency,
		Reason:    reason,
	}); err != nil {
		return errors.Wrap(err, "refund payment")
	}

	if _, err := p.ledger.MarkRefunded(ctx, orderID, amount, reason); err != nil {
		return errors.Wrap(err, "mark refunded")
	}
	return nil
}
