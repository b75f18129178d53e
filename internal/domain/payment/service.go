package payment

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/domain/transaction"
	"github.com/xenking/kart-payments/internal/eventlog"
)

// Creator creates a payment with a gateway. It never returns an error; failures
// are described by the Response.
type Creator interface {
	CreatePayment(ctx context.Context, gatewayID string, order Order) Response
}

// Ledger is the part of the transaction service used at checkout.
type Ledger interface {
	Get(ctx context.Context, orderID string) (*transaction.Transaction, error)
	Open(ctx context.Context, req transaction.OpenRequest) (*transaction.Transaction, error)
}

// Service runs checkout: it validates the order, records the lifecycle events
// around the gateway call and opens the pending transaction.
type Service struct {
	creator Creator
	ledger  Ledger
	rec     *eventlog.Recorder
	lg      *zap.Logger
}

// NewService creates a checkout Service.
func NewService(creator Creator, ledger Ledger, rec *eventlog.Recorder, lg *zap.Logger) *Service {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Service{
		creator: creator,
		ledger:  ledger,
		rec:     rec,
		lg:      lg,
	}
}

// Checkout creates a payment for order with the gateway named by gatewayID.
// Like the gateway call itself it never returns an error: every failure is
// recorded in the event log and reported through the Response.
func (s *Service) Checkout(ctx context.Context, gatewayID string, order Order) Response {
	gw, ok := ParseGateway(gatewayID)
	if !ok {
		s.fail(ctx, eventlog.APIError, gatewayID, order.OrderID, ErrUnsupportedGateway)
		return Failed(order.OrderID, ErrUnsupportedGateway)
	}
	if err := order.Validate(); err != nil {
		s.fail(ctx, eventlog.APIError, gw.String(), order.OrderID, err)
		return Failed(order.OrderID, err)
	}

	existing, err := s.ledger.Get(ctx, order.OrderID)
	switch {
	case errors.Is(err, transaction.ErrNotFound):
	case err != nil:
		err = errors.Wrap(err, "get transaction")
		s.fail(ctx, eventlog.APIError, gw.String(), order.OrderID, err)
		return Failed(order.OrderID, err)
	case existing.Status == transaction.StatusApproved || existing.Status == transaction.StatusRefunded:
		s.fail(ctx, eventlog.APIError, gw.String(), order.OrderID, transaction.ErrAlreadyPaid)
		return Failed(order.OrderID, transaction.ErrAlreadyPaid)
	}

	s.rec.Record(ctx, eventlog.Entry{
		Level:   eventlog.LevelInfo,
		Event:   eventlog.PaymentInitiated,
		Gateway: gw.String(),
		OrderID: order.OrderID,
		Message: "payment initiated",
		Metadata: map[string]string{
			"amount":   order.Amount.String(),
			"currency": order.Currency,
		},
	})

	resp := s.creator.CreatePayment(ctx, gw.String(), order)
	if !resp.Success {
		ev := eventlog.APIError
		if IsConfigurationError(resp.Err) {
			ev = eventlog.ConfigError
		}
		cause := resp.Err
		if cause == nil {
			cause = errors.New(resp.Error)
		}
		s.fail(ctx, ev, gw.String(), order.OrderID, cause)
		return resp
	}

	if _, err := s.ledger.Open(ctx, openRequest(gw, order, resp)); err != nil {
		err = errors.Wrap(err, "open transaction")
		s.fail(ctx, eventlog.APIError, gw.String(), order.OrderID, err)
		return Failed(order.OrderID, err)
	}
	return resp
}

func (s *Service) fail(ctx context.Context, ev eventlog.Event, gateway, orderID string, err error) {
	s.rec.Record(ctx, eventlog.Entry{
		Level:   eventlog.LevelError,
		Event:   ev,
		Gateway: gateway,
		OrderID: orderID,
		Message: err.Error(),
	})
}

func openRequest(gw Gateway, order Order, resp Response) transaction.OpenRequest {
	items := make([]transaction.Item, len(order.Items))
	for i, it := range order.Items {
		items[i] = transaction.Item{
			ID:        it.ID,
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}

	req := transaction.OpenRequest{
		OrderID:   order.OrderID,
		PaymentID: resp.PaymentID,
		Gateway:   gw.String(),
		Amount:    order.Amount,
		Currency:  order.Currency,
		Items:     items,
		Metadata: map[string]string{
			"customerEmail": order.Customer.Email,
			"customerName":  order.Customer.Name,
		},
	}
	if order.Description != "" {
		req.Metadata["description"] = order.Description
	}
	if order.Shipping != nil {
		req.Shipping = &transaction.Address{
			Address:    order.Shipping.Address,
			City:       order.Shipping.City,
			PostalCode: order.Shipping.PostalCode,
		}
	}
	return req
}
