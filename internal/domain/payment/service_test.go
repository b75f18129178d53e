package payment

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/domain/transaction"
	"github.com/xenking/kart-payments/internal/eventlog"
)

// --- Mock implementations ---

type mockCreator struct {
	resp  Response
	calls int
}

func (m *mockCreator) CreatePayment(_ context.Context, _ string, order Order) Response {
	m.calls++
	r := m.resp
	r.OrderID = order.OrderID
	return r
}

type mockLedger struct {
	existing *transaction.Transaction
	getErr   error
	openErr  error
	opened   []transaction.OpenRequest
}

func (m *mockLedger) Get(_ context.Context, _ string) (*transaction.Transaction, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.existing == nil {
		return nil, transaction.ErrNotFound
	}
	return m.existing, nil
}

func (m *mockLedger) Open(_ context.Context, req transaction.OpenRequest) (*transaction.Transaction, error) {
	m.opened = append(m.opened, req)
	if m.openErr != nil {
		return nil, m.openErr
	}
	return &transaction.Transaction{OrderID: req.OrderID, Status: transaction.StatusPending}, nil
}

func newCheckoutService(c Creator, l Ledger) (*Service, *eventlog.MemoryLog) {
	log := eventlog.NewMemory()
	return NewService(c, l, eventlog.NewRecorder(log, nil, zap.NewNop()), zap.NewNop()), log
}

func TestCheckout_Success(t *testing.T) {
	creator := &mockCreator{resp: Response{Success: true, PaymentURL: "https://pay.example/p/1", PaymentID: "pref-1"}}
	ledger := &mockLedger{}
	svc, log := newCheckoutService(creator, ledger)

	order := validOrder()
	order.Shipping = &Address{Address: "Calle 1", City: "Bogota", PostalCode: "110111"}
	resp := svc.Checkout(context.Background(), "checkout", order)

	require.True(t, resp.Success)
	assert.Equal(t, "https://pay.example/p/1", resp.PaymentURL)
	assert.Equal(t, []eventlog.Event{eventlog.PaymentInitiated}, log.Events())

	require.Len(t, ledger.opened, 1)
	opened := ledger.opened[0]
	assert.Equal(t, "pref-1", opened.PaymentID)
	assert.Equal(t, "checkout", opened.Gateway)
	assert.True(t, order.Amount.Equal(opened.Amount))
	require.NotNil(t, opened.Shipping)
	assert.Equal(t, "Bogota", opened.Shipping.City)
}

func TestCheckout_Failures(t *testing.T) {
	tests := []struct {
		name       string
		gateway    string
		mutate     func(o *Order)
		creator    *mockCreator
		ledger     *mockLedger
		wantEvents []eventlog.Event
		wantCalls  int
	}{
		{
			name:       "unsupported gateway",
			gateway:    "paypal",
			creator:    &mockCreator{},
			ledger:     &mockLedger{},
			wantEvents: []eventlog.Event{eventlog.APIError},
		},
		{
			name:       "invalid order",
			gateway:    "checkout",
			mutate:     func(o *Order) { o.Amount = o.Amount.Neg() },
			creator:    &mockCreator{},
			ledger:     &mockLedger{},
			wantEvents: []eventlog.Event{eventlog.APIError},
		},
		{
			name:       "already paid",
			gateway:    "checkout",
			creator:    &mockCreator{},
			ledger:     &mockLedger{existing: &transaction.Transaction{Status: transaction.StatusApproved}},
			wantEvents: []eventlog.Event{eventlog.APIError},
		},
		{
			name:    "missing credentials",
			gateway: "mobile",
			creator: &mockCreator{resp: Response{
				Error: "mobile: api key is not configured",
				Err:   &ConfigurationError{Gateway: GatewayMobile, Field: "api key"},
			}},
			ledger:     &mockLedger{},
			wantEvents: []eventlog.Event{eventlog.PaymentInitiated, eventlog.ConfigError},
			wantCalls:  1,
		},
		{
			name:    "provider failure",
			gateway: "installments",
			creator: &mockCreator{resp: Response{
				Error: "installments: provider responded 500",
				Err:   &GatewayError{Gateway: GatewayInstallments, StatusCode: 500, Err: errors.New("boom")},
			}},
			ledger:     &mockLedger{},
			wantEvents: []eventlog.Event{eventlog.PaymentInitiated, eventlog.APIError},
			wantCalls:  1,
		},
		{
			name:       "ledger failure",
			gateway:    "checkout",
			creator:    &mockCreator{resp: Response{Success: true, PaymentURL: "https://x"}},
			ledger:     &mockLedger{openErr: errors.New("db down")},
			wantEvents: []eventlog.Event{eventlog.PaymentInitiated, eventlog.APIError},
			wantCalls:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, log := newCheckoutService(tt.creator, tt.ledger)
			order := validOrder()
			if tt.mutate != nil {
				tt.mutate(&order)
			}

			resp := svc.Checkout(context.Background(), tt.gateway, order)

			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, order.OrderID, resp.OrderID)
			assert.Equal(t, tt.wantEvents, log.Events())
			assert.Equal(t, tt.wantCalls, tt.creator.calls)
		})
	}
}
