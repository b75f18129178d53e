package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-payments/internal/domain/payment"
)

// --- Mock implementations ---

type mockAdapter struct {
	gw        payment.Gateway
	redirect  *payment.Redirect
	err       error
	panicWith any
	block     bool
	refunds   []payment.RefundRequest
}

func (m *mockAdapter) Gateway() payment.Gateway { return m.gw }

func (m *mockAdapter) Configured() error { return nil }

func (m *mockAdapter) CreatePayment(ctx context.Context, _ payment.Order) (*payment.Redirect, error) {
	if m.panicWith != nil {
		panic(m.panicWith)
	}
	if m.block {
		<-ctx.Done()
		return nil, &payment.GatewayError{Gateway: m.gw, Err: ctx.Err()}
	}
	return m.redirect, m.err
}

func (m *mockAdapter) Refund(_ context.Context, req payment.RefundRequest) error {
	if m.panicWith != nil {
		panic(m.panicWith)
	}
	m.refunds = append(m.refunds, req)
	return m.err
}

func newOrchestrator(t *testing.T, timeout time.Duration, adapters ...Adapter) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(adapters, Options{Timeout: timeout})
	require.NoError(t, err)
	return o
}

func TestOrchestrator_CreatePayment(t *testing.T) {
	tests := []struct {
		name        string
		gatewayID   string
		adapter     *mockAdapter
		wantSuccess bool
		wantURL     string
		wantLink    string
		wantErr     string
	}{
		{
			name:        "redirect",
			gatewayID:   "checkout",
			adapter:     &mockAdapter{gw: payment.GatewayCheckout, redirect: &payment.Redirect{PaymentID: "p1", URL: "https://pay/p1"}},
			wantSuccess: true,
			wantURL:     "https://pay/p1",
		},
		{
			name:        "deep link",
			gatewayID:   "Mobile",
			adapter:     &mockAdapter{gw: payment.GatewayMobile, redirect: &payment.Redirect{PaymentID: "t1", DeepLink: "wallet://t1"}},
			wantSuccess: true,
			wantLink:    "wallet://t1",
		},
		{
			name:      "unknown gateway",
			gatewayID: "paypal",
			adapter:   &mockAdapter{gw: payment.GatewayCheckout},
			wantErr:   "unsupported gateway",
		},
		{
			name:      "known gateway without adapter",
			gatewayID: "installments",
			adapter:   &mockAdapter{gw: payment.GatewayCheckout},
			wantErr:   "unsupported gateway",
		},
		{
			name:      "configuration error",
			gatewayID: "checkout",
			adapter:   &mockAdapter{gw: payment.GatewayCheckout, err: &payment.ConfigurationError{Gateway: payment.GatewayCheckout, Field: "access token"}},
			wantErr:   "checkout: access token is not configured",
		},
		{
			name:      "adapter panic",
			gatewayID: "checkout",
			adapter:   &mockAdapter{gw: payment.GatewayCheckout, panicWith: "nil map"},
			wantErr:   "adapter panic: nil map",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrchestrator(t, time.Second, tt.adapter)

			var resp payment.Response
			require.NotPanics(t, func() {
				resp = o.CreatePayment(context.Background(), tt.gatewayID, testOrder())
			})

			assert.Equal(t, tt.wantSuccess, resp.Success)
			assert.Equal(t, "ORD-1", resp.OrderID)
			assert.Equal(t, tt.wantURL, resp.PaymentURL)
			assert.Equal(t, tt.wantLink, resp.DeepLink)
			if tt.wantErr != "" {
				assert.Contains(t, resp.Error, tt.wantErr)
				assert.Error(t, resp.Err)
			}
		})
	}
}

func TestOrchestrator_Timeout(t *testing.T) {
	o := newOrchestrator(t, 20*time.Millisecond, &mockAdapter{gw: payment.GatewayCheckout, block: true})

	start := time.Now()
	resp := o.CreatePayment(context.Background(), "checkout", testOrder())

	assert.False(t, resp.Success)
	assert.ErrorIs(t, resp.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "timeout", outcome(resp.Err))
}

func TestOrchestrator_Refund(t *testing.T) {
	a := &mockAdapter{gw: payment.GatewayInstallments}
	o := newOrchestrator(t, time.Second, a)
	ctx := context.Background()
	req := payment.RefundRequest{OrderID: "ORD-1", PaymentID: "app-1", Amount: decimal.NewFromInt(10)}

	require.NoError(t, o.Refund(ctx, "installments", req))
	assert.Len(t, a.refunds, 1)

	require.ErrorIs(t, o.Refund(ctx, "checkout", req), payment.ErrUnsupportedGateway)

	bad := req
	bad.PaymentID = ""
	assert.True(t, payment.IsValidationError(o.Refund(ctx, "installments", bad)))

	a.err = errors.New("declined")
	require.EqualError(t, o.Refund(ctx, "installments", req), "declined")

	a.panicWith = "boom"
	var gwErr *payment.GatewayError
	require.ErrorAs(t, o.Refund(ctx, "installments", req), &gwErr)
}

func TestOrchestrator_Gateways(t *testing.T) {
	o := newOrchestrator(t, 0,
		&mockAdapter{gw: payment.GatewayMobile},
		&mockAdapter{gw: payment.GatewayCheckout},
	)
	assert.Equal(t, []payment.Gateway{payment.GatewayCheckout, payment.GatewayMobile}, o.Gateways())

	_, ok := o.Adapter(payment.GatewayInstallments)
	assert.False(t, ok)
}

func TestOrchestrator_RejectsInvalidOrderBeforeAdapter(t *testing.T) {
	a := &mockAdapter{gw: payment.GatewayCheckout, panicWith: "adapter must not be called"}
	o := newOrchestrator(t, time.Second, a)

	order := testOrder()
	order.Amount = decimal.Zero
	resp := o.CreatePayment(context.Background(), "checkout", order)

	assert.False(t, resp.Success)
	assert.True(t, payment.IsValidationError(resp.Err))
	assert.Contains(t, resp.Error, "amount")
}
