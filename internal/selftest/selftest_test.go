package selftest

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-payments/internal/domain/payment"
	"github.com/xenking/kart-payments/internal/gateway"
	"github.com/xenking/kart-payments/internal/ratelimit"
)

// --- Mock implementations ---

type stubAdapter struct {
	gw         payment.Gateway
	configured error
	redirect   *payment.Redirect
	err        error
	panicWith  any
}

func (s *stubAdapter) Gateway() payment.Gateway { return s.gw }
func (s *stubAdapter) Configured() error        { return s.configured }

func (s *stubAdapter) CreatePayment(context.Context, payment.Order) (*payment.Redirect, error) {
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	if s.configured != nil {
		return nil, s.configured
	}
	return s.redirect, s.err
}

func (s *stubAdapter) Refund(context.Context, payment.RefundRequest) error { return nil }

func newHarness(t *testing.T, secrets map[payment.Gateway]string, adapters ...gateway.Adapter) *Harness {
	t.Helper()
	o, err := gateway.NewOrchestrator(adapters, gateway.Options{Timeout: time.Second})
	require.NoError(t, err)
	return New(o, secrets, ratelimit.Policy{Max: 50, Window: time.Minute}, nil)
}

func checksByName(gr GatewayReport) map[string]Check {
	out := make(map[string]Check, len(gr.Checks))
	for _, c := range gr.Checks {
		out[c.Name] = c
	}
	return out
}

func TestHarness_AllPassing(t *testing.T) {
	h := newHarness(t,
		map[payment.Gateway]string{payment.GatewayCheckout: "s1", payment.GatewayMobile: "s2"},
		&stubAdapter{gw: payment.GatewayCheckout, redirect: &payment.Redirect{PaymentID: "p", URL: "https://pay/p"}},
		&stubAdapter{gw: payment.GatewayMobile, redirect: &payment.Redirect{PaymentID: "t", DeepLink: "wallet://t"}},
	)

	rep := h.Run(context.Background())
	assert.True(t, rep.Passed)
	require.Len(t, rep.Gateways, 2)
	for _, gr := range rep.Gateways {
		assert.True(t, gr.Passed, gr.Gateway)
		assert.Len(t, gr.Checks, 5)
	}
	assert.Equal(t, payment.GatewayCheckout, rep.Gateways[0].Gateway)
}

func TestHarness_MissingCredentials(t *testing.T) {
	h := newHarness(t, nil, &stubAdapter{
		gw:         payment.GatewayInstallments,
		configured: &payment.ConfigurationError{Gateway: payment.GatewayInstallments, Field: "client id"},
	})

	rep := h.Run(context.Background())
	assert.False(t, rep.Passed)

	checks := checksByName(rep.Gateways[0])
	assert.False(t, checks[CheckConfiguration].Passed)
	assert.Contains(t, checks[CheckConfiguration].Detail, "client id is not configured")
	assert.False(t, checks[CheckPayment].Passed)
	assert.False(t, checks[CheckWebhook].Passed)
	assert.True(t, checks[CheckErrorHandling].Passed)
	assert.True(t, checks[CheckRateLimit].Passed)
}

func TestHarness_MissingWebhookSecret(t *testing.T) {
	tests := []struct {
		name    string
		secrets map[payment.Gateway]string
	}{
		{name: "nil", secrets: nil},
		{name: "empty", secrets: map[payment.Gateway]string{}},
		{name: "blank", secrets: map[payment.Gateway]string{payment.GatewayCheckout: ""}},
		{name: "other gateway", secrets: map[payment.Gateway]string{payment.GatewayMobile: "s2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.secrets,
				&stubAdapter{gw: payment.GatewayCheckout, redirect: &payment.Redirect{PaymentID: "p", URL: "https://pay/p"}},
			)

			rep := h.Run(context.Background())
			assert.False(t, rep.Passed)
			require.Len(t, rep.Gateways, 1)
			assert.False(t, rep.Gateways[0].Passed)

			checks := checksByName(rep.Gateways[0])
			assert.False(t, checks[CheckConfiguration].Passed)
			assert.Contains(t, checks[CheckConfiguration].Detail, "webhook secret is not configured")
			assert.False(t, checks[CheckWebhook].Passed)
			assert.True(t, checks[CheckPayment].Passed)
		})
	}
}

func TestHarness_WebhookCheckDetail(t *testing.T) {
	h := newHarness(t, map[payment.Gateway]string{payment.GatewayCheckout: "s1"},
		&stubAdapter{gw: payment.GatewayCheckout, redirect: &payment.Redirect{PaymentID: "p", URL: "https://pay/p"}},
	)

	checks := checksByName(h.Run(context.Background()).Gateways[0])
	require.True(t, checks[CheckWebhook].Passed)
	assert.Contains(t, checks[CheckWebhook].Detail, "signature mismatch")
}

func TestHarness_AdapterPanicIsContained(t *testing.T) {
	h := newHarness(t, map[payment.Gateway]string{payment.GatewayCheckout: "s"},
		&stubAdapter{gw: payment.GatewayCheckout, panicWith: "nil map"},
	)

	rep := h.Run(context.Background())
	checks := checksByName(rep.Gateways[0])
	assert.False(t, checks[CheckPayment].Passed)
	assert.Contains(t, checks[CheckPayment].Detail, "adapter panic")
	assert.True(t, checks[CheckErrorHandling].Passed)
}

func TestReport_Encode(t *testing.T) {
	rep := Report{
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Passed:      false,
		Gateways: []GatewayReport{{
			Gateway: payment.GatewayMobile,
			Checks:  []Check{{Name: CheckRateLimit, Passed: true, Detail: "remaining 49 then 48", Duration: 2 * time.Millisecond}},
		}},
	}
	var e jx.Encoder
	rep.Encode(&e)

	assert.JSONEq(t, `{
		"generatedAt": "2026-01-02T03:04:05Z",
		"passed": false,
		"gateways": [{
			"gateway": "mobile",
			"passed": false,
			"checks": [{"name": "rate_limit", "passed": true, "detail": "remaining 49 then 48", "durationMs": 2}]
		}]
	}`, e.String())
}
