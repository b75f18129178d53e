package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-payments/internal/domain/payment"
)

// --- Helpers ---

type captured struct {
	method  string
	path    string
	headers http.Header
	body    map[string]string
}

// newProvider starts a fake provider answering every request with status and
// body, and records the last request's top-level string and number fields.
func newProvider(t *testing.T, status int, body string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		c.method = r.Method
		c.path = r.URL.Path
		c.headers = r.Header.Clone()
		c.body = topLevel(raw)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func topLevel(raw []byte) map[string]string {
	out := make(map[string]string)
	if len(raw) == 0 {
		return out
	}
	_ = jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		switch d.Next() {
		case jx.String:
			s, err := d.Str()
			out[key] = s
			return err
		case jx.Number:
			n, err := d.Num()
			out[key] = n.String()
			return err
		default:
			return d.Skip()
		}
	})
	return out
}

func testOrder() payment.Order {
	return payment.Order{
		OrderID:     "ORD-1",
		Amount:      decimal.NewFromInt(149000),
		Currency:    "COP",
		Description: "Sneakers",
		Customer:    payment.Customer{Email: "ana@example.com", Name: "Ana", Phone: "+573001112233"},
		Items: []payment.Item{
			{ID: "1", Title: "Sneakers", Quantity: 1, UnitPrice: decimal.NewFromInt(149000)},
		},
		Shipping: &payment.Address{Address: "Calle 1", City: "Bogota", PostalCode: "110111"},
	}
}

var callbacks = Callbacks{BaseURL: "https://shop.example/"}

func TestCallbacks(t *testing.T) {
	assert.Equal(t, "https://shop.example/api/webhooks/mobile", callbacks.Notification(payment.GatewayMobile))
	assert.Equal(t, "https://shop.example/checkout/result?order=ORD-1&status=approved", callbacks.Result("ORD-1", "approved"))
}

func TestCheckoutAdapter_CreatePayment(t *testing.T) {
	srv, got := newProvider(t, http.StatusCreated, `{"id":"pref-1","init_point":"https://pay.example/p/pref-1"}`)
	a := NewCheckout(CheckoutConfig{APIURL: srv.URL, AccessToken: "tok"}, callbacks, srv.Client())

	r, err := a.CreatePayment(context.Background(), testOrder())
	require.NoError(t, err)

	assert.Equal(t, &payment.Redirect{PaymentID: "pref-1", URL: "https://pay.example/p/pref-1"}, r)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/v1/checkout/preferences", got.path)
	assert.Equal(t, "Bearer tok", got.headers.Get("Authorization"))
	assert.Equal(t, "ORD-1", got.body["external_reference"])
	assert.Equal(t, "https://shop.example/api/webhooks/checkout", got.body["notification_url"])
}

func TestInstallmentsAdapter_CreatePayment(t *testing.T) {
	srv, got := newProvider(t, http.StatusOK, `{"applicationId":"app-7","redirectUrl":"https://credit.example/a/7","extra":{"x":1}}`)
	a := NewInstallments(InstallmentsConfig{APIURL: srv.URL, ClientID: "cid", ClientSecret: "sec"}, callbacks, srv.Client())

	r, err := a.CreatePayment(context.Background(), testOrder())
	require.NoError(t, err)

	assert.Equal(t, &payment.Redirect{PaymentID: "app-7", URL: "https://credit.example/a/7"}, r)
	assert.Equal(t, "/v1/applications", got.path)
	assert.Equal(t, "cid", got.headers.Get("X-Client-Id"))
	assert.Equal(t, "149000", got.body["totalAmount"])
	assert.Equal(t, "https://shop.example/api/webhooks/installments", got.body["callbackUrl"])
}

func TestMobileAdapter_CreatePayment(t *testing.T) {
	srv, got := newProvider(t, http.StatusOK, `{"transactionId":"tx-5","deepLink":"wallet://pay/tx-5"}`)
	a := NewMobile(MobileConfig{APIURL: srv.URL, APIKey: "key", MerchantID: "m-1"}, callbacks, srv.Client())

	r, err := a.CreatePayment(context.Background(), testOrder())
	require.NoError(t, err)

	assert.Equal(t, &payment.Redirect{PaymentID: "tx-5", DeepLink: "wallet://pay/tx-5"}, r)
	assert.Equal(t, "/v1/payments/push", got.path)
	assert.Equal(t, "key", got.headers.Get("X-Api-Key"))
	assert.Equal(t, "+573001112233", got.body["phone"])
}

func TestMobileAdapter_RequiresPhone(t *testing.T) {
	srv, got := newProvider(t, http.StatusOK, `{}`)
	a := NewMobile(MobileConfig{APIURL: srv.URL, APIKey: "key", MerchantID: "m-1"}, callbacks, srv.Client())

	order := testOrder()
	order.Customer.Phone = ""
	_, err := a.CreatePayment(context.Background(), order)

	assert.True(t, payment.IsValidationError(err))
	assert.Empty(t, got.method, "no outbound call expected")
}

func TestAdapters_MissingCredentials(t *testing.T) {
	srv, got := newProvider(t, http.StatusOK, `{}`)
	client := srv.Client()

	adapters := []Adapter{
		NewCheckout(CheckoutConfig{APIURL: srv.URL}, callbacks, client),
		NewInstallments(InstallmentsConfig{APIURL: srv.URL, ClientID: "cid"}, callbacks, client),
		NewMobile(MobileConfig{APIURL: srv.URL, APIKey: "key"}, callbacks, client),
	}
	for _, a := range adapters {
		t.Run(a.Gateway().String(), func(t *testing.T) {
			_, err := a.CreatePayment(context.Background(), testOrder())
			var cfgErr *payment.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, a.Gateway(), cfgErr.Gateway)

			err = a.Refund(context.Background(), payment.RefundRequest{PaymentID: "p", Amount: decimal.NewFromInt(1)})
			assert.True(t, payment.IsConfigurationError(err))
		})
	}
	assert.Empty(t, got.method, "no outbound call expected")
}

func TestAdapters_ProviderErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantMsg    string
	}{
		{name: "server error with message", status: http.StatusBadGateway, body: `{"message":"upstream down"}`, wantStatus: 502, wantMsg: "upstream down"},
		{name: "client error without body", status: http.StatusUnauthorized, body: ``, wantStatus: 401, wantMsg: "unexpected status"},
		{name: "malformed success body", status: http.StatusOK, body: `{"id":`, wantStatus: 200, wantMsg: "decode response"},
		{name: "missing redirect", status: http.StatusOK, body: `{"id":"x"}`, wantStatus: 200, wantMsg: "no redirect target"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newProvider(t, tt.status, tt.body)
			a := NewCheckout(CheckoutConfig{APIURL: srv.URL, AccessToken: "tok"}, callbacks, srv.Client())

			_, err := a.CreatePayment(context.Background(), testOrder())

			var gwErr *payment.GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, payment.GatewayCheckout, gwErr.Gateway)
			assert.Equal(t, tt.wantStatus, gwErr.StatusCode)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestAdapters_Refund(t *testing.T) {
	tests := []struct {
		name     string
		build    func(url string, c *http.Client) Adapter
		wantPath string
	}{
		{
			name: "checkout",
			build: func(url string, c *http.Client) Adapter {
				return NewCheckout(CheckoutConfig{APIURL: url, AccessToken: "tok"}, callbacks, c)
			},
			wantPath: "/v1/payments/pay-1/refunds",
		},
		{
			name: "installments",
			build: func(url string, c *http.Client) Adapter {
				return NewInstallments(InstallmentsConfig{APIURL: url, ClientID: "c", ClientSecret: "s"}, callbacks, c)
			},
			wantPath: "/v1/applications/pay-1/refunds",
		},
		{
			name: "mobile",
			build: func(url string, c *http.Client) Adapter {
				return NewMobile(MobileConfig{APIURL: url, APIKey: "k", MerchantID: "m"}, callbacks, c)
			},
			wantPath: "/v1/payments/pay-1/refund",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := newProvider(t, http.StatusOK, `{"status":"refunded"}`)
			a := tt.build(srv.URL, srv.Client())

			err := a.Refund(context.Background(), payment.RefundRequest{
				OrderID:   "ORD-1",
				PaymentID: "pay-1",
				Amount:    decimal.NewFromInt(149000),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, got.path)
			assert.Equal(t, "149000", got.body["amount"])
		})
	}
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(3*time.Second, nil)
	assert.Equal(t, 3*time.Second, c.Timeout)
	assert.NotNil(t, c.Transport)
}
