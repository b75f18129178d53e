package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-payments/internal/domain/payment"
)

// MobileConfig holds credentials of the mobile-wallet processor.
type MobileConfig struct {
	APIURL     string `usage:"Mobile wallet API base URL"`
	APIKey     string `usage:"Mobile wallet API key"`
	MerchantID string `usage:"Mobile wallet merchant id"`
}

// MobileAdapter pushes a payment request to the customer's wallet and
// returns a deep link that opens it.
type MobileAdapter struct {
	cfg       MobileConfig
	callbacks Callbacks
	client    *http.Client
}

var _ Adapter = (*MobileAdapter)(nil)

// NewMobile creates a MobileAdapter.
func NewMobile(cfg MobileConfig, callbacks Callbacks, client *http.Client) *MobileAdapter {
	return &MobileAdapter{cfg: cfg, callbacks: callbacks, client: client}
}

func (a *MobileAdapter) Gateway() payment.Gateway { return payment.GatewayMobile }

func (a *MobileAdapter) Configured() error {
	return firstErr(
		requireField(a.Gateway(), "api url", a.cfg.APIURL),
		requireField(a.Gateway(), "api key", a.cfg.APIKey),
		requireField(a.Gateway(), "merchant id", a.cfg.MerchantID),
	)
}

func (a *MobileAdapter) CreatePayment(ctx context.Context, order payment.Order) (*payment.Redirect, error) {
	if err := a.Configured(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(order.Customer.Phone) == "" {
		return nil, &payment.ValidationError{Field: "customer.phone", Reason: "is required for mobile payments"}
	}

	enc := &jx.Encoder{}
	enc.Obj(func(enc *jx.Encoder) {
		writeStr(enc, "merchantId", a.cfg.MerchantID)
		writeStr(enc, "reference", order.OrderID)
		writeDecimal(enc, "amount", order.Amount)
		writeStr(enc, "currency", order.Currency)
		writeStr(enc, "phone", order.Customer.Phone)
		writeStr(enc, "description", order.Description)
		writeStr(enc, "callbackUrl", a.callbacks.Notification(a.Gateway()))
	})

	var txID, deepLink string
	err := do(ctx, a.client, call{
		gateway: a.Gateway(),
		method:  http.MethodPost,
		url:     strings.TrimRight(a.cfg.APIURL, "/") + "/v1/payments/push",
		headers: map[string]string{"X-Api-Key": a.cfg.APIKey},
		body:    enc,
		decode: func(d *jx.Decoder) error {
			return decodeStrings(d, map[string]*string{"transactionId": &txID, "deepLink": &deepLink})
		},
	})
	if err != nil {
		return nil, err
	}
	if deepLink == "" {
		return nil, &payment.GatewayError{Gateway: a.Gateway(), StatusCode: http.StatusOK, Err: errEmptyRedirect}
	}
	return &payment.Redirect{PaymentID: txID, DeepLink: deepLink}, nil
}

func (a *MobileAdapter) Refund(ctx context.Context, req payment.RefundRequest) error {
	if err := a.Configured(); err != nil {
		return err
	}

	enc := &jx.Encoder{}
	enc.Obj(func(enc *jx.Encoder) {
		writeStr(enc, "merchantId", a.cfg.MerchantID)
		writeDecimal(enc, "amount", req.Amount)
	})
	return do(ctx, a.client, call{
		gateway: a.Gateway(),
		method:  http.MethodPost,
		url:     strings.TrimRight(a.cfg.APIURL, "/") + "/v1/payments/" + url.PathEscape(req.PaymentID) + "/refund",
		headers: map[string]string{"X-Api-Key": a.cfg.APIKey},
		body:    enc,
	})
}
