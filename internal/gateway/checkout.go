package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-payments/internal/domain/payment"
)

// CheckoutConfig holds credentials of the redirect card/wallet processor.
type CheckoutConfig struct {
	APIURL      string `usage:"Checkout processor API base URL"`
	AccessToken string `usage:"Checkout processor access token"`
	PublicKey   string `usage:"Checkout processor public key"`
}

// CheckoutAdapter creates hosted checkout preferences and redirects the
// customer to the processor's payment page.
type CheckoutAdapter struct {
	cfg       CheckoutConfig
	callbacks Callbacks
	client    *http.Client
}

var _ Adapter = (*CheckoutAdapter)(nil)

// NewCheckout creates a CheckoutAdapter.
func NewCheckout(cfg CheckoutConfig, callbacks Callbacks, client *http.Client) *CheckoutAdapter {
	return &CheckoutAdapter{cfg: cfg, callbacks: callbacks, client: client}
}

func (a *CheckoutAdapter) Gateway() payment.Gateway { return payment.GatewayCheckout }

func (a *CheckoutAdapter) Configured() error {
	return firstErr(
		requireField(a.Gateway(), "api url", a.cfg.APIURL),
		requireField(a.Gateway(), "access token", a.cfg.AccessToken),
	)
}

func (a *CheckoutAdapter) CreatePayment(ctx context.Context, order payment.Order) (*payment.Redirect, error) {
	if err := a.Configured(); err != nil {
		return nil, err
	}

	enc := &jx.Encoder{}
	enc.Obj(func(enc *jx.Encoder) {
		writeStr(enc, "external_reference", order.OrderID)
		enc.Field("items", func(enc *jx.Encoder) {
			enc.Arr(func(enc *jx.Encoder) {
				for _, it := range order.Items {
					enc.Obj(func(enc *jx.Encoder) {
						writeStr(enc, "id", it.ID)
						writeStr(enc, "title", it.Title)
						enc.Field("quantity", func(enc *jx.Encoder) { enc.Int(it.Quantity) })
						writeDecimal(enc, "unit_price", it.UnitPrice)
						writeStr(enc, "currency_id", order.Currency)
					})
				}
			})
		})
		enc.Field("payer", func(enc *jx.Encoder) {
			enc.Obj(func(enc *jx.Encoder) {
				writeStr(enc, "email", order.Customer.Email)
				writeStr(enc, "name", order.Customer.Name)
			})
		})
		enc.Field("back_urls", func(enc *jx.Encoder) {
			enc.Obj(func(enc *jx.Encoder) {
				writeStr(enc, "success", a.callbacks.Result(order.OrderID, "approved"))
				writeStr(enc, "failure", a.callbacks.Result(order.OrderID, "rejected"))
				writeStr(enc, "pending", a.callbacks.Result(order.OrderID, "pending"))
			})
		})
		writeStr(enc, "auto_return", "approved")
		writeStr(enc, "notification_url", a.callbacks.Notification(a.Gateway()))
		if order.Description != "" {
			writeStr(enc, "statement_descriptor", order.Description)
		}
	})

	var id, initPoint string
	err := do(ctx, a.client, call{
		gateway: a.Gateway(),
		method:  http.MethodPost,
		url:     strings.TrimRight(a.cfg.APIURL, "/") + "/v1/checkout/preferences",
		headers: map[string]string{"Authorization": "Bearer " + a.cfg.AccessToken},
		body:    enc,
		decode: func(d *jx.Decoder) error {
			return decodeStrings(d, map[string]*string{"id": &id, "init_point": &initPoint})
		},
	})
	if err != nil {
		return nil, err
	}
	if initPoint == "" {
		return nil, &payment.GatewayError{Gateway: a.Gateway(), StatusCode: http.StatusOK, Err: errEmptyRedirect}
	}
	return &payment.Redirect{PaymentID: id, URL: initPoint}, nil
}

func (a *CheckoutAdapter) Refund(ctx context.Context, req payment.RefundRequest) error {
	if err := a.Configured(); err != nil {
		return err
	}

	enc := &jx.Encoder{}
	enc.Obj(func(enc *jx.Encoder) {
		writeDecimal(enc, "amount", req.Amount)
	})
	return do(ctx, a.client, call{
		gateway: a.Gateway(),
		method:  http.MethodPost,
		url:     strings.TrimRight(a.cfg.APIURL, "/") + "/v1/payments/" + url.PathEscape(req.PaymentID) + "/refunds",
		headers: map[string]string{
			"Authorization":     "Bearer " + a.cfg.AccessToken,
			"X-Idempotency-Key": "refund-" + req.OrderID,
		},
		body: enc,
	})
}
