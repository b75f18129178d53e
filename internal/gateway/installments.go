package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-payments/internal/domain/payment"
)

// InstallmentsConfig holds credentials of the installment-financing processor.
type InstallmentsConfig struct {
	APIURL       string `usage:"Installments processor API base URL"`
	ClientID     string `usage:"Installments processor client id"`
	ClientSecret string `usage:"Installments processor client secret"`
}

// InstallmentsAdapter opens a financing application and redirects the
// customer to the provider's credit flow.
type InstallmentsAdapter struct {
	cfg       InstallmentsConfig
	callbacks Callbacks
	client    *http.Client
}

var _ Adapter = (*InstallmentsAdapter)(nil)

// NewInstallments creates an InstallmentsAdapter.
func NewInstallments(cfg InstallmentsConfig, callbacks Callbacks, client *http.Client) *InstallmentsAdapter {
	return &InstallmentsAdapter{cfg: cfg, callbacks: callbacks, client: client}
}

func (a *InstallmentsAdapter) Gateway() payment.Gateway { return payment.GatewayInstallments }

func (a *InstallmentsAdapter) Configured() error {
	return firstErr(
		requireField(a.Gateway(), "api url", a.cfg.APIURL),
		requireField(a.Gateway(), "client id", a.cfg.ClientID),
		requireField(a.Gateway(), "client secret", a.cfg.ClientSecret),
	)
}

func (a *InstallmentsAdapter) headers() map[string]string {
	return map[string]string{
		"X-Client-Id":     a.cfg.ClientID,
		"X-Client-Secret": a.cfg.ClientSecret,
	}
}

func (a *InstallmentsAdapter) CreatePayment(ctx context.Context, order payment.Order) (*payment.Redirect, error) {
	if err := a.Configured(); err != nil {
		return nil, err
	}

	enc := &jx.Encoder{}
	enc.Obj(func(enc *jx.Encoder) {
		writeStr(enc, "orderId", order.OrderID)
		writeDecimal(enc, "totalAmount", order.Amount)
		writeStr(enc, "currency", order.Currency)
		enc.Field("client", func(enc *jx.Encoder) {
			enc.Obj(func(enc *jx.Encoder) {
				writeStr(enc, "email", order.Customer.Email)
				writeStr(enc, "name", order.Customer.Name)
				if order.Customer.Phone != "" {
					writeStr(enc, "phone", order.Customer.Phone)
				}
			})
		})
		if s := order.Shipping; s != nil {
			enc.Field("shippingAddress", func(enc *jx.Encoder) {
				enc.Obj(func(enc *jx.Encoder) {
					writeStr(enc, "line1", s.Address)
					writeStr(enc, "city", s.City)
					writeStr(enc, "postalCode", s.PostalCode)
				})
			})
		}
		enc.Field("items", func(enc *jx.Encoder) {
			enc.Arr(func(enc *jx.Encoder) {
				for _, it := range order.Items {
					enc.Obj(func(enc *jx.Encoder) {
						writeStr(enc, "sku", it.ID)
						writeStr(enc, "name", it.Title)
						enc.Field("quantity", func(enc *jx.Encoder) { enc.Int(it.Quantity) })
						writeDecimal(enc, "unitPrice", it.UnitPrice)
					})
				}
			})
		})
		writeStr(enc, "callbackUrl", a.callbacks.Notification(a.Gateway()))
		writeStr(enc, "redirectionUrl", a.callbacks.Result(order.OrderID, "pending"))
	})

	var appID, redirect string
	err := do(ctx, a.client, call{
		gateway: a.Gateway(),
		method:  http.MethodPost,
		url:     strings.TrimRight(a.cfg.APIURL, "/") + "/v1/applications",
		headers: a.headers(),
		body:    enc,
		decode: func(d *jx.Decoder) error {
			return decodeStrings(d, map[string]*string{"applicationId": &appID, "redirectUrl": &redirect})
		},
	})
	if err != nil {
		return nil, err
	}
	if redirect == "" {
		return nil, &payment.GatewayError{Gateway: a.Gateway(), StatusCode: http.StatusOK, Err: errEmptyRedirect}
	}
	return &payment.Redirect{PaymentID: appID, URL: redirect}, nil
}

func (a *InstallmentsAdapter) Refund(ctx context.Context, req payment.RefundRequest) error {
	if err := a.Configured(); err != nil {
		return err
	}

	enc := &jx.Encoder{}
	enc.Obj(func(enc *jx.Encoder) {
		writeDecimal(enc, "amount", req.Amount)
		if req.Reason != "" {
			writeStr(enc, "reason", req.Reason)
		}
	})
	return do(ctx, a.client, call{
		gateway: a.Gateway(),
		method:  http.MethodPost,
		url:     strings.TrimRight(a.cfg.APIURL, "/") + "/v1/applications/" + url.PathEscape(req.PaymentID) + "/refunds",
		headers: a.headers(),
		body:    enc,
	})
}
