package collab

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-payments/internal/domain/returns"
)

// OrderClient calls the order service's POST /orders/validate.
type OrderClient struct {
	client
}

var _ returns.OrderLookup = (*OrderClient)(nil)

// NewOrderClient creates an OrderClient.
func NewOrderClient(e Endpoint, hc *http.Client) *OrderClient {
	return &OrderClient{client{service: "orders", endpoint: e, http: hc}}
}

// ValidateOrder asks whether orderNumber belongs to email. A negative answer
// is a result with Valid false, not an error.
func (c *OrderClient) ValidateOrder(ctx context.Context, orderNumber, email string) (*returns.OrderInfo, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderNumber", func(e *jx.Encoder) { e.Str(orderNumber) })
		e.Field("email", func(e *jx.Encoder) { e.Str(email) })
	})

	info := &returns.OrderInfo{}
	err := c.post(ctx, "/orders/validate", &e, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "valid":
				v, err := d.Bool()
				info.Valid = v
				return err
			case "order", "orderData":
				if d.Next() == jx.Null {
					return d.Null()
				}
				return decodeOrder(d, info)
			default:
				return d.Skip()
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func decodeOrder(d *jx.Decoder, info *returns.OrderInfo) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var (
			s   string
			err error
		)
		switch key {
		case "orderNumber":
			s, err = readStr(d)
			info.OrderNumber = s
		case "email":
			s, err = readStr(d)
			info.Email = s
		case "name", "customerName":
			s, err = readStr(d)
			info.Name = s
		case "phone", "customerPhone":
			s, err = readStr(d)
			info.Phone = s
		case "total":
			switch d.Next() {
			case jx.Null:
				err = d.Null()
			case jx.String:
				if s, err = d.Str(); err == nil {
					info.Total, err = decimal.NewFromString(s)
				}
			default:
				var n jx.Num
				if n, err = d.Num(); err == nil {
					info.Total, err = decimal.NewFromString(n.String())
				}
			}
		default:
			err = d.Skip()
		}
		return err
	})
}
