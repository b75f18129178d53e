package collab

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-payments/internal/domain/returns"
)

// LabelClient calls the carrier integration's POST /labels.
type LabelClient struct {
	client
}

var _ returns.LabelProvider = (*LabelClient)(nil)

// NewLabelClient creates a LabelClient.
func NewLabelClient(e Endpoint, hc *http.Client) *LabelClient {
	return &LabelClient{client{service: "labels", endpoint: e, http: hc}}
}

// IssueLabel requests a prepaid return label for r.
func (c *LabelClient) IssueLabel(ctx context.Context, r *returns.Request) (*returns.Label, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("returnId", func(e *jx.Encoder) { e.Str(r.ID) })
		e.Field("orderNumber", func(e *jx.Encoder) { e.Str(r.OrderNumber) })
		e.Field("customerName", func(e *jx.Encoder) { e.Str(r.CustomerName) })
		e.Field("customerEmail", func(e *jx.Encoder) { e.Str(r.CustomerEmail) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range r.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
					})
				}
			})
		})
	})

	var l returns.Label
	err := c.post(ctx, "/labels", &e, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "labelUrl":
				l.URL, err = readStr(d)
			case "trackingNumber":
				l.TrackingNumber, err = readStr(d)
			default:
				err = d.Skip()
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if l.URL == "" {
		return nil, &Error{Service: c.service, Err: errors.New("response has no label url")}
	}
	return &l, nil
}
