package webhook

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// ErrMalformedPayload is returned for authenticated payloads that cannot be
// interpreted.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Event is the normalized notification body:
//
//	{"id":"evt_1","type":"payment.updated","data":{"orderId":"..","paymentId":"..","status":"approved","reason":".."}}
type Event struct {
	ID        string
	Type      string
	OrderID   string
	PaymentID string
	Status    string
	Reason    string
}

// ParseEvent decodes raw into an Event.
func ParseEvent(raw []byte) (Event, error) {
	var ev Event
	err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return str(d, &ev.ID)
		case "type":
			return str(d, &ev.Type)
		case "data":
			return d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "orderId":
					return str(d, &ev.OrderID)
				case "paymentId":
					return str(d, &ev.PaymentID)
				case "status":
					return str(d, &ev.Status)
				case "reason":
					return str(d, &ev.Reason)
				default:
					return d.Skip()
				}
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.OrderID == "" || ev.Status == "" {
		return Event{}, fmt.Errorf("%w: orderId and status are required", ErrMalformedPayload)
	}
	return ev, nil
}

// str reads a string or null into dst.
func str(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

// Encode writes ev in the normalized notification shape.
func (ev Event) Encode(enc *jx.Encoder) {
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("id", func(enc *jx.Encoder) { enc.Str(ev.ID) })
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(ev.Type) })
		enc.Field("data", func(enc *jx.Encoder) {
			enc.Obj(func(enc *jx.Encoder) {
				enc.Field("orderId", func(enc *jx.Encoder) { enc.Str(ev.OrderID) })
				enc.Field("paymentId", func(enc *jx.Encoder) { enc.Str(ev.PaymentID) })
				enc.Field("status", func(enc *jx.Encoder) { enc.Str(ev.Status) })
				if ev.Reason != "" {
					enc.Field("reason", func(enc *jx.Encoder) { enc.Str(ev.Reason) })
				}
			})
		})
	})
}
