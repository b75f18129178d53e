package transaction

import (
	"maps"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-payments/internal/eventlog"
)

// Metadata keys carried by PAYMENT_PENDING entries.
const (
	metaAmount   = "amount"
	metaCurrency = "currency"
	metaItems    = "items"
	metaShipping = "shipping"
	metaReason   = "reason"
	// Carried by PAYMENT_REFUNDED entries recorded for a refund we issued.
	metaRefundAmount = "refundAmount"
)

var statusEvents = map[Status]eventlog.Event{
	StatusPending:   eventlog.PaymentPending,
	StatusApproved:  eventlog.PaymentApproved,
	StatusRejected:  eventlog.PaymentRejected,
	StatusCancelled: eventlog.PaymentCancelled,
	StatusRefunded:  eventlog.PaymentRefunded,
}

// EventFor returns the log event recorded when a transaction enters s.
func EventFor(s Status) eventlog.Event {
	return statusEvents[s]
}

func statusFor(ev eventlog.Event) (Status, bool) {
	for s, e := range statusEvents {
		if e == ev {
			return s, true
		}
	}
	return "", false
}

// Rebuild replays entries in order and returns the resulting projection keyed
// by order id. It applies the same rules as the live Service, so replaying
// the full log reproduces the stored projection.
func Rebuild(entries []eventlog.Entry) (map[string]*Transaction, error) {
	out := make(map[string]*Transaction)
	for _, e := range entries {
		if e.OrderID == "" {
			continue
		}
		to, ok := statusFor(e.Event)
		if !ok {
			continue
		}

		if to == StatusPending {
			t, err := fromPending(e)
			if err != nil {
				return nil, errors.Wrapf(err, "replay entry %s", e.ID)
			}
			out[e.OrderID] = t
			continue
		}

		t, ok := out[e.OrderID]
		if !ok || !(CanTransition(t.Status, to) || isPartialRefund(t.Status, to, e)) {
			continue
		}
		apply(t, to, e)
	}
	return out, nil
}

func pendingMetadata(req OpenRequest) map[string]string {
	md := make(map[string]string, len(req.Metadata)+4)
	maps.Copy(md, req.Metadata)
	md[metaAmount] = req.Amount.String()
	md[metaCurrency] = req.Currency
	md[metaItems] = encodeItems(req.Items)
	if req.Shipping != nil {
		md[metaShipping] = encodeAddress(*req.Shipping)
	}
	return md
}

func fromPending(e eventlog.Entry) (*Transaction, error) {
	amount, err := decimal.NewFromString(e.Metadata[metaAmount])
	if err != nil {
		return nil, errors.Wrap(err, "parse amount")
	}
	items, err := decodeItems(e.Metadata[metaItems])
	if err != nil {
		return nil, errors.Wrap(err, "decode items")
	}

	t := &Transaction{
		OrderID:   e.OrderID,
		PaymentID: e.PaymentID,
		Gateway:   e.Gateway,
		Status:    StatusPending,
		Amount:    amount,
		Currency:  e.Metadata[metaCurrency],
		Items:     items,
		CreatedAt: e.Timestamp,
		UpdatedAt: e.Timestamp,
	}
	if raw := e.Metadata[metaShipping]; raw != "" {
		addr, err := decodeAddress(raw)
		if err != nil {
			return nil, errors.Wrap(err, "decode shipping")
		}
		t.ShippingAddress = &addr
	}

	for k, v := range e.Metadata {
		switch k {
		case metaAmount, metaCurrency, metaItems, metaShipping:
			continue
		}
		if t.Metadata == nil {
			t.Metadata = make(map[string]string)
		}
		t.Metadata[k] = v
	}
	return t, nil
}

// isPartialRefund reports whether e records a further refund of an already
// refunded transaction.
func isPartialRefund(from, to Status, e eventlog.Entry) bool {
	return from == StatusRefunded && to == StatusRefunded && e.Metadata[metaRefundAmount] != ""
}

func apply(t *Transaction, to Status, e eventlog.Entry) {
	t.Status = to
	// Provider refund notifications carry no amount and leave the balance
	// to the refunds recorded here.
	if raw := e.Metadata[metaRefundAmount]; to == StatusRefunded && raw != "" {
		if amount, err := decimal.NewFromString(raw); err == nil {
			t.RefundedAmount = t.RefundedAmount.Add(amount)
		}
	}
	t.UpdatedAt = e.Timestamp
	if e.PaymentID != "" {
		t.PaymentID = e.PaymentID
	}
	if t.ProcessedAt == nil && to != StatusRefunded {
		ts := e.Timestamp
		t.ProcessedAt = &ts
	}
	if reason := e.Metadata[metaReason]; reason != "" {
		t.FailureReason = reason
	}
}

func encodeItems(items []Item) string {
	var enc jx.Encoder
	enc.Arr(func(enc *jx.Encoder) {
		for _, it := range items {
			enc.Obj(func(enc *jx.Encoder) {
				enc.Field("id", func(enc *jx.Encoder) { enc.Str(it.ID) })
				enc.Field("title", func(enc *jx.Encoder) { enc.Str(it.Title) })
				enc.Field("quantity", func(enc *jx.Encoder) { enc.Int(it.Quantity) })
				enc.Field("unitPrice", func(enc *jx.Encoder) { enc.Str(it.UnitPrice.String()) })
			})
		}
	})
	return enc.String()
}

func decodeItems(raw string) ([]Item, error) {
	if raw == "" {
		return nil, nil
	}
	var items []Item
	err := jx.DecodeStr(raw).Arr(func(d *jx.Decoder) error {
		var it Item
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				it.ID, err = d.Str()
			case "title":
				it.Title, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
			case "unitPrice":
				var s string
				if s, err = d.Str(); err == nil {
					it.UnitPrice, err = decimal.NewFromString(s)
				}
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

func encodeAddress(a Address) string {
	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("address", func(enc *jx.Encoder) { enc.Str(a.Address) })
		enc.Field("city", func(enc *jx.Encoder) { enc.Str(a.City) })
		enc.Field("postalCode", func(enc *jx.Encoder) { enc.Str(a.PostalCode) })
	})
	return enc.String()
}

func decodeAddress(raw string) (Address, error) {
	var a Address
	err := jx.DecodeStr(raw).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "address":
			a.Address, err = d.Str()
		case "city":
			a.City, err = d.Str()
		case "postalCode":
			a.PostalCode, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return a, err
}
