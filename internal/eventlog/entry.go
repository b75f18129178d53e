// Package eventlog holds the append-only payment lifecycle log. The log is the
// source of truth; transaction status is a projection derived from it.
package eventlog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Level is the severity of an entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event names a lifecycle event.
type Event string

const (
	PaymentInitiated Event = "PAYMENT_INITIATED"
	PaymentPending   Event = "PAYMENT_PENDING"
	PaymentApproved  Event = "PAYMENT_APPROVED"
	PaymentRejected  Event = "PAYMENT_REJECTED"
	PaymentCancelled Event = "PAYMENT_CANCELLED"
	PaymentRefunded  Event = "PAYMENT_REFUNDED"

	WebhookReceived  Event = "WEBHOOK_RECEIVED"
	WebhookProcessed Event = "WEBHOOK_PROCESSED"
	WebhookFailed    Event = "WEBHOOK_FAILED"
	WebhookDuplicate Event = "WEBHOOK_DUPLICATE"

	ConfigError Event = "CONFIG_ERROR"
	APIError    Event = "API_ERROR"

	ReturnSubmitted     Event = "RETURN_SUBMITTED"
	ReturnStatusChanged Event = "RETURN_STATUS_CHANGED"
	ReturnError         Event = "RETURN_ERROR"
	CouponIssued        Event = "COUPON_ISSUED"
	LabelIssued         Event = "LABEL_ISSUED"
	NotificationFailed  Event = "NOTIFICATION_FAILED"
)

// Entry is a single immutable log record.
type Entry struct {
	ID        string
	Timestamp time.Time
	Level     Level
	Event     Event
	Gateway   string
	OrderID   string
	PaymentID string
	RequestID string
	ReturnID  string
	Message   string
	Metadata  map[string]string
}

// Store persists entries. Implementations must accept concurrent appends.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// ListByOrder returns entries of one order in append order.
	ListByOrder(ctx context.Context, orderID string) ([]Entry, error)
	// ListSince returns entries at or after since in append order. An empty
	// gateway matches every gateway.
	ListSince(ctx context.Context, since time.Time, gateway string) ([]Entry, error)
}

// Encode writes e as a JSON object.
func (e Entry) Encode(enc *jx.Encoder) {
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("id", func(enc *jx.Encoder) { enc.Str(e.ID) })
		enc.Field("timestamp", func(enc *jx.Encoder) { enc.Str(e.Timestamp.UTC().Format(time.RFC3339Nano)) })
		enc.Field("level", func(enc *jx.Encoder) { enc.Str(string(e.Level)) })
		enc.Field("event", func(enc *jx.Encoder) { enc.Str(string(e.Event)) })
		optStr(enc, "gateway", e.Gateway)
		optStr(enc, "orderId", e.OrderID)
		optStr(enc, "paymentId", e.PaymentID)
		optStr(enc, "requestId", e.RequestID)
		optStr(enc, "returnId", e.ReturnID)
		optStr(enc, "message", e.Message)
		if len(e.Metadata) > 0 {
			enc.Field("metadata", func(enc *jx.Encoder) {
				enc.Obj(func(enc *jx.Encoder) {
					for k, v := range e.Metadata {
						enc.Field(k, func(enc *jx.Encoder) { enc.Str(v) })
					}
				})
			})
		}
	})
}

func optStr(enc *jx.Encoder, name, v string) {
	if v == "" {
		return
	}
	enc.Field(name, func(enc *jx.Encoder) { enc.Str(v) })
}

// Decode reads an entry previously written by Encode.
func (e *Entry) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "timestamp":
			s, err := d.Str()
			if err != nil {
				return err
			}
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return errors.Wrap(err, "parse timestamp")
			}
			e.Timestamp = ts
			return nil
		case "metadata":
			e.Metadata = make(map[string]string)
			return d.Obj(func(d *jx.Decoder, k string) error {
				v, err := d.Str()
				if err != nil {
					return err
				}
				e.Metadata[k] = v
				return nil
			})
		}

		dst := e.stringField(key)
		if dst == nil {
			return d.Skip()
		}
		v, err := d.Str()
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		*dst = v
		return nil
	})
}

func (e *Entry) stringField(key string) *string {
	switch key {
	case "id":
		return &e.ID
	case "gateway":
		return &e.Gateway
	case "orderId":
		return &e.OrderID
	case "paymentId":
		return &e.PaymentID
	case "requestId":
		return &e.RequestID
	case "returnId":
		return &e.ReturnID
	case "message":
		return &e.Message
	case "level":
		return (*string)(&e.Level)
	case "event":
		return (*string)(&e.Event)
	default:
		return nil
	}
}
