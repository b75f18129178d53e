package returns

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/eventlog"
)

func statusMessage(r *Request) string {
	switch r.Status {
	case StatusApproved:
		msg := fmt.Sprintf("Your return request for order %s was approved.", r.OrderNumber)
		if r.ShippingLabel != "" {
			msg += " Shipping label: " + r.ShippingLabel
		}
		if r.CouponCode != "" {
			msg += " Your exchange coupon is " + r.CouponCode + "."
		}
		return msg
	case StatusRejected:
		msg := fmt.Sprintf("Your return request for order %s was rejected.", r.OrderNumber)
		if r.Notes != "" {
			msg += " " + r.Notes
		}
		return msg
	case StatusShipped:
		return fmt.Sprintf("We registered the shipment of your return for order %s.", r.OrderNumber)
	case StatusReceived:
		return fmt.Sprintf("We received the items of your return for order %s.", r.OrderNumber)
	case StatusCompleted:
		if r.Resolution == ResolutionRefund {
			return fmt.Sprintf("Your refund for order %s was processed.", r.OrderNumber)
		}
		return fmt.Sprintf("Your return for order %s is complete.", r.OrderNumber)
	default:
		return fmt.Sprintf("Your return request for order %s is %s.", r.OrderNumber, r.Status)
	}
}

func (r *Request) recipient(ch Channel) string {
	if ch == ChannelEmail {
		return r.CustomerEmail
	}
	return r.CustomerPhone
}

// notify sends the status message over every configured channel. Delivery
// failures are stored and recorded but never fail the status change.
func (w *Workflow) notify(ctx context.Context, r *Request) {
	content := statusMessage(r)
	for _, ch := range w.cfg.Channels {
		to := r.recipient(ch)
		if to == "" {
			continue
		}

		n := &Notification{
			ID:        w.newID(),
			ReturnID:  r.ID,
			Type:      ch,
			Status:    NotificationSent,
			Recipient: to,
			Content:   content,
			CreatedAt: w.now().UTC(),
		}
		if err := w.notifier.Send(ctx, ch, to, content); err != nil {
			n.Status = NotificationFailed
			n.Error = err.Error()
			w.rec.Record(ctx, eventlog.Entry{
				Level:    eventlog.LevelWarn,
				Event:    eventlog.NotificationFailed,
				OrderID:  r.OrderNumber,
				ReturnID: r.ID,
				Message:  "notification failed: " + err.Error(),
				Metadata: map[string]string{"channel": string(ch)},
			})
		} else {
			sent := n.CreatedAt
			n.SentAt = &sent
		}

		if err := w.repo.AddNotification(ctx, n); err != nil {
			w.lg.Error("Store notification",
				zap.String("return_id", r.ID),
				zap.String("channel", string(ch)),
				zap.Error(err),
			)
		}
	}
}
