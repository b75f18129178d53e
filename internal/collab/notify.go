package collab

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/domain/returns"
)

// NotifyClient calls the dispatcher's POST /messages.
type NotifyClient struct {
	client
}

var _ returns.Notifier = (*NotifyClient)(nil)

// NewNotifyClient creates a NotifyClient.
func NewNotifyClient(e Endpoint, hc *http.Client) *NotifyClient {
	return &NotifyClient{client{service: "notify", endpoint: e, http: hc}}
}

// Send dispatches one message. A 2xx answer carrying status "failed" is an
// error.
func (c *NotifyClient) Send(ctx context.Context, channel returns.Channel, recipient, content string) error {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("channel", func(e *jx.Encoder) { e.Str(string(channel)) })
		e.Field("recipient", func(e *jx.Encoder) { e.Str(recipient) })
		e.Field("content", func(e *jx.Encoder) { e.Str(content) })
	})

	var status, reason string
	err := c.post(ctx, "/messages", &e, func(d *jx.Decoder) error {
		if d.Next() != jx.Object {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "status":
				status, err = readStr(d)
			case "error":
				reason, err = readStr(d)
			default:
				err = d.Skip()
			}
			return err
		})
	})
	if err != nil {
		return err
	}
	if status == string(returns.NotificationFailed) {
		if reason == "" {
			reason = "dispatcher reported failure"
		}
		return &Error{Service: c.service, Err: errors.New(reason)}
	}
	return nil
}

// LogNotifier writes messages to the logger instead of delivering them. It
// is used when no dispatcher is configured.
type LogNotifier struct {
	lg *zap.Logger
}

var _ returns.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(lg *zap.Logger) *LogNotifier {
	return &LogNotifier{lg: lg}
}

func (n *LogNotifier) Send(_ context.Context, channel returns.Channel, recipient, content string) error {
	n.lg.Info("Notification",
		zap.String("channel", string(channel)),
		zap.String("recipient", recipient),
		zap.String("content", content),
	)
	return nil
}
