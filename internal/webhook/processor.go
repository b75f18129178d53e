package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/domain/payment"
	"github.com/xenking/kart-payments/internal/domain/transaction"
	"github.com/xenking/kart-payments/internal/eventlog"
	"github.com/xenking/kart-payments/internal/ratelimit"
)

// DefaultDedupTTL is how long a delivered event id is remembered.
const DefaultDedupTTL = 72 * time.Hour

// Applier applies verified notifications to the transaction projection.
type Applier interface {
	ApplyNotification(ctx context.Context, n transaction.Notification) (*transaction.ApplyResult, error)
}

// Delivery is one inbound webhook request.
type Delivery struct {
	Gateway string
	// Source identifies the sender for rate limiting, usually the client IP.
	Source  string
	Payload []byte
	Headers http.Header
}

// Status classifies a handled delivery.
type Status string

const (
	StatusApplied   Status = "applied"
	StatusIgnored   Status = "ignored"
	StatusDuplicate Status = "duplicate"
)

// Outcome describes a handled delivery.
type Outcome struct {
	Status      Status
	EventID     string
	RateLimit   ratelimit.Result
	Transaction *transaction.Transaction
}

// ProcessorConfig tunes the pipeline.
type ProcessorConfig struct {
	RateLimit ratelimit.Policy
	DedupTTL  time.Duration
}

// Processor runs the webhook pipeline: rate limit, verification, dedup and
// projection update. Nothing is mutated before the signature is verified.
type Processor struct {
	limiter  ratelimit.Limiter
	verifier *Verifier
	dedup    DedupStore
	applier  Applier
	rec      *eventlog.Recorder
	cfg      ProcessorConfig
}

// NewProcessor creates a Processor.
func NewProcessor(
	limiter ratelimit.Limiter,
	verifier *Verifier,
	dedup DedupStore,
	applier Applier,
	rec *eventlog.Recorder,
	cfg ProcessorConfig,
) *Processor {
	if cfg.RateLimit.Max <= 0 {
		cfg.RateLimit.Max = 50
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}
	return &Processor{
		limiter:  limiter,
		verifier: verifier,
		dedup:    dedup,
		applier:  applier,
		rec:      rec,
		cfg:      cfg,
	}
}

// Handle processes d. Rate limit denials return ratelimit.ErrLimitExceeded;
// authentication failures return one of the verification errors.
func (p *Processor) Handle(ctx context.Context, d Delivery) (*Outcome, error) {
	lg := zctx.From(ctx).With(zap.String("gateway", d.Gateway), zap.String("source", d.Source))
	out := &Outcome{}

	rl, err := ratelimit.Enforce(ctx, p.limiter, d.Gateway+":"+d.Source, p.cfg.RateLimit)
	out.RateLimit = rl
	switch {
	case errors.Is(err, ratelimit.ErrLimitExceeded):
		lg.Warn("Webhook rate limited", zap.Time("reset_at", rl.ResetAt))
		return out, err
	case err != nil:
		// Counter store outage: keep accepting signed deliveries.
		lg.Error("Rate limit check failed", zap.Error(err))
	}

	requestID := d.Headers.Get(HeaderRequestID)
	p.rec.Record(ctx, eventlog.Entry{
		Level:     eventlog.LevelInfo,
		Event:     eventlog.WebhookReceived,
		Gateway:   d.Gateway,
		RequestID: requestID,
		Message:   "webhook received",
		Metadata:  map[string]string{"source": d.Source},
	})

	if res := p.verifier.Validate(ctx, d.Gateway, d.Payload, d.Headers); !res.Valid {
		return out, res.Err
	}

	ev, err := ParseEvent(d.Payload)
	if err != nil {
		p.failed(ctx, d.Gateway, requestID, "", err)
		return out, err
	}

	out.EventID = requestID
	if out.EventID == "" {
		out.EventID = ev.ID
	}
	if out.EventID == "" {
		err := errors.Wrap(ErrMalformedPayload, "no event id")
		p.failed(ctx, d.Gateway, requestID, ev.OrderID, err)
		return out, err
	}

	claimed, err := p.dedup.Claim(ctx, d.Gateway, out.EventID, p.cfg.DedupTTL)
	if err != nil {
		err = errors.Wrap(err, "claim event")
		p.failed(ctx, d.Gateway, requestID, ev.OrderID, err)
		return out, err
	}
	if !claimed {
		p.rec.Record(ctx, eventlog.Entry{
			Level:     eventlog.LevelInfo,
			Event:     eventlog.WebhookDuplicate,
			Gateway:   d.Gateway,
			OrderID:   ev.OrderID,
			PaymentID: ev.PaymentID,
			RequestID: requestID,
			Message:   "duplicate delivery ignored",
			Metadata:  map[string]string{"eventId": out.EventID},
		})
		out.Status = StatusDuplicate
		return out, nil
	}

	status, ok := transaction.ParseStatus(ev.Status)
	if !ok {
		p.rec.Record(ctx, eventlog.Entry{
			Level:     eventlog.LevelWarn,
			Event:     eventlog.WebhookFailed,
			Gateway:   d.Gateway,
			OrderID:   ev.OrderID,
			RequestID: requestID,
			Message:   "unknown payment status " + ev.Status,
		})
		out.Status = StatusIgnored
		return out, nil
	}

	gw, _ := payment.ParseGateway(d.Gateway)
	res, err := p.applier.ApplyNotification(ctx, transaction.Notification{
		Gateway:   gw.String(),
		OrderID:   ev.OrderID,
		PaymentID: ev.PaymentID,
		Status:    status,
		Reason:    ev.Reason,
		RequestID: requestID,
	})
	if err != nil {
		if relErr := p.dedup.Release(ctx, d.Gateway, out.EventID); relErr != nil {
			lg.Error("Release event claim", zap.String("event_id", out.EventID), zap.Error(relErr))
		}
		p.failed(ctx, d.Gateway, requestID, ev.OrderID, err)
		return out, err
	}

	out.Transaction = res.Transaction
	out.Status = StatusIgnored
	if res.Applied {
		out.Status = StatusApplied
	}
	return out, nil
}

func (p *Processor) failed(ctx context.Context, gateway, requestID, orderID string, err error) {
	p.rec.Record(ctx, eventlog.Entry{
		Level:     eventlog.LevelError,
		Event:     eventlog.WebhookFailed,
		Gateway:   gateway,
		OrderID:   orderID,
		RequestID: requestID,
		Message:   err.Error(),
	})
}
