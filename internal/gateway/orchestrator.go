package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/domain/payment"
)

// DefaultTimeout bounds a single provider call when none is configured.
const DefaultTimeout = 15 * time.Second

// Options configures an Orchestrator.
type Options struct {
	Timeout        time.Duration
	Logger         *zap.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Orchestrator selects the adapter for a gateway id and normalizes the
// outcome. It never writes to the event log.
type Orchestrator struct {
	adapters map[payment.Gateway]Adapter
	timeout  time.Duration
	lg       *zap.Logger
	tracer   trace.Tracer
	created  metric.Int64Counter
	refunds  metric.Int64Counter
}

var _ payment.Creator = (*Orchestrator)(nil)

// NewOrchestrator registers adapters by the gateway they serve.
func NewOrchestrator(adapters []Adapter, opts Options) (*Orchestrator, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}

	meter := opts.MeterProvider.Meter("github.com/xenking/kart-payments/internal/gateway")
	created, err := meter.Int64Counter("payments.created",
		metric.WithDescription("Payment creation attempts by gateway and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create payments counter")
	}
	refunds, err := meter.Int64Counter("payments.refunds",
		metric.WithDescription("Refund attempts by gateway and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create refunds counter")
	}

	o := &Orchestrator{
		adapters: make(map[payment.Gateway]Adapter, len(adapters)),
		timeout:  opts.Timeout,
		lg:       opts.Logger,
		tracer:   opts.TracerProvider.Tracer("github.com/xenking/kart-payments/internal/gateway"),
		created:  created,
		refunds:  refunds,
	}
	for _, a := range adapters {
		o.adapters[a.Gateway()] = a
	}
	return o, nil
}

// Gateways lists the registered gateways in a stable order.
func (o *Orchestrator) Gateways() []payment.Gateway {
	var out []payment.Gateway
	for _, g := range payment.Gateways() {
		if _, ok := o.adapters[g]; ok {
			out = append(out, g)
		}
	}
	return out
}

// Adapter returns the adapter registered for gw.
func (o *Orchestrator) Adapter(gw payment.Gateway) (Adapter, bool) {
	a, ok := o.adapters[gw]
	return a, ok
}

func (o *Orchestrator) lookup(gatewayID string) (Adapter, error) {
	gw, ok := payment.ParseGateway(gatewayID)
	if !ok {
		return nil, payment.ErrUnsupportedGateway
	}
	a, ok := o.adapters[gw]
	if !ok {
		return nil, payment.ErrUnsupportedGateway
	}
	return a, nil
}

// CreatePayment validates order and dispatches it to the adapter for
// gatewayID. Every failure, including an adapter panic, is returned as an
// unsuccessful Response.
func (o *Orchestrator) CreatePayment(ctx context.Context, gatewayID string, order payment.Order) (resp payment.Response) {
	a, err := o.lookup(gatewayID)
	if err != nil {
		o.count(ctx, o.created, gatewayID, "unsupported")
		return payment.Failed(order.OrderID, err)
	}
	gw := a.Gateway()
	if err := order.Validate(); err != nil {
		o.count(ctx, o.created, gw.String(), outcome(err))
		return payment.Failed(order.OrderID, err)
	}

	ctx, span := o.tracer.Start(ctx, "gateway.CreatePayment",
		trace.WithAttributes(
			attribute.String("gateway", gw.String()),
			attribute.String("order.id", order.OrderID),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			o.lg.Error("Adapter panic",
				zap.String("gateway", gw.String()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err := &payment.GatewayError{Gateway: gw, Err: fmt.Errorf("adapter panic: %v", r)}
			span.SetStatus(codes.Error, "panic")
			o.count(ctx, o.created, gw.String(), "panic")
			resp = payment.Failed(order.OrderID, err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	redirect, err := a.CreatePayment(ctx, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.count(ctx, o.created, gw.String(), outcome(err))
		return payment.Failed(order.OrderID, err)
	}

	o.count(ctx, o.created, gw.String(), "success")
	return payment.Response{
		Success:    true,
		PaymentURL: redirect.URL,
		DeepLink:   redirect.DeepLink,
		OrderID:    order.OrderID,
		PaymentID:  redirect.PaymentID,
	}
}

// Refund asks the gateway that captured a payment to return req.Amount.
func (o *Orchestrator) Refund(ctx context.Context, gatewayID string, req payment.RefundRequest) (err error) {
	a, err := o.lookup(gatewayID)
	if err != nil {
		return err
	}
	gw := a.Gateway()
	if req.PaymentID == "" {
		return &payment.ValidationError{Field: "paymentId", Reason: "must not be empty"}
	}
	if !req.Amount.IsPositive() {
		return &payment.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	ctx, span := o.tracer.Start(ctx, "gateway.Refund",
		trace.WithAttributes(
			attribute.String("gateway", gw.String()),
			attribute.String("order.id", req.OrderID),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			o.lg.Error("Adapter panic", zap.String("gateway", gw.String()), zap.Any("panic", r), zap.Stack("stack"))
			err = &payment.GatewayError{Gateway: gw, Err: fmt.Errorf("adapter panic: %v", r)}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		o.count(ctx, o.refunds, gw.String(), outcome(err))
	}()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	return a.Refund(ctx, req)
}

func (o *Orchestrator) count(ctx context.Context, c metric.Int64Counter, gw, result string) {
	c.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gateway", gw),
		attribute.String("outcome", result),
	))
}

func outcome(err error) string {
	var gwErr *payment.GatewayError
	switch {
	case err == nil:
		return "success"
	case payment.IsConfigurationError(err):
		return "config_error"
	case payment.IsValidationError(err):
		return "validation_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &gwErr):
		return "gateway_error"
	default:
		return "error"
	}
}
