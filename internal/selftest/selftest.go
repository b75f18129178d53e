// Package selftest runs deployment diagnostics against the live gateway
// configuration.
package selftest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-payments/internal/domain/payment"
	"github.com/xenking/kart-payments/internal/eventlog"
	"github.com/xenking/kart-payments/internal/gateway"
	"github.com/xenking/kart-payments/internal/ratelimit"
	"github.com/xenking/kart-payments/internal/webhook"
)

// Check names.
const (
	CheckConfiguration = "configuration"
	CheckPayment       = "payment_creation"
	CheckWebhook       = "webhook_rejection"
	CheckErrorHandling = "error_handling"
	CheckRateLimit     = "rate_limit"
)

// Orchestrator is the part of gateway.Orchestrator the harness drives.
type Orchestrator interface {
	Gateways() []payment.Gateway
	Adapter(gw payment.Gateway) (gateway.Adapter, bool)
	CreatePayment(ctx context.Context, gatewayID string, order payment.Order) payment.Response
}

// Check is the outcome of one diagnostic.
type Check struct {
	Name     string
	Passed   bool
	Detail   string
	Duration time.Duration
}

// GatewayReport groups the checks of one gateway.
type GatewayReport struct {
	Gateway payment.Gateway
	Passed  bool
	Checks  []Check
}

// Report is the result of a Run.
type Report struct {
	GeneratedAt time.Time
	Passed      bool
	Gateways    []GatewayReport
}

// Harness runs the diagnostics. Its verifier writes to a private in-memory
// log so diagnostics never reach the durable event log.
type Harness struct {
	orch     Orchestrator
	secrets  map[payment.Gateway]string
	verifier *webhook.Verifier
	limiter  ratelimit.Limiter
	policy   ratelimit.Policy
	lg       *zap.Logger
	now      func() time.Time
}

// New creates a Harness checking signatures against secrets.
func New(orch Orchestrator, secrets map[payment.Gateway]string, policy ratelimit.Policy, lg *zap.Logger) *Harness {
	if lg == nil {
		lg = zap.NewNop()
	}
	rec := eventlog.NewRecorder(eventlog.NewMemory(), nil, lg.Named("selftest"))
	return &Harness{
		orch:     orch,
		secrets:  secrets,
		verifier: webhook.NewVerifier(secrets, webhook.DefaultTolerance, rec, lg),
		limiter:  ratelimit.NewMemory(),
		policy:   policy,
		lg:       lg,
		now:      time.Now,
	}
}

// Run checks every gateway concurrently.
func (h *Harness) Run(ctx context.Context) Report {
	gws := h.orch.Gateways()
	reports := make([]GatewayReport, len(gws))

	g, ctx := errgroup.WithContext(ctx)
	for i, gw := range gws {
		g.Go(func() error {
			reports[i] = h.runGateway(ctx, gw)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{GeneratedAt: h.now().UTC(), Passed: true, Gateways: reports}
	for _, gr := range reports {
		rep.Passed = rep.Passed && gr.Passed
	}
	h.lg.Info("Self-test finished", zap.Bool("passed", rep.Passed), zap.Int("gateways", len(reports)))
	return rep
}

func (h *Harness) runGateway(ctx context.Context, gw payment.Gateway) GatewayReport {
	rep := GatewayReport{Gateway: gw, Passed: true}
	for _, c := range []struct {
		name string
		fn   func(context.Context, payment.Gateway) (string, error)
	}{
		{CheckConfiguration, h.checkConfiguration},
		{CheckPayment, h.checkPayment},
		{CheckWebhook, h.checkWebhook},
		{CheckErrorHandling, h.checkErrorHandling},
		{CheckRateLimit, h.checkRateLimit},
	} {
		start := time.Now()
		detail, err := h.safely(ctx, gw, c.fn)
		check := Check{Name: c.name, Passed: err == nil, Detail: detail, Duration: time.Since(start)}
		if err != nil {
			check.Detail = err.Error()
			rep.Passed = false
			h.lg.Warn("Self-test check failed",
				zap.String("gateway", gw.String()),
				zap.String("check", c.name),
				zap.Error(err),
			)
		}
		rep.Checks = append(rep.Checks, check)
	}
	return rep
}

func (h *Harness) safely(ctx context.Context, gw payment.Gateway, fn func(context.Context, payment.Gateway) (string, error)) (detail string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, gw)
}

func (h *Harness) checkConfiguration(_ context.Context, gw payment.Gateway) (string, error) {
	a, ok := h.orch.Adapter(gw)
	if !ok {
		return "", payment.ErrUnsupportedGateway
	}
	if err := a.Configured(); err != nil {
		return "", err
	}
	if h.secrets[gw] == "" {
		return "", &payment.ConfigurationError{Gateway: gw, Field: "webhook secret"}
	}
	return "credentials and webhook secret present", nil
}

func syntheticOrder(gw payment.Gateway) payment.Order {
	return payment.Order{
		OrderID:     "SELFTEST-" + uuid.New().String()[:8],
		Amount:      decimal.NewFromInt(1000),
		Currency:    "COP",
		Description: "Self-test " + gw.String(),
		Customer: payment.Customer{
			Email: "selftest@example.com",
			Name:  "Self Test",
			Phone: "+573000000000",
		},
		Items: []payment.Item{{ID: "selftest", Title: "Self-test item", Quantity: 1, UnitPrice: decimal.NewFromInt(1000)}},
	}
}

func (h *Harness) checkPayment(ctx context.Context, gw payment.Gateway) (string, error) {
	resp := h.orch.CreatePayment(ctx, gw.String(), syntheticOrder(gw))
	if !resp.Success {
		return "", errors.New(resp.Error)
	}
	if resp.PaymentURL != "" {
		return "redirect " + resp.PaymentURL, nil
	}
	return "deep link " + resp.DeepLink, nil
}

// checkWebhook requires a forged signature to fail verification as a
// mismatch and a signature made with the configured secret to pass.
func (h *Harness) checkWebhook(ctx context.Context, gw payment.Gateway) (string, error) {
	payload := []byte(`{"id":"selftest","orderId":"SELFTEST","status":"approved"}`)

	forged := h.verifier.Validate(ctx, gw.String(), payload, h.signedHeaders("selftest-wrong-secret", payload))
	if forged.Valid {
		return "", errors.New("forged signature was accepted")
	}
	if !errors.Is(forged.Err, webhook.ErrInvalidSignature) {
		return "", errors.Wrap(forged.Err, "forged signature not checked")
	}

	genuine := h.verifier.Validate(ctx, gw.String(), payload, h.signedHeaders(h.secrets[gw], payload))
	if !genuine.Valid {
		return "", errors.Wrap(genuine.Err, "genuine signature rejected")
	}
	return "rejected: " + forged.Error, nil
}

func (h *Harness) signedHeaders(secret string, payload []byte) http.Header {
	headers := http.Header{}
	requestID := "selftest-" + uuid.New().String()
	headers.Set(webhook.HeaderRequestID, requestID)
	headers.Set(webhook.HeaderSignature, webhook.SignatureHeader(secret, h.now().Unix(), requestID, payload))
	return headers
}

func (h *Harness) checkErrorHandling(ctx context.Context, gw payment.Gateway) (string, error) {
	malformed := payment.Order{OrderID: "", Amount: decimal.NewFromInt(-1)}
	resp := h.orch.CreatePayment(ctx, gw.String(), malformed)
	if resp.Success {
		return "", errors.New("malformed order was accepted")
	}
	if resp.Error == "" {
		return "", errors.New("failure carries no error message")
	}
	return "failed gracefully: " + resp.Error, nil
}

func (h *Harness) checkRateLimit(ctx context.Context, gw payment.Gateway) (string, error) {
	key := "selftest:" + gw.String() + ":" + uuid.New().String()
	first, err := h.limiter.Check(ctx, key, h.policy.Max, h.policy.Window)
	if err != nil {
		return "", errors.Wrap(err, "first attempt")
	}
	second, err := h.limiter.Check(ctx, key, h.policy.Max, h.policy.Window)
	if err != nil {
		return "", errors.Wrap(err, "second attempt")
	}
	if second.Remaining >= first.Remaining {
		return "", errors.Errorf("remaining did not decrease: %d then %d", first.Remaining, second.Remaining)
	}
	return fmt.Sprintf("remaining %d then %d", first.Remaining, second.Remaining), nil
}

// Encode writes r as JSON.
func (r Report) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("generatedAt", func(e *jx.Encoder) { e.Str(r.GeneratedAt.Format(time.RFC3339)) })
		e.Field("passed", func(e *jx.Encoder) { e.Bool(r.Passed) })
		e.Field("gateways", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, g := range r.Gateways {
					g.encode(e)
				}
			})
		})
	})
}

func (g GatewayReport) encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("gateway", func(e *jx.Encoder) { e.Str(g.Gateway.String()) })
		e.Field("passed", func(e *jx.Encoder) { e.Bool(g.Passed) })
		e.Field("checks", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, c := range g.Checks {
					e.Obj(func(e *jx.Encoder) {
						e.Field("name", func(e *jx.Encoder) { e.Str(c.Name) })
						e.Field("passed", func(e *jx.Encoder) { e.Bool(c.Passed) })
						e.Field("detail", func(e *jx.Encoder) { e.Str(c.Detail) })
						e.Field("durationMs", func(e *jx.Encoder) { e.Int64(c.Duration.Milliseconds()) })
					})
				}
			})
		})
	})
}
