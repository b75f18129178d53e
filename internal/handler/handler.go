// Package handler exposes the payment, webhook and returns operations over
// HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-payments/internal/domain/auth"
	"github.com/xenking/kart-payments/internal/domain/payment"
	"github.com/xenking/kart-payments/internal/domain/returns"
	"github.com/xenking/kart-payments/internal/domain/transaction"
	"github.com/xenking/kart-payments/internal/eventlog"
	"github.com/xenking/kart-payments/internal/ratelimit"
	"github.com/xenking/kart-payments/internal/selftest"
	"github.com/xenking/kart-payments/internal/webhook"
	"github.com/xenking/kart-payments/pkg/httpmiddleware"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// Payments creates gateway payments.
type Payments interface {
	Checkout(ctx context.Context, gatewayID string, order payment.Order) payment.Response
}

// Webhooks runs the inbound notification pipeline.
type Webhooks interface {
	Handle(ctx context.Context, d webhook.Delivery) (*webhook.Outcome, error)
}

// Transactions reads the payment projection.
type Transactions interface {
	Get(ctx context.Context, orderID string) (*transaction.Transaction, error)
}

// History reads the event log of an order.
type History interface {
	ListByOrder(ctx context.Context, orderID string) ([]eventlog.Entry, error)
}

// Returns is the return request workflow.
type Returns interface {
	Submit(ctx context.Context, req returns.SubmitRequest) (*returns.Request, error)
	Get(ctx context.Context, id string) (*returns.Request, error)
	ListNotifications(ctx context.Context, id string) ([]returns.Notification, error)
	UpdateStatus(ctx context.Context, id string, req returns.UpdateStatusRequest) error
	GenerateCoupon(ctx context.Context, id string, amount decimal.Decimal) (string, error)
	ProcessRefund(ctx context.Context, id string, amount decimal.Decimal) (bool, error)
	GenerateShippingLabel(ctx context.Context, id string) (labelURL, trackingNumber string, err error)
}

// SelfTest runs deployment diagnostics.
type SelfTest interface {
	Run(ctx context.Context) selftest.Report
}

// Deps are the services behind the routes.
type Deps struct {
	Payments     Payments
	Webhooks     Webhooks
	Transactions Transactions
	History      History
	Returns      Returns
	SelfTest     SelfTest
	APIKeys      auth.Repository
	// Limiter guards the public routes. Webhooks are limited by their own
	// pipeline.
	Limiter ratelimit.Limiter
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	APIKeyPepper []byte
	RateLimit    ratelimit.Policy
	MaxBodyBytes int64
}

// Handler serves the HTTP API.
type Handler struct {
	payments     Payments
	webhooks     Webhooks
	transactions Transactions
	history      History
	returns      Returns
	selftest     SelfTest
	apikeys      auth.Repository
	limiter      ratelimit.Limiter
	cfg          Config
}

// New creates a Handler.
func New(deps Deps, cfg Config) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		payments:     deps.Payments,
		webhooks:     deps.Webhooks,
		transactions: deps.Transactions,
		history:      deps.History,
		returns:      deps.Returns,
		selftest:     deps.SelfTest,
		apikeys:      deps.APIKeys,
		limiter:      deps.Limiter,
		cfg:          cfg,
	}
}

// Routes returns the API router. Paths are relative to the /api prefix.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/webhooks/{gateway}", h.receiveWebhook)

	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(httpmiddleware.RateLimit(h.limiter, httpmiddleware.RateLimitConfig{
				Policy: h.cfg.RateLimit,
				Prefix: "api:",
			}))
		}
		r.Post("/payments/{gateway}", h.createPayment)
		r.Post("/returns", h.submitReturn)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireScope(auth.ScopePayments))
		r.Get("/transactions/{orderID}", h.getTransaction)
		r.Get("/transactions/{orderID}/events", h.listTransactionEvents)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireScope(auth.ScopeReturns))
		r.Get("/returns/{id}", h.getReturn)
		r.Get("/returns/{id}/notifications", h.listReturnNotifications)
		r.Post("/returns/{id}/status", h.updateReturnStatus)
		r.Post("/returns/{id}/coupon", h.generateCoupon)
		r.Post("/returns/{id}/refund", h.processRefund)
		r.Post("/returns/{id}/label", h.generateLabel)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireScope(auth.ScopeAdmin))
		r.Get("/admin/selftest", h.runSelfTest)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
