// Package gateway adapts provider-agnostic orders to the payment providers
// and dispatches between them.
package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/kart-payments/internal/domain/payment"
)

// Adapter turns a normalized order into a provider redirect or deep link.
type Adapter interface {
	Gateway() payment.Gateway
	// Configured returns a *payment.ConfigurationError when credentials are
	// missing. Adapters check it before any outbound call.
	Configured() error
	CreatePayment(ctx context.Context, order payment.Order) (*payment.Redirect, error)
	Refund(ctx context.Context, req payment.RefundRequest) error
}

// Callbacks derives the URLs handed to providers from the public base URL of
// the deployment.
type Callbacks struct {
	BaseURL string
}

// Notification is where the provider posts asynchronous status updates.
func (c Callbacks) Notification(gw payment.Gateway) string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/webhooks/" + gw.String()
}

// Result is where the customer's browser lands after leaving the provider.
func (c Callbacks) Result(orderID, status string) string {
	q := url.Values{}
	q.Set("order", orderID)
	q.Set("status", status)
	return strings.TrimRight(c.BaseURL, "/") + "/checkout/result?" + q.Encode()
}

// NewHTTPClient returns the instrumented client used for provider calls.
func NewHTTPClient(timeout time.Duration, tp trace.TracerProvider) *http.Client {
	opts := []otelhttp.Option{}
	if tp != nil {
		opts = append(opts, otelhttp.WithTracerProvider(tp))
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
		Timeout:   timeout,
	}
}

func requireField(gw payment.Gateway, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &payment.ConfigurationError{Gateway: gw, Field: field}
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

var errEmptyRedirect = errors.New("provider response has no redirect target")
