package payment

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Gateway identifies one of the supported payment providers.
type Gateway string

const (
	// GatewayCheckout is the redirect-based card/wallet processor.
	GatewayCheckout Gateway = "checkout"
	// GatewayInstallments is the installment-financing processor.
	GatewayInstallments Gateway = "installments"
	// GatewayMobile is the mobile-wallet processor answering with a deep link.
	GatewayMobile Gateway = "mobile"
)

// Gateways lists every supported gateway in a stable order.
func Gateways() []Gateway {
	return []Gateway{GatewayCheckout, GatewayInstallments, GatewayMobile}
}

// ParseGateway maps an external identifier to a Gateway. The lookup is
// case-insensitive; ok is false for identifiers outside the supported set.
func ParseGateway(id string) (Gateway, bool) {
	g := Gateway(strings.ToLower(strings.TrimSpace(id)))
	switch g {
	case GatewayCheckout, GatewayInstallments, GatewayMobile:
		return g, true
	default:
		return "", false
	}
}

func (g Gateway) String() string { return string(g) }

// Customer is the buyer attached to an order.
type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// Item is a single order line.
type Item struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Address is the shipping destination of an order.
type Address struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
}

// Order is the provider-agnostic order submitted to a gateway. It is treated
// as immutable once handed to an adapter.
type Order struct {
	OrderID     string          `json:"orderId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Customer    Customer        `json:"customer"`
	Items       []Item          `json:"items"`
	Shipping    *Address        `json:"shipping,omitempty"`
}

// Validate checks the order against the constraints every adapter relies on.
func (o Order) Validate() error {
	switch {
	case strings.TrimSpace(o.OrderID) == "":
		return &ValidationError{Field: "orderId", Reason: "must not be empty"}
	case !o.Amount.IsPositive():
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	case len(o.Currency) != 3:
		return &ValidationError{Field: "currency", Reason: "must be a 3-letter ISO code"}
	case strings.TrimSpace(o.Customer.Email) == "":
		return &ValidationError{Field: "customer.email", Reason: "must not be empty"}
	case len(o.Items) == 0:
		return &ValidationError{Field: "items", Reason: "must not be empty"}
	}
	for _, it := range o.Items {
		if it.Quantity <= 0 {
			return &ValidationError{Field: "items.quantity", Reason: "must be greater than 0 for item " + it.ID}
		}
		if it.UnitPrice.IsNegative() {
			return &ValidationError{Field: "items.unitPrice", Reason: "must not be negative for item " + it.ID}
		}
	}
	return nil
}

// Redirect is what an adapter hands back on success: exactly one of URL and
// DeepLink is set.
type Redirect struct {
	PaymentID string
	URL       string
	DeepLink  string
}

// Response is the normalized outcome of a payment creation. It is always
// returned as a value; failures are described by Error and Err.
type Response struct {
	Success    bool   `json:"success"`
	PaymentURL string `json:"paymentUrl,omitempty"`
	DeepLink   string `json:"deepLink,omitempty"`
	OrderID    string `json:"orderId"`
	PaymentID  string `json:"paymentId,omitempty"`
	Error      string `json:"error,omitempty"`

	// Err keeps the typed failure for callers that need to classify it.
	Err error `json:"-"`
}

// Failed builds an unsuccessful Response for the given order.
func Failed(orderID string, err error) Response {
	return Response{OrderID: orderID, Error: err.Error(), Err: err}
}

// RefundRequest asks a gateway to return money for a captured payment.
type RefundRequest struct {
	OrderID   string
	PaymentID string
	Amount    decimal.Decimal
	Currency  string
	Reason    string
}
