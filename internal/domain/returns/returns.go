package returns

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no return request exists for an id.
	ErrNotFound = errors.New("return request not found")
	// ErrOrderNotFound is returned when the order lookup does not confirm the
	// order number and email pair.
	ErrOrderNotFound = errors.New("order not found")
	// ErrConflict is returned when the request changed concurrently.
	ErrConflict = errors.New("return request was modified concurrently")
	// ErrOverrideDisabled is returned for override requests when overrides
	// are not enabled.
	ErrOverrideDisabled = errors.New("status override is disabled")
	// ErrAlreadySet is returned by the repository when a set-once field is
	// already populated.
	ErrAlreadySet = errors.New("field already set")
)

// Type is the kind of return.
type Type string

const (
	TypeChange Type = "change"
	TypeReturn Type = "return"
)

// Resolution is how the customer is compensated.
type Resolution string

const (
	ResolutionCoupon Resolution = "coupon"
	ResolutionRefund Resolution = "refund"
)

// Status is the lifecycle state of a return request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusShipped   Status = "shipped"
	StatusReceived  Status = "received"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusShipped, StatusReceived},
	StatusShipped:  {StatusReceived},
	StatusReceived: {StatusCompleted},
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusShipped, StatusReceived, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// StateTransitionError indicates a transition the current status does not
// allow.
type StateTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("return %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

// ValidationError indicates malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid return request: %s %s", e.Field, e.Reason)
}

// Item is a returned order line.
type Item struct {
	ProductID string          `json:"productId"`
	Size      string          `json:"size,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Reason    string          `json:"reason,omitempty"`
}

// Request is a return or exchange request. It is never deleted.
type Request struct {
	ID             string
	OrderNumber    string
	CustomerEmail  string
	CustomerName   string
	CustomerPhone  string
	Type           Type
	Resolution     Resolution
	Status         Status
	Reason         string
	Items          []Item
	CouponCode     string
	CouponAmount   decimal.NullDecimal
	RefundAmount   decimal.NullDecimal
	ShippingLabel  string
	TrackingNumber string
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Total is the sum of price times quantity over all items.
func (r *Request) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range r.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// NotificationStatus is the delivery state of a notification.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification records one customer message about a return request.
type Notification struct {
	ID        string             `json:"id"`
	ReturnID  string             `json:"returnId"`
	Type      Channel            `json:"type"`
	Status    NotificationStatus `json:"status"`
	Recipient string             `json:"recipient"`
	Content   string             `json:"content"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	SentAt    *time.Time         `json:"sentAt,omitempty"`
}

// Repository persists return requests and their notifications.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	// UpdateStatus writes r.Status, r.Notes and r.UpdatedAt if the stored
	// status still equals from; otherwise it returns ErrConflict.
	UpdateStatus(ctx context.Context, r *Request, from Status) error
	// SetCoupon stores the coupon once; a second call returns ErrAlreadySet.
	SetCoupon(ctx context.Context, id, code string, amount decimal.Decimal) error
	// SetRefund stores the refund amount once; a second call returns ErrAlreadySet.
	SetRefund(ctx context.Context, id string, amount decimal.Decimal) error
	SetLabel(ctx context.Context, id, labelURL, trackingNumber string) error
	AddNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, returnID string) ([]Notification, error)
}
