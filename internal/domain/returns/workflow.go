package returns

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/domain/coupon"
	"github.com/xenking/kart-payments/internal/eventlog"
	"github.com/xenking/kart-payments/pkg/keylock"
)

// Config tunes the workflow.
type Config struct {
	// AllowOverride lets operators bypass the transition table. Overrides
	// never leave a terminal state and never move money.
	AllowOverride bool
	// Channels receive a notification for every status change.
	Channels []Channel
	// CouponValidity bounds how long an exchange coupon can be redeemed.
	CouponValidity time.Duration
}

// Deps are the collaborators of a Workflow.
type Deps struct {
	Repo     Repository
	Orders   OrderLookup
	Coupons  CouponIssuer
	Refunds  Refunder
	Labels   LabelProvider
	Notifier Notifier
	Recorder *eventlog.Recorder
	Logger   *zap.Logger
}

// SubmitRequest is the customer input for a new return.
type SubmitRequest struct {
	OrderNumber   string
	CustomerEmail string
	CustomerName  string
	Type          Type
	Resolution    Resolution
	Reason        string
	Items         []Item
}

// UpdateStatusRequest asks for a status change.
type UpdateStatusRequest struct {
	Status   Status
	Notes    string
	Override bool
}

// Workflow is the return request state machine. Operations on one request
// are serialized in-process; the repository's compare-and-set on status
// guards against other instances.
type Workflow struct {
	repo     Repository
	orders   OrderLookup
	coupons  CouponIssuer
	refunds  Refunder
	labels   LabelProvider
	notifier Notifier
	rec      *eventlog.Recorder
	lg       *zap.Logger
	cfg      Config
	locks    *keylock.Locker
	now      func() time.Time
	newID    func() string
}

// NewWorkflow creates a Workflow.
func NewWorkflow(deps Deps, cfg Config) *Workflow {
	if len(cfg.Channels) == 0 {
		cfg.Channels = []Channel{ChannelEmail}
	}
	lg := deps.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Workflow{
		repo:     deps.Repo,
		orders:   deps.Orders,
		coupons:  deps.Coupons,
		refunds:  deps.Refunds,
		labels:   deps.Labels,
		notifier: deps.Notifier,
		rec:      deps.Recorder,
		lg:       lg,
		cfg:      cfg,
		locks:    keylock.New(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

func (req SubmitRequest) validate() error {
	switch {
	case strings.TrimSpace(req.OrderNumber) == "":
		return &ValidationError{Field: "orderNumber", Reason: "must not be empty"}
	case strings.TrimSpace(req.CustomerEmail) == "":
		return &ValidationError{Field: "customerEmail", Reason: "must not be empty"}
	case req.Type != TypeChange && req.Type != TypeReturn:
		return &ValidationError{Field: "type", Reason: "must be change or return"}
	case req.Resolution != ResolutionCoupon && req.Resolution != ResolutionRefund:
		return &ValidationError{Field: "resolution", Reason: "must be coupon or refund"}
	case len(req.Items) == 0:
		return &ValidationError{Field: "items", Reason: "must not be empty"}
	}
	for _, it := range req.Items {
		switch {
		case strings.TrimSpace(it.ProductID) == "":
			return &ValidationError{Field: "items.productId", Reason: "must not be empty"}
		case it.Quantity <= 0:
			return &ValidationError{Field: "items.quantity", Reason: "must be greater than 0 for product " + it.ProductID}
		case it.Price.IsNegative():
			return &ValidationError{Field: "items.price", Reason: "must not be negative for product " + it.ProductID}
		}
	}
	return nil
}

// Submit validates the order with the order lookup and creates a pending
// request.
func (w *Workflow) Submit(ctx context.Context, req SubmitRequest) (*Request, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	info, err := w.orders.ValidateOrder(ctx, req.OrderNumber, req.CustomerEmail)
	if err != nil {
		w.recordError(ctx, nil, req.OrderNumber, "order lookup failed", err)
		return nil, errors.Wrap(err, "validate order")
	}
	if info == nil || !info.Valid {
		w.recordError(ctx, nil, req.OrderNumber, "order lookup rejected order", ErrOrderNotFound)
		return nil, ErrOrderNotFound
	}

	now := w.now().UTC()
	r := &Request{
		ID:            w.newID(),
		OrderNumber:   req.OrderNumber,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		CustomerPhone: info.Phone,
		Type:          req.Type,
		Resolution:    req.Resolution,
		Status:        StatusPending,
		Reason:        req.Reason,
		Items:         req.Items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if r.CustomerName == "" {
		r.CustomerName = info.Name
	}

	if err := w.repo.Create(ctx, r); err != nil {
		w.recordError(ctx, r, r.OrderNumber, "store return request", err)
		return nil, errors.Wrap(err, "create return request")
	}

	w.rec.Record(ctx, eventlog.Entry{
		Level:    eventlog.LevelInfo,
		Event:    eventlog.ReturnSubmitted,
		OrderID:  r.OrderNumber,
		ReturnID: r.ID,
		Message:  "return request submitted",
		Metadata: map[string]string{
			"type":       string(r.Type),
			"resolution": string(r.Resolution),
			"total":      r.Total().String(),
		},
	})
	return r, nil
}

// Get returns a request by id.
func (w *Workflow) Get(ctx context.Context, id string) (*Request, error) {
	return w.repo.Get(ctx, id)
}

// ListNotifications returns every notification recorded for a request.
func (w *Workflow) ListNotifications(ctx context.Context, id string) ([]Notification, error) {
	if _, err := w.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return w.repo.ListNotifications(ctx, id)
}

func (w *Workflow) lock(ctx context.Context, id string) (*Request, func(), error) {
	unlock, err := w.locks.Lock(ctx, id)
	if err != nil {
		return nil, nil, errors.Wrap(err, "lock return request")
	}
	r, err := w.repo.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return r, unlock, nil
}

// UpdateStatus applies a transition when the current status allows it.
// Repeating the current status of a non-terminal request is a no-op.
func (w *Workflow) UpdateStatus(ctx context.Context, id string, req UpdateStatusRequest) error {
	if !req.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(req.Status)}
	}

	r, unlock, err := w.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if r.Status.Terminal() {
		return w.transitionError(ctx, r, req.Status)
	}
	if r.Status == req.Status {
		return nil
	}

	if !CanTransition(r.Status, req.Status) {
		if !req.Override {
			return w.transitionError(ctx, r, req.Status)
		}
		if !w.cfg.AllowOverride {
			return ErrOverrideDisabled
		}
		return w.commit(ctx, r, req.Status, req.Notes, map[string]string{"override": "true"})
	}

	switch req.Status {
	case StatusApproved:
		return w.approve(ctx, r, req.Notes)
	case StatusReceived:
		return w.receive(ctx, r, req.Notes)
	case StatusCompleted:
		return w.complete(ctx, r, req.Notes)
	case StatusRejected:
		return w.commit(ctx, r, StatusRejected, req.Notes, map[string]string{"reason": req.Notes})
	default:
		return w.commit(ctx, r, req.Status, req.Notes, nil)
	}
}

func (w *Workflow) approve(ctx context.Context, r *Request, notes string) error {
	if r.Resolution == ResolutionCoupon {
		if _, err := w.ensureCoupon(ctx, r); err != nil {
			return err
		}
	}

	// A missing label does not block approval; GenerateShippingLabel retries.
	if _, err := w.ensureLabel(ctx, r); err != nil {
		w.lg.Warn("Shipping label not issued", zap.String("return_id", r.ID), zap.Error(err))
	}

	return w.commit(ctx, r, StatusApproved, notes, nil)
}

func (w *Workflow) receive(ctx context.Context, r *Request, notes string) error {
	if err := w.commit(ctx, r, StatusReceived, notes, nil); err != nil {
		return err
	}
	return w.complete(ctx, r, "")
}

func (w *Workflow) complete(ctx context.Context, r *Request, notes string) error {
	if r.Resolution == ResolutionRefund {
		if err := w.ensureRefund(ctx, r, r.Total()); err != nil {
			return err
		}
	}
	return w.commit(ctx, r, StatusCompleted, notes, nil)
}

// commit persists the new status, records it and notifies the customer.
func (w *Workflow) commit(ctx context.Context, r *Request, to Status, notes string, md map[string]string) error {
	from := r.Status
	r.Status = to
	if notes != "" {
		r.Notes = notes
	}
	r.UpdatedAt = w.now().UTC()

	if err := w.repo.UpdateStatus(ctx, r, from); err != nil {
		r.Status = from
		w.recordError(ctx, r, r.OrderNumber, "store status change", err)
		return errors.Wrap(err, "update status")
	}

	if md == nil {
		md = make(map[string]string, 2)
	}
	md["from"] = string(from)
	md["to"] = string(to)
	w.rec.Record(ctx, eventlog.Entry{
		Level:    eventlog.LevelInfo,
		Event:    eventlog.ReturnStatusChanged,
		OrderID:  r.OrderNumber,
		ReturnID: r.ID,
		Message:  "return request " + string(to),
		Metadata: md,
	})

	w.notify(ctx, r)
	return nil
}

func (w *Workflow) transitionError(ctx context.Context, r *Request, to Status) error {
	err := &StateTransitionError{ID: r.ID, From: r.Status, To: to}
	w.recordError(ctx, r, r.OrderNumber, "illegal transition", err)
	return err
}

func (w *Workflow) recordError(ctx context.Context, r *Request, orderNumber, msg string, err error) {
	e := eventlog.Entry{
		Level:   eventlog.LevelError,
		Event:   eventlog.ReturnError,
		OrderID: orderNumber,
		Message: msg + ": " + err.Error(),
	}
	if r != nil {
		e.ReturnID = r.ID
	}
	w.rec.Record(ctx, e)
}

// GenerateCoupon issues the exchange coupon of an approved coupon-resolution
// request, or returns the code already issued. A zero amount means the item
// total; any other amount must equal it.
func (w *Workflow) GenerateCoupon(ctx context.Context, id string, amount decimal.Decimal) (string, error) {
	r, unlock, err := w.lock(ctx, id)
	if err != nil {
		return "", err
	}
	defer unlock()

	if r.Resolution != ResolutionCoupon {
		return "", &ValidationError{Field: "resolution", Reason: "is not coupon"}
	}
	switch r.Status {
	case StatusApproved, StatusShipped, StatusReceived, StatusCompleted:
	default:
		// Coupons exist only once a request is approved.
		return "", w.transitionError(ctx, r, StatusApproved)
	}
	if !amount.IsZero() && !amount.Equal(r.Total()) {
		return "", &ValidationError{Field: "amount", Reason: "must equal the item total " + r.Total().String()}
	}
	return w.ensureCoupon(ctx, r)
}

func (w *Workflow) ensureCoupon(ctx context.Context, r *Request) (string, error) {
	if r.CouponCode != "" {
		return r.CouponCode, nil
	}

	amount := r.Total()
	rule, err := w.coupons.Issue(ctx, coupon.IssueRequest{
		ReturnID:    r.ID,
		Amount:      amount,
		Description: "Exchange credit for order " + r.OrderNumber,
		Validity:    w.cfg.CouponValidity,
	})
	if err != nil {
		w.recordError(ctx, r, r.OrderNumber, "issue coupon", err)
		return "", errors.Wrap(err, "issue coupon")
	}

	err = w.repo.SetCoupon(ctx, r.ID, rule.Code, rule.Value)
	switch {
	case errors.Is(err, ErrAlreadySet):
		stored, getErr := w.repo.Get(ctx, r.ID)
		if getErr != nil {
			return "", errors.Wrap(getErr, "reload return request")
		}
		r.CouponCode, r.CouponAmount = stored.CouponCode, stored.CouponAmount
		return r.CouponCode, nil
	case err != nil:
		w.recordError(ctx, r, r.OrderNumber, "store coupon", err)
		return "", errors.Wrap(err, "store coupon")
	}

	r.CouponCode = rule.Code
	r.CouponAmount = decimal.NewNullDecimal(rule.Value)
	w.rec.Record(ctx, eventlog.Entry{
		Level:    eventlog.LevelInfo,
		Event:    eventlog.CouponIssued,
		OrderID:  r.OrderNumber,
		ReturnID: r.ID,
		Message:  "exchange coupon issued",
		Metadata: map[string]string{"code": rule.Code, "amount": rule.Value.String()},
	})
	return rule.Code, nil
}

// ProcessRefund refunds a refund-resolution request that has been received
// and completes it. A zero amount means the item total; any other amount must
// equal it. It reports true once the refund is recorded, including when it
// already was.
func (w *Workflow) ProcessRefund(ctx context.Context, id string, amount decimal.Decimal) (bool, error) {
	r, unlock, err := w.lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	if r.Resolution != ResolutionRefund {
		return false, &ValidationError{Field: "resolution", Reason: "is not refund"}
	}
	if r.RefundAmount.Valid {
		if r.Status == StatusReceived {
			return true, w.commit(ctx, r, StatusCompleted, "", nil)
		}
		return true, nil
	}
	if r.Status != StatusReceived {
		return false, w.transitionError(ctx, r, StatusCompleted)
	}
	if amount.IsZero() {
		amount = r.Total()
	}
	if !amount.Equal(r.Total()) {
		return false, &ValidationError{Field: "amount", Reason: "must equal the item total " + r.Total().String()}
	}

	if err := w.ensureRefund(ctx, r, amount); err != nil {
		return false, err
	}
	return true, w.commit(ctx, r, StatusCompleted, "", nil)
}

func (w *Workflow) ensureRefund(ctx context.Context, r *Request, amount decimal.Decimal) error {
	if r.RefundAmount.Valid {
		return nil
	}

	if err := w.refunds.RefundOrder(ctx, r.OrderNumber, amount, "return "+r.ID); err != nil {
		w.recordError(ctx, r, r.OrderNumber, "refund", err)
		return errors.Wrap(err, "refund order")
	}

	err := w.repo.SetRefund(ctx, r.ID, amount)
	if err != nil && !errors.Is(err, ErrAlreadySet) {
		w.recordError(ctx, r, r.OrderNumber, "store refund", err)
		return errors.Wrap(err, "store refund")
	}
	r.RefundAmount = decimal.NewNullDecimal(amount)
	return nil
}

// GenerateShippingLabel issues the return label of an approved or shipped
// request, or returns the label already issued.
func (w *Workflow) GenerateShippingLabel(ctx context.Context, id string) (labelURL, trackingNumber string, err error) {
	r, unlock, err := w.lock(ctx, id)
	if err != nil {
		return "", "", err
	}
	defer unlock()

	if r.Status != StatusApproved && r.Status != StatusShipped {
		return "", "", w.transitionError(ctx, r, StatusShipped)
	}
	l, err := w.ensureLabel(ctx, r)
	if err != nil {
		return "", "", err
	}
	return l.URL, l.TrackingNumber, nil
}

func (w *Workflow) ensureLabel(ctx context.Context, r *Request) (*Label, error) {
	if r.ShippingLabel != "" {
		return &Label{URL: r.ShippingLabel, TrackingNumber: r.TrackingNumber}, nil
	}

	l, err := w.labels.IssueLabel(ctx, r)
	if err != nil {
		w.recordError(ctx, r, r.OrderNumber, "issue shipping label", err)
		return nil, errors.Wrap(err, "issue label")
	}
	if err := w.repo.SetLabel(ctx, r.ID, l.URL, l.TrackingNumber); err != nil {
		w.recordError(ctx, r, r.OrderNumber, "store shipping label", err)
		return nil, errors.Wrap(err, "store label")
	}

	r.ShippingLabel, r.TrackingNumber = l.URL, l.TrackingNumber
	w.rec.Record(ctx, eventlog.Entry{
		Level:    eventlog.LevelInfo,
		Event:    eventlog.LabelIssued,
		OrderID:  r.OrderNumber,
		ReturnID: r.ID,
		Message:  "shipping label issued",
		Metadata: map[string]string{"trackingNumber": l.TrackingNumber},
	})
	return l, nil
}
