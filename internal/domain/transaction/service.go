package transaction

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/eventlog"
	"github.com/xenking/kart-payments/pkg/keylock"
)

// ErrGatewayMismatch is returned when a notification names a different
// gateway than the one the transaction was opened with.
var ErrGatewayMismatch = errors.New("notification gateway does not match transaction")

// TransitionError indicates an explicit operation that the current status
// does not allow.
type TransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transaction %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

// OpenRequest describes a freshly created payment.
type OpenRequest struct {
	OrderID   string
	PaymentID string
	Gateway   string
	Amount    decimal.Decimal
	Currency  string
	Items     []Item
	Shipping  *Address
	Metadata  map[string]string
	RequestID string
}

// Notification is a verified status report from a gateway.
type Notification struct {
	Gateway   string
	OrderID   string
	PaymentID string
	Status    Status
	Reason    string
	RequestID string
}

// ApplyResult describes what a notification did to the projection.
type ApplyResult struct {
	Transaction *Transaction
	Previous    Status
	// Applied is false for stale, repeated or illegal transitions, which are
	// acknowledged without touching the projection.
	Applied bool
}

// Service owns every write to the transaction projection. Writes for one
// order are serialized; each write is appended to the event log before the
// projection is saved.
type Service struct {
	store Store
	rec   *eventlog.Recorder
	locks *keylock.Locker
	lg    *zap.Logger
}

// NewService creates a transaction Service.
func NewService(store Store, rec *eventlog.Recorder, lg *zap.Logger) *Service {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Service{
		store: store,
		rec:   rec,
		locks: keylock.New(),
		lg:    lg,
	}
}

// Get returns the current projection of an order.
func (s *Service) Get(ctx context.Context, orderID string) (*Transaction, error) {
	return s.store.Get(ctx, orderID)
}

// Open records PAYMENT_PENDING and creates the pending projection. A pending,
// rejected or cancelled transaction is replaced by the new attempt.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Transaction, error) {
	unlock, err := s.locks.Lock(ctx, req.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "lock order")
	}
	defer unlock()

	existing, err := s.store.Get(ctx, req.OrderID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, errors.Wrap(err, "get transaction")
	case existing.Status == StatusApproved || existing.Status == StatusRefunded:
		return nil, ErrAlreadyPaid
	}

	e, err := s.rec.Append(ctx, eventlog.Entry{
		Level:     eventlog.LevelInfo,
		Event:     eventlog.PaymentPending,
		Gateway:   req.Gateway,
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		RequestID: req.RequestID,
		Message:   "payment created, awaiting provider confirmation",
		Metadata:  pendingMetadata(req),
	})
	if err != nil {
		return nil, err
	}

	t, err := fromPending(e)
	if err != nil {
		return nil, errors.Wrap(err, "project pending entry")
	}
	if err := s.store.Save(ctx, t); err != nil {
		return nil, errors.Wrap(err, "save transaction")
	}
	return t, nil
}

// ApplyNotification moves the transaction to the reported status when the
// transition is legal. Stale or repeated reports are acknowledged without a
// write.
func (s *Service) ApplyNotification(ctx context.Context, n Notification) (*ApplyResult, error) {
	unlock, err := s.locks.Lock(ctx, n.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "lock order")
	}
	defer unlock()

	t, err := s.store.Get(ctx, n.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "get transaction")
	}
	if n.Gateway != "" && t.Gateway != n.Gateway {
		return nil, ErrGatewayMismatch
	}

	res := &ApplyResult{Transaction: t, Previous: t.Status}
	if !CanTransition(t.Status, n.Status) {
		s.lg.Info("Ignoring notification",
			zap.String("order_id", n.OrderID),
			zap.String("current", string(t.Status)),
			zap.String("reported", string(n.Status)),
		)
		return res, nil
	}

	var md map[string]string
	if n.Reason != "" {
		md = map[string]string{metaReason: n.Reason}
	}
	e, err := s.rec.Append(ctx, eventlog.Entry{
		Level:     eventlog.LevelInfo,
		Event:     EventFor(n.Status),
		Gateway:   t.Gateway,
		OrderID:   t.OrderID,
		PaymentID: n.PaymentID,
		RequestID: n.RequestID,
		Message:   fmt.Sprintf("payment %s", n.Status),
		Metadata:  md,
	})
	if err != nil {
		return nil, err
	}

	apply(t, n.Status, e)
	if err := s.store.Save(ctx, t); err != nil {
		return nil, errors.Wrap(err, "save transaction")
	}
	res.Applied = true
	return res, nil
}

// MarkRefunded records a completed refund of an approved or partially
// refunded transaction. The refunds of one payment never exceed its amount.
func (s *Service) MarkRefunded(ctx context.Context, orderID string, amount decimal.Decimal, reason string) (*Transaction, error) {
	unlock, err := s.locks.Lock(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "lock order")
	}
	defer unlock()

	t, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get transaction")
	}
	if !CanRefund(t.Status) {
		return nil, &TransitionError{OrderID: orderID, From: t.Status, To: StatusRefunded}
	}
	if !amount.IsPositive() || amount.GreaterThan(t.Refundable()) {
		return nil, errors.Wrapf(ErrRefundExceedsBalance, "refund %s of %s with %s left", amount, orderID, t.Refundable())
	}

	md := map[string]string{metaRefundAmount: amount.String()}
	if reason != "" {
		md[metaReason] = reason
	}
	e, err := s.rec.Append(ctx, eventlog.Entry{
		Level:     eventlog.LevelInfo,
		Event:     eventlog.PaymentRefunded,
		Gateway:   t.Gateway,
		OrderID:   t.OrderID,
		PaymentID: t.PaymentID,
		Message:   "payment refunded",
		Metadata:  md,
	})
	if err != nil {
		return nil, err
	}

	apply(t, StatusRefunded, e)
	if err := s.store.Save(ctx, t); err != nil {
		return nil, errors.Wrap(err, "save transaction")
	}
	return t, nil
}

// Replay rebuilds the projection from entries and saves every transaction.
// It returns the number of transactions written.
func (s *Service) Replay(ctx context.Context, entries []eventlog.Entry) (int, error) {
	projected, err := Rebuild(entries)
	if err != nil {
		return 0, err
	}
	for id, t := range projected {
		if err := s.store.Save(ctx, t); err != nil {
			return 0, errors.Wrapf(err, "save transaction %s", id)
		}
	}
	return len(projected), nil
}
