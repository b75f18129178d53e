package eventlog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Publisher fans entries out to downstream consumers after they were stored.
type Publisher interface {
	Publish(ctx context.Context, e Entry) error
}

// Recorder appends entries to a Store, mirrors them to the structured logger
// and publishes them to an optional Publisher.
type Recorder struct {
	store     Store
	pub       Publisher
	lg        *zap.Logger
	now       func() time.Time
	requestID func(context.Context) string
}

// Option configures a Recorder.
type Option func(r *Recorder)

// WithRequestID sets the function used to fill Entry.RequestID from the
// context when the caller left it empty.
func WithRequestID(fn func(context.Context) string) Option {
	return func(r *Recorder) { r.requestID = fn }
}

// NewRecorder creates a Recorder. pub may be nil.
func NewRecorder(store Store, pub Publisher, lg *zap.Logger, opts ...Option) *Recorder {
	if lg == nil {
		lg = zap.NewNop()
	}
	r := &Recorder{
		store: store,
		pub:   pub,
		lg:    lg,
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Store returns the underlying entry store.
func (r *Recorder) Store() Store { return r.store }

// Append stores e and returns it with ID, Timestamp and Level populated.
// Publishing is best effort: a failed publish is logged and not returned.
func (r *Recorder) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	if e.RequestID == "" && r.requestID != nil {
		e.RequestID = r.requestID(ctx)
	}

	if err := r.store.Append(ctx, e); err != nil {
		r.lg.Error("Append event",
			zap.String("event", string(e.Event)),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
		return e, errors.Wrap(err, "append entry")
	}
	r.mirror(e)

	if r.pub != nil {
		if err := r.pub.Publish(ctx, e); err != nil {
			r.lg.Warn("Publish event", zap.String("id", e.ID), zap.Error(err))
		}
	}
	return e, nil
}

// Record is Append for callers that cannot act on a storage failure.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	_, _ = r.Append(ctx, e)
}

func (r *Recorder) mirror(e Entry) {
	fields := make([]zap.Field, 0, 8)
	fields = append(fields, zap.String("event", string(e.Event)))
	for _, f := range []struct{ key, val string }{
		{"gateway", e.Gateway},
		{"order_id", e.OrderID},
		{"payment_id", e.PaymentID},
		{"request_id", e.RequestID},
		{"return_id", e.ReturnID},
	} {
		if f.val != "" {
			fields = append(fields, zap.String(f.key, f.val))
		}
	}
	if len(e.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", e.Metadata))
	}

	if ce := r.lg.Check(e.Level.zapLevel(), e.Message); ce != nil {
		ce.Write(fields...)
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
