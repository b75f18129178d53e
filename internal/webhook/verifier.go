// Package webhook authenticates and applies asynchronous gateway
// notifications.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/domain/payment"
	"github.com/xenking/kart-payments/internal/eventlog"
)

// Header names of the webhook contract.
const (
	HeaderSignature = "X-Signature"
	HeaderRequestID = "X-Request-Id"
)

// DefaultTolerance is the maximum accepted distance between a signature
// timestamp and the local clock.
const DefaultTolerance = 5 * time.Minute

// Verification failures.
var (
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrStaleTimestamp     = errors.New("signature timestamp outside tolerance")
	ErrInvalidSignature   = errors.New("signature mismatch")
	ErrMissingSecret      = errors.New("webhook secret is not configured")
)

// Result is the outcome of Validate.
type Result struct {
	Valid     bool
	Error     string
	Err       error
	Timestamp time.Time
}

func invalid(err error, ts time.Time) Result {
	return Result{Error: err.Error(), Err: err, Timestamp: ts}
}

// Verifier checks HMAC signatures and timestamp freshness of notifications.
// It never mutates state; its only side effect is the event log entry
// describing the outcome.
type Verifier struct {
	secrets   map[payment.Gateway]string
	tolerance time.Duration
	rec       *eventlog.Recorder
	lg        *zap.Logger
	now       func() time.Time
}

// NewVerifier creates a Verifier with per-gateway shared secrets.
func NewVerifier(secrets map[payment.Gateway]string, tolerance time.Duration, rec *eventlog.Recorder, lg *zap.Logger) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Verifier{
		secrets:   secrets,
		tolerance: tolerance,
		rec:       rec,
		lg:        lg,
		now:       time.Now,
	}
}

// Validate authenticates raw as a notification from gatewayID.
func (v *Verifier) Validate(ctx context.Context, gatewayID string, raw []byte, headers http.Header) Result {
	requestID := headers.Get(HeaderRequestID)
	res := v.validate(gatewayID, requestID, raw, headers.Get(HeaderSignature))

	entry := eventlog.Entry{
		Gateway:   gatewayID,
		RequestID: requestID,
		Metadata:  map[string]string{"userAgent": headers.Get("User-Agent")},
	}
	if !res.Timestamp.IsZero() {
		entry.Metadata["signatureTimestamp"] = strconv.FormatInt(res.Timestamp.Unix(), 10)
	}

	if res.Valid {
		entry.Level = eventlog.LevelInfo
		entry.Event = eventlog.WebhookProcessed
		entry.Message = "webhook signature verified"
		v.rec.Record(ctx, entry)
		return res
	}

	if errors.Is(res.Err, ErrMissingSecret) {
		v.rec.Record(ctx, eventlog.Entry{
			Level:     eventlog.LevelError,
			Event:     eventlog.ConfigError,
			Gateway:   gatewayID,
			RequestID: requestID,
			Message:   res.Error,
		})
	}
	entry.Level = eventlog.LevelWarn
	entry.Event = eventlog.WebhookFailed
	entry.Message = res.Error
	v.rec.Record(ctx, entry)
	return res
}

func (v *Verifier) validate(gatewayID, requestID string, raw []byte, header string) Result {
	ts, sig, err := ParseSignature(header)
	if err != nil {
		return invalid(err, time.Time{})
	}
	signedAt := time.Unix(ts, 0).UTC()

	if skew := v.now().Sub(signedAt); skew > v.tolerance || skew < -v.tolerance {
		return invalid(ErrStaleTimestamp, signedAt)
	}

	gw, ok := payment.ParseGateway(gatewayID)
	if !ok {
		return invalid(payment.ErrUnsupportedGateway, signedAt)
	}
	secret := v.secrets[gw]
	if secret == "" {
		return invalid(ErrMissingSecret, signedAt)
	}

	expected := mac(secret, ts, requestID, raw)
	if !hmac.Equal(expected, sig) {
		return invalid(ErrInvalidSignature, signedAt)
	}
	return Result{Valid: true, Timestamp: signedAt}
}

// ParseSignature splits a "ts=<unix>,v1=<hex>" header.
func ParseSignature(header string) (ts int64, sig []byte, err error) {
	var tsRaw, sigRaw string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			tsRaw = val
		case "v1":
			sigRaw = val
		}
	}
	if tsRaw == "" || sigRaw == "" {
		return 0, nil, ErrMalformedSignature
	}

	ts, err = strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return 0, nil, errors.Wrap(ErrMalformedSignature, "parse ts")
	}
	sig, err = hex.DecodeString(sigRaw)
	if err != nil || len(sig) != sha256.Size {
		return 0, nil, errors.Wrap(ErrMalformedSignature, "parse v1")
	}
	return ts, sig, nil
}

func mac(secret string, ts int64, requestID string, payload []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte{'.'})
	h.Write([]byte(requestID))
	h.Write([]byte{'.'})
	h.Write(payload)
	return h.Sum(nil)
}

// Sign returns the hex HMAC-SHA256 of "{ts}.{requestID}.{payload}".
func Sign(secret string, ts int64, requestID string, payload []byte) string {
	return hex.EncodeToString(mac(secret, ts, requestID, payload))
}

// SignatureHeader formats the X-Signature value for payload signed at ts.
func SignatureHeader(secret string, ts int64, requestID string, payload []byte) string {
	return "ts=" + strconv.FormatInt(ts, 10) + ",v1=" + Sign(secret, ts, requestID, payload)
}
