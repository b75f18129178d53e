package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/collab"
	"github.com/xenking/kart-payments/internal/domain/payment"
	"github.com/xenking/kart-payments/internal/domain/returns"
	"github.com/xenking/kart-payments/internal/domain/transaction"
	"github.com/xenking/kart-payments/internal/ratelimit"
	"github.com/xenking/kart-payments/internal/webhook"
	"github.com/xenking/kart-payments/pkg/httpmiddleware"
)

var errEmptyBody = errors.New("request body is empty")

// decodeBody reads a single JSON value into dst.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

// decodeOptional is decodeBody for routes whose body may be omitted.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := h.decodeBody(w, r, dst); err != nil && !errors.Is(err, errEmptyBody) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJx(w http.ResponseWriter, code int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

// statusFor maps a domain error to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	var (
		transitionErr *returns.StateTransitionError
		returnErr     *returns.ValidationError
		gatewayErr    *payment.GatewayError
		collabErr     *collab.Error
		txTransition  *transaction.TransitionError
	)
	switch {
	case payment.IsValidationError(err), errors.As(err, &returnErr):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, payment.ErrUnsupportedGateway):
		return http.StatusNotFound, err.Error()
	case payment.IsConfigurationError(err):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, transaction.ErrNotFound),
		errors.Is(err, returns.ErrNotFound),
		errors.Is(err, returns.ErrOrderNotFound):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &transitionErr),
		errors.As(err, &txTransition),
		errors.Is(err, returns.ErrConflict),
		errors.Is(err, transaction.ErrAlreadyPaid),
		errors.Is(err, transaction.ErrGatewayMismatch),
		errors.Is(err, transaction.ErrRefundExceedsBalance):
		return http.StatusConflict, err.Error()
	case errors.Is(err, returns.ErrOverrideDisabled):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, webhook.ErrMalformedSignature),
		errors.Is(err, webhook.ErrStaleTimestamp),
		errors.Is(err, webhook.ErrInvalidSignature),
		errors.Is(err, webhook.ErrMissingSecret):
		return http.StatusUnauthorized, "invalid signature"
	case errors.Is(err, webhook.ErrMalformedPayload):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ratelimit.ErrLimitExceeded):
		return http.StatusTooManyRequests, err.Error()
	case errors.As(err, &gatewayErr), errors.As(err, &collabErr):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Int("status", code), zap.Error(err))
	}
	httpmiddleware.WriteError(w, code, msg)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpmiddleware.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
}
