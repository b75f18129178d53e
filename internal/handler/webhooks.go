package handler

import (
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-payments/internal/ratelimit"
	"github.com/xenking/kart-payments/internal/webhook"
	"github.com/xenking/kart-payments/pkg/httpmiddleware"
)

// receiveWebhook feeds the raw body to the webhook pipeline. The signature
// covers the exact bytes received, so the body is never re-encoded.
func (h *Handler) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		writeDecodeError(w, err)
		return
	}

	out, err := h.webhooks.Handle(r.Context(), webhook.Delivery{
		Gateway: chi.URLParam(r, "gateway"),
		Source:  httpmiddleware.ClientIP(r),
		Payload: raw,
		Headers: r.Header,
	})
	if out != nil && !out.RateLimit.ResetAt.IsZero() {
		setRateLimitHeaders(w, out.RateLimit, errors.Is(err, ratelimit.ErrLimitExceeded))
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJx(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str(string(out.Status)) })
			e.Field("eventId", func(e *jx.Encoder) { e.Str(out.EventID) })
			if out.Transaction != nil {
				e.Field("transactionStatus", func(e *jx.Encoder) { e.Str(string(out.Transaction.Status)) })
			}
		})
	})
}

func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result, denied bool) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if denied {
		retryAfter := max(time.Until(res.ResetAt), 0)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}
}
