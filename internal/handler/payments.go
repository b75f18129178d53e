package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-payments/internal/domain/payment"
)

// createPayment starts a checkout with the gateway in the path. The body is
// the payment.Response in every case; the status code classifies failures.
func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var order payment.Order
	if err := h.decodeBody(w, r, &order); err != nil {
		writeDecodeError(w, err)
		return
	}

	resp := h.payments.Checkout(r.Context(), chi.URLParam(r, "gateway"), order)
	code := http.StatusCreated
	if !resp.Success {
		code, _ = statusFor(resp.Err)
	}
	writeJSON(w, code, resp)
}
