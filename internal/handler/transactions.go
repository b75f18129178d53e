package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.transactions.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) listTransactionEvents(w http.ResponseWriter, r *http.Request) {
	entries, err := h.history.ListByOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJx(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, entry := range entries {
				entry.Encode(e)
			}
		})
	})
}

// runSelfTest answers 200 when every check passed and 503 otherwise.
func (h *Handler) runSelfTest(w http.ResponseWriter, r *http.Request) {
	rep := h.selftest.Run(r.Context())
	code := http.StatusOK
	if !rep.Passed {
		code = http.StatusServiceUnavailable
	}
	writeJx(w, code, rep.Encode)
}
