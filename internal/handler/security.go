package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-payments/internal/domain/auth"
	"github.com/xenking/kart-payments/pkg/httpmiddleware"
)

// HeaderAPIKey carries the operator API key.
const HeaderAPIKey = "X-API-Key"

// requireScope authenticates the operator key of the request and checks
// that it grants scope. Keys are looked up by their peppered HMAC; the
// stored hash is compared in constant time.
func (h *Handler) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderAPIKey)
			if key == "" {
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			hexHash := auth.Hash(h.cfg.APIKeyPepper, key)
			info, err := h.apikeys.FindByHash(r.Context(), hexHash)
			if err != nil {
				zctx.From(r.Context()).Debug("API key rejected", zap.Error(err))
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			computed, _ := hex.DecodeString(hexHash)
			stored, err := hex.DecodeString(info.KeyHash)
			if err != nil || subtle.ConstantTimeCompare(computed, stored) != 1 {
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !info.HasScope(scope) {
				httpmiddleware.WriteError(w, http.StatusForbidden, "api key lacks scope "+scope)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithKey(r.Context(), info)))
		})
	}
}
