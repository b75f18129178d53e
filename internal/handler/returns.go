package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-payments/internal/domain/returns"
)

type submitReturnBody struct {
	OrderNumber string             `json:"orderNumber"`
	Email       string             `json:"email"`
	Name        string             `json:"name"`
	Type        returns.Type       `json:"type"`
	Resolution  returns.Resolution `json:"resolution"`
	Reason      string             `json:"reason"`
	Items       []returns.Item     `json:"items"`
}

type updateStatusBody struct {
	Status   returns.Status `json:"status"`
	Notes    string         `json:"notes"`
	Override bool           `json:"override"`
}

type amountBody struct {
	Amount decimal.Decimal `json:"amount"`
}

type returnView struct {
	ID             string             `json:"id"`
	OrderNumber    string             `json:"orderNumber"`
	CustomerEmail  string             `json:"customerEmail"`
	CustomerName   string             `json:"customerName"`
	CustomerPhone  string             `json:"customerPhone,omitempty"`
	Type           returns.Type       `json:"type"`
	Resolution     returns.Resolution `json:"resolution"`
	Status         returns.Status     `json:"status"`
	Reason         string             `json:"reason"`
	Items          []returns.Item     `json:"items"`
	Total          decimal.Decimal    `json:"total"`
	CouponCode     string             `json:"couponCode,omitempty"`
	CouponAmount   *decimal.Decimal   `json:"couponAmount,omitempty"`
	RefundAmount   *decimal.Decimal   `json:"refundAmount,omitempty"`
	ShippingLabel  string             `json:"shippingLabel,omitempty"`
	TrackingNumber string             `json:"trackingNumber,omitempty"`
	Notes          string             `json:"notes,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

func nullable(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	return &d.Decimal
}

func viewReturn(r *returns.Request) returnView {
	return returnView{
		ID:             r.ID,
		OrderNumber:    r.OrderNumber,
		CustomerEmail:  r.CustomerEmail,
		CustomerName:   r.CustomerName,
		CustomerPhone:  r.CustomerPhone,
		Type:           r.Type,
		Resolution:     r.Resolution,
		Status:         r.Status,
		Reason:         r.Reason,
		Items:          r.Items,
		Total:          r.Total(),
		CouponCode:     r.CouponCode,
		CouponAmount:   nullable(r.CouponAmount),
		RefundAmount:   nullable(r.RefundAmount),
		ShippingLabel:  r.ShippingLabel,
		TrackingNumber: r.TrackingNumber,
		Notes:          r.Notes,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (h *Handler) submitReturn(w http.ResponseWriter, r *http.Request) {
	var body submitReturnBody
	if err := h.decodeBody(w, r, &body); err != nil {
		writeDecodeError(w, err)
		return
	}

	req, err := h.returns.Submit(r.Context(), returns.SubmitRequest{
		OrderNumber:   body.OrderNumber,
		CustomerEmail: body.Email,
		CustomerName:  body.Name,
		Type:          body.Type,
		Resolution:    body.Resolution,
		Reason:        body.Reason,
		Items:         body.Items,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewReturn(req))
}

func (h *Handler) getReturn(w http.ResponseWriter, r *http.Request) {
	req, err := h.returns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewReturn(req))
}

func (h *Handler) listReturnNotifications(w http.ResponseWriter, r *http.Request) {
	ns, err := h.returns.ListNotifications(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if ns == nil {
		ns = []returns.Notification{}
	}
	writeJSON(w, http.StatusOK, ns)
}

func (h *Handler) updateReturnStatus(w http.ResponseWriter, r *http.Request) {
	var body updateStatusBody
	if err := h.decodeBody(w, r, &body); err != nil {
		writeDecodeError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	err := h.returns.UpdateStatus(r.Context(), id, returns.UpdateStatusRequest{
		Status:   body.Status,
		Notes:    body.Notes,
		Override: body.Override,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	req, err := h.returns.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewReturn(req))
}

func (h *Handler) generateCoupon(w http.ResponseWriter, r *http.Request) {
	var body amountBody
	if err := h.decodeOptional(w, r, &body); err != nil {
		writeDecodeError(w, err)
		return
	}

	code, err := h.returns.GenerateCoupon(r.Context(), chi.URLParam(r, "id"), body.Amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"couponCode": code})
}

func (h *Handler) processRefund(w http.ResponseWriter, r *http.Request) {
	var body amountBody
	if err := h.decodeOptional(w, r, &body); err != nil {
		writeDecodeError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	refunded, err := h.returns.ProcessRefund(r.Context(), id, body.Amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"refunded": refunded})
}

func (h *Handler) generateLabel(w http.ResponseWriter, r *http.Request) {
	url, tracking, err := h.returns.GenerateShippingLabel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"labelUrl":       url,
		"trackingNumber": tracking,
	})
}
