package bookinghttp

import (
	"net/http"
	"strings"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/ledger"
	"housingBack/internal/booking/lifecycle"
	"housingBack/internal/booking/money"
)

type descriptorResponse struct {
	ledger.Issued
	QRImage string `json:"qr_image"`
}

func (h *Handler) IssueDescriptor(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body struct {
		Amount   money.Money `json:"amount"`
		Currency string      `json:"currency"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	issued, err := h.Engine.IssueDescriptor(r.Context(), actor, id, body.Amount, body.Currency)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if issued.Reused {
		status = http.StatusOK
	}
	writeJSON(w, status, descriptorResponse{Issued: *issued, QRImage: ledger.DataURI(issued.Image)})
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, res, err := h.Engine.ReconcilePayment(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Booking *lifecycle.Booking `json:"booking"`
		Payment ledger.Result      `json:"payment"`
	}{Booking: b, Payment: res})
}

func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	hash := strings.TrimSpace(r.URL.Query().Get(":hash"))
	if hash == "" {
		h.writeError(w, r, apperr.Validation("hash", "is required"))
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.PaymentStatus(r.Context(), hash))
}

func (h *Handler) BulkPaymentStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	var body struct {
		Hashes []string `json:"hashes"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.Engine.BulkPaymentStatus(r.Context(), body.Hashes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
