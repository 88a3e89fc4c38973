package bookinghttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/lifecycle"
	"housingBack/internal/booking/money"
	"housingBack/internal/booking/proof"
)

func (h *Handler) CreateRental(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req lifecycle.RentalRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.Engine.CreateRental(r.Context(), actor, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) CreateVisit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req lifecycle.VisitRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.Engine.CreateVisit(r.Context(), actor, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// CreateWithPayment accepts either a JSON PaymentRequest or a multipart
// form with the request JSON in "booking" and the receipt image in "proof".
func (h *Handler) CreateWithPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req lifecycle.PaymentRequest
	if isMultipart(r) {
		if err := r.ParseMultipartForm(proof.MaxSize); err != nil {
			h.writeError(w, r, apperr.Validation("body", "invalid multipart form: %v", err))
			return
		}
		if err := json.Unmarshal([]byte(r.FormValue("booking")), &req); err != nil {
			h.writeError(w, r, apperr.Validation("booking", "invalid JSON: %v", err))
			return
		}
		data, err := readProof(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if data != nil {
			// Check against a placeholder ref so refused requests store nothing.
			req.Method = lifecycle.PaymentMethodUpload
			req.ProofRef = "upload"
			if err := h.Engine.CheckCreateWithPayment(r.Context(), actor, req); err != nil {
				h.writeError(w, r, err)
				return
			}
			if req.ProofRef, err = h.putProof(r.Context(), 0, data); err != nil {
				h.writeError(w, r, err)
				return
			}
		}
	} else if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.Engine.CreateWithPayment(r.Context(), actor, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// readProof reads and sniffs the "proof" file of a parsed multipart form.
// It returns nil when the form carries no file.
func readProof(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile("proof")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Validation("proof", "unreadable upload: %v", err)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, proof.MaxSize+1))
	if err != nil {
		return nil, apperr.Validation("proof", "unreadable upload: %v", err)
	}
	if _, _, err := proof.Sniff(data); err != nil {
		return nil, apperr.Validation("proof", "%v", err)
	}
	return data, nil
}

func (h *Handler) putProof(ctx context.Context, bookingID int64, data []byte) (string, error) {
	if h.Proofs == nil {
		return "", apperr.Unavailable("proof storage", errors.New("not configured"))
	}
	ref, err := h.Proofs.Put(ctx, bookingID, data)
	if err != nil {
		return "", apperr.Unavailable("proof storage", err)
	}
	return ref, nil
}

type transitionFunc func(ctx context.Context, actor lifecycle.Actor, id int64) (*lifecycle.Booking, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := fn(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Confirm)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Cancel)
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Complete)
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Checkout)
}

func (h *Handler) Hide(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Hide)
}

func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Restore)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Engine.Get)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.transition(w, r, func(ctx context.Context, actor lifecycle.Actor, id int64) (*lifecycle.Booking, error) {
		return h.Engine.Reject(ctx, actor, id, body.Reason)
	})
}

// SubmitProof takes either JSON {transaction_proof_ref, amount, currency}
// or a multipart form with a "proof" image and amount/currency fields.
func (h *Handler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProofRef string      `json:"transaction_proof_ref"`
		Amount   money.Money `json:"amount"`
		Currency string      `json:"currency"`
	}
	h.transition(w, r, func(ctx context.Context, actor lifecycle.Actor, id int64) (*lifecycle.Booking, error) {
		if isMultipart(r) {
			if err := r.ParseMultipartForm(proof.MaxSize); err != nil {
				return nil, apperr.Validation("body", "invalid multipart form: %v", err)
			}
			if v := strings.TrimSpace(r.FormValue("amount")); v != "" {
				amount, err := money.Parse(v)
				if err != nil {
					return nil, apperr.Validation("amount", "%v", err)
				}
				body.Amount = amount
			}
			body.Currency = r.FormValue("currency")
			// Authorize before the upload so rejected callers leave no object behind.
			if err := h.Engine.Authorize(ctx, actor, id, fsm.ActionSubmitProof); err != nil {
				return nil, err
			}
			data, err := readProof(r)
			if err != nil {
				return nil, err
			}
			if data != nil {
				if body.ProofRef, err = h.putProof(ctx, id, data); err != nil {
					return nil, err
				}
			}
		} else if err := decodeJSON(r, &body); err != nil {
			return nil, err
		}
		return h.Engine.SubmitProof(ctx, actor, id, body.ProofRef, body.Amount, body.Currency)
	})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Engine.Delete(r.Context(), actor, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Payments(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pays, err := h.Engine.Payments(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Payments []lifecycle.Payment `json:"payments"`
	}{Payments: pays})
}

func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	msgs, err := h.Engine.Messages(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Messages []lifecycle.Message `json:"messages"`
	}{Messages: msgs})
}

func parseBool(q, name string) (*bool, error) {
	if q == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(q)
	if err != nil {
		return nil, apperr.Validation(name, "must be true or false")
	}
	return &v, nil
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := lifecycle.ListFilter{Kind: fsm.Kind(strings.TrimSpace(q.Get("kind")))}
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, fsm.Status(s))
			}
		}
	}
	var err error
	if f.Hidden, err = parseBool(strings.TrimSpace(q.Get("hidden")), "hidden"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if f.CheckedOut, err = parseBool(strings.TrimSpace(q.Get("checked_out")), "checked_out"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if v := strings.TrimSpace(q.Get("property_id")); v != "" {
		if f.PropertyID, err = strconv.ParseInt(v, 10, 64); err != nil {
			h.writeError(w, r, apperr.Validation("property_id", "must be an integer"))
			return
		}
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			f.Limit = limit
		}
	}
	if v := strings.TrimSpace(q.Get("offset")); v != "" {
		if offset, err := strconv.Atoi(v); err == nil {
			f.Offset = offset
		}
	}
	view := lifecycle.View(strings.TrimSpace(q.Get("view")))
	switch view {
	case lifecycle.ViewAll, lifecycle.ViewActiveCustomers, lifecycle.ViewHistory:
	default:
		h.writeError(w, r, apperr.Validation("view", "must be active or history"))
		return
	}
	list, err := h.Engine.List(r.Context(), actor, f, view)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Bookings []lifecycle.Booking `json:"bookings"`
	}{Bookings: list})
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	q := r.URL.Query()
	propertyID, err := strconv.ParseInt(strings.TrimSpace(q.Get("property_id")), 10, 64)
	if err != nil {
		h.writeError(w, r, apperr.Validation("property_id", "must be an integer"))
		return
	}
	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(q.Get("date")), h.Engine.Location())
	if err != nil {
		h.writeError(w, r, apperr.Validation("date", "expected YYYY-MM-DD"))
		return
	}
	avail, err := h.Engine.Availability(r.Context(), propertyID, date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.Token) == "" {
		h.writeError(w, r, apperr.Validation("token", "is required"))
		return
	}
	if err := h.Devices.Register(r.Context(), actor.ID, body.Token); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
