// Package bookinghttp exposes the booking engine over JSON HTTP.
package bookinghttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/identity"
	"housingBack/internal/booking/lifecycle"
	"housingBack/internal/booking/proof"
	"housingBack/internal/booking/workflow"
)

// Logger is the logging surface used by the handlers.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// DeviceRegistry records push tokens for the authenticated user.
type DeviceRegistry interface {
	Register(ctx context.Context, userID int64, token string) error
}

// Handler serves the booking API.
type Handler struct {
	Engine  *workflow.Engine
	Proofs  proof.Store
	Devices DeviceRegistry
	Logger  Logger
}

// Register mounts the booking routes on mux. auth must place the actor in
// the request context; ws serves the live event socket and authenticates
// on its own.
func (h *Handler) Register(mux *pat.PatternServeMux, auth alice.Chain, ws http.HandlerFunc) {
	// Literal paths first: pat matches in registration order.
	mux.Get("/api/bookings/availability", auth.ThenFunc(h.Availability))
	mux.Get("/api/bookings", auth.ThenFunc(h.List))
	mux.Post("/api/bookings/rentals", auth.ThenFunc(h.CreateRental))
	mux.Post("/api/bookings/visits", auth.ThenFunc(h.CreateVisit))
	mux.Post("/api/bookings/payment", auth.ThenFunc(h.CreateWithPayment))

	mux.Get("/api/bookings/:id", auth.ThenFunc(h.Get))
	mux.Del("/api/bookings/:id", auth.ThenFunc(h.Delete))
	mux.Get("/api/bookings/:id/payments", auth.ThenFunc(h.Payments))
	mux.Get("/api/bookings/:id/messages", auth.ThenFunc(h.Messages))
	mux.Post("/api/bookings/:id/confirm", auth.ThenFunc(h.Confirm))
	mux.Post("/api/bookings/:id/reject", auth.ThenFunc(h.Reject))
	mux.Post("/api/bookings/:id/cancel", auth.ThenFunc(h.Cancel))
	mux.Post("/api/bookings/:id/complete", auth.ThenFunc(h.Complete))
	mux.Post("/api/bookings/:id/checkout", auth.ThenFunc(h.Checkout))
	mux.Post("/api/bookings/:id/hide", auth.ThenFunc(h.Hide))
	mux.Post("/api/bookings/:id/restore", auth.ThenFunc(h.Restore))
	mux.Post("/api/bookings/:id/proof", auth.ThenFunc(h.SubmitProof))
	mux.Post("/api/bookings/:id/reconcile", auth.ThenFunc(h.Reconcile))
	mux.Post("/api/bookings/:id/payment-descriptor", auth.ThenFunc(h.IssueDescriptor))

	mux.Post("/api/payments/status/bulk", auth.ThenFunc(h.BulkPaymentStatus))
	mux.Get("/api/payments/status/:hash", auth.ThenFunc(h.PaymentStatus))

	if h.Devices != nil {
		mux.Post("/api/devices", auth.ThenFunc(h.RegisterDevice))
	}
	if ws != nil {
		mux.Get("/ws/bookings", ws)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	body := errorBody{Error: err.Error(), Kind: string(apperr.KindOf(err))}
	var e *apperr.Error
	if errors.As(err, &e) {
		body.Field = e.Field
	}
	if status == http.StatusInternalServerError {
		if h.Logger != nil {
			h.Logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		}
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (lifecycle.Actor, bool) {
	a, ok := identity.FromContext(r.Context())
	if !ok || a.ID == 0 {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
		return lifecycle.Actor{}, false
	}
	return a, true
}

func pathID(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get(":id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("id", "invalid booking id %q", raw)
	}
	return id, nil
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return apperr.Validation("body", "invalid JSON: %v", err)
	}
	return nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}
