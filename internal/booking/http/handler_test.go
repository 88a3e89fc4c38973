package bookinghttp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
	"github.com/stretchr/testify/require"

	bookinghttp "housingBack/internal/booking/http"
	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/identity"
	"housingBack/internal/booking/ledger"
	"housingBack/internal/booking/lifecycle"
	"housingBack/internal/booking/memstore"
	"housingBack/internal/booking/schedule"
	"housingBack/internal/booking/workflow"
)

var (
	ict    = time.FixedZone("ICT", 7*3600)
	renter = lifecycle.Actor{ID: 10, Role: fsm.RoleRenter}
	owner  = lifecycle.Actor{ID: 20, Role: fsm.RoleOwner}
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

type pendingSource struct{}

func (pendingSource) Status(context.Context, string) (ledger.Status, error) {
	return ledger.StatusPending, nil
}

func (pendingSource) PaidAmong(context.Context, []string) ([]string, error) { return nil, nil }

type memProofs struct{ refs []string }

func (m *memProofs) Put(_ context.Context, bookingID int64, data []byte) (string, error) {
	ref := "mem://receipt/" + string(rune('a'+len(m.refs)))
	m.refs = append(m.refs, ref)
	return ref, nil
}

type server struct {
	srv    *httptest.Server
	ids    *identity.Manager
	proofs *memProofs
	store  *memstore.Store
}

func newServer(t *testing.T) *server {
	t.Helper()
	store := memstore.New()
	store.PutProperty(lifecycle.Property{ID: 5, OwnerID: owner.ID, IsAvailable: true})

	now := func() time.Time { return time.Date(2025, 5, 30, 8, 0, 0, 0, ict) }
	merchant := ledger.DefaultMerchant()
	merchant.AccountID = "housing@bank"
	led := ledger.New(ledger.Config{Merchant: merchant}, store, pendingSource{}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil))).WithClock(now)
	grid, err := schedule.NewGrid(nil, ict)
	require.NoError(t, err)
	cfg := lifecycle.DefaultConfig()
	cfg.Location = ict
	engine, err := workflow.New(workflow.Deps{
		Store:      store,
		Properties: store,
		Service:    lifecycle.NewService(cfg),
		Grid:       grid,
		Ledger:     led,
		Logger:     nopLogger{},
		Now:        now,
	})
	require.NoError(t, err)

	ids, err := identity.NewManager("test-secret")
	require.NoError(t, err)
	proofs := &memProofs{}
	h := &bookinghttp.Handler{Engine: engine, Proofs: proofs, Devices: store, Logger: nopLogger{}}
	mux := pat.New()
	h.Register(mux, alice.New(ids.Middleware), nil)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &server{srv: srv, ids: ids, proofs: proofs, store: store}
}

func (s *server) do(t *testing.T, actor *lifecycle.Actor, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return s.send(t, actor, req)
}

func (s *server) send(t *testing.T, actor *lifecycle.Actor, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	if actor != nil {
		token, err := s.ids.NewJWT(*actor, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

// bookingPath formats a JSON-decoded booking id into a route.
func bookingPath(id interface{}, action string) string {
	p := fmt.Sprintf("/api/bookings/%.0f", id.(float64))
	if action != "" {
		p += "/" + action
	}
	return p
}

func TestVisitLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)

	status, _ := s.do(t, nil, http.MethodGet, "/api/bookings", nil)
	require.Equal(t, http.StatusUnauthorized, status)

	status, created := s.do(t, &renter, http.MethodPost, "/api/bookings/visits", map[string]interface{}{
		"property_id": 5,
		"visit_time":  "2025-06-01T10:00:00+07:00",
	})
	require.Equal(t, http.StatusCreated, status, created)
	require.Equal(t, "pending", created["status"])
	id := created["id"]

	status, avail := s.do(t, &renter, http.MethodGet, "/api/bookings/availability?property_id=5&date=2025-06-01", nil)
	require.Equal(t, http.StatusOK, status, avail)
	require.Equal(t, []interface{}{"10:00"}, avail["booked_slots"])
	require.Equal(t, true, avail["has_available"])

	status, _ = s.do(t, &renter, http.MethodPost, "/api/bookings/visits", map[string]interface{}{
		"property_id": 5,
		"visit_time":  "2025-06-01T10:00:00+07:00",
	})
	require.Equal(t, http.StatusConflict, status)

	status, body := s.do(t, &renter, http.MethodPost, bookingPath(id, "confirm"), nil)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "forbidden", body["kind"])

	status, body = s.do(t, &owner, http.MethodPost, bookingPath(id, "confirm"), nil)
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "confirmed", body["status"])

	status, body = s.do(t, &owner, http.MethodPost, bookingPath(id, "confirm"), nil)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "invalid_transition", body["kind"])

	status, body = s.do(t, &owner, http.MethodGet, bookingPath(id, "messages"), nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["messages"], 1)

	status, body = s.do(t, &owner, http.MethodGet, "/api/bookings?kind=visit&status=confirmed,completed", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["bookings"], 1)

	status, _ = s.do(t, &owner, http.MethodGet, "/api/bookings?view=archive", nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, &owner, http.MethodGet, "/api/bookings/abc", nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, &owner, http.MethodDelete, bookingPath(id, ""), nil)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = s.do(t, &owner, http.MethodGet, bookingPath(id, ""), nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestDescriptorAndStatusOverHTTP(t *testing.T) {
	s := newServer(t)

	status, created := s.do(t, &renter, http.MethodPost, "/api/bookings/rentals", map[string]interface{}{
		"property_id":    5,
		"start_date":     "2025-06-10T00:00:00+07:00",
		"monthly_rent":   "400.00",
		"deposit_amount": 100,
	})
	require.Equal(t, http.StatusCreated, status, created)
	id := created["id"]

	status, issued := s.do(t, &renter, http.MethodPost, bookingPath(id, "payment-descriptor"), nil)
	require.Equal(t, http.StatusCreated, status, issued)
	require.True(t, strings.HasPrefix(issued["qr_image"].(string), "data:image/png;base64,"))
	desc := issued["descriptor"].(map[string]interface{})
	hash := desc["hash"].(string)

	status, again := s.do(t, &renter, http.MethodPost, bookingPath(id, "payment-descriptor"), nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, again["reused"])

	status, res := s.do(t, &renter, http.MethodGet, "/api/payments/status/"+hash, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "pending", res["status"])

	status, bulk := s.do(t, &renter, http.MethodPost, "/api/payments/status/bulk", map[string]interface{}{"hashes": []string{hash}})
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, bulk["paid"])

	status, rec := s.do(t, &owner, http.MethodPost, bookingPath(id, "reconcile"), nil)
	require.Equal(t, http.StatusOK, status, rec)
	require.Equal(t, "pending", rec["booking"].(map[string]interface{})["status"])
}

func TestProofUploadOverHTTP(t *testing.T) {
	s := newServer(t)

	status, created := s.do(t, &renter, http.MethodPost, "/api/bookings/rentals", map[string]interface{}{
		"property_id":  5,
		"start_date":   "2025-06-10T00:00:00+07:00",
		"monthly_rent": 400,
	})
	require.Equal(t, http.StatusCreated, status, created)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("amount", "400.00"))
	require.NoError(t, mw.WriteField("currency", "usd"))
	part, err := mw.CreateFormFile("proof", "receipt.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, s.srv.URL+bookingPath(created["id"], "proof"), &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	status, body := s.send(t, &renter, req)
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "pending_review", body["status"])
	require.Equal(t, "mem://receipt/a", body["transaction_proof_ref"])
	require.Len(t, s.proofs.refs, 1)
}

func (s *server) sendPaymentForm(t *testing.T, actor *lifecycle.Actor, booking string) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("booking", booking))
	part, err := mw.CreateFormFile("proof", "receipt.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/bookings/payment", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.send(t, actor, req)
}

func TestCreateWithPaymentStoresProofOnlyWhenAccepted(t *testing.T) {
	s := newServer(t)

	status, _ := s.do(t, &renter, http.MethodPost, "/api/bookings/visits", map[string]interface{}{
		"property_id": 5,
		"visit_time":  "2025-06-01T10:00:00+07:00",
	})
	require.Equal(t, http.StatusCreated, status)

	rival := lifecycle.Actor{ID: 11, Role: fsm.RoleRenter}
	refused := []struct {
		name    string
		actor   lifecycle.Actor
		booking string
		want    int
	}{
		{"owner books own property", owner, `{"kind":"rental","rental":{"property_id":5,"start_date":"2025-06-10T00:00:00+07:00","monthly_rent":400}}`, http.StatusForbidden},
		{"unknown property", renter, `{"kind":"rental","rental":{"property_id":99,"start_date":"2025-06-10T00:00:00+07:00","monthly_rent":400}}`, http.StatusNotFound},
		{"taken slot", rival, `{"kind":"visit","visit":{"property_id":5,"visit_time":"2025-06-01T10:00:00+07:00"}}`, http.StatusConflict},
		{"unknown kind", renter, `{"kind":"lease"}`, http.StatusBadRequest},
	}
	for _, tc := range refused {
		t.Run(tc.name, func(t *testing.T) {
			status, body := s.sendPaymentForm(t, &tc.actor, tc.booking)
			require.Equal(t, tc.want, status, body)
			require.Empty(t, s.proofs.refs, "refused request must not store its receipt")
		})
	}

	status, body := s.sendPaymentForm(t, &rival,
		`{"kind":"visit","visit":{"property_id":5,"visit_time":"2025-06-01T11:00:00+07:00"},"amount":5}`)
	require.Equal(t, http.StatusCreated, status, body)
	require.Equal(t, "pending_review", body["status"])
	require.Equal(t, "mem://receipt/a", body["transaction_proof_ref"])
	require.Len(t, s.proofs.refs, 1)
}

func TestRegisterDevice(t *testing.T) {
	s := newServer(t)

	status, _ := s.do(t, &renter, http.MethodPost, "/api/devices", map[string]string{"token": " "})
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, &renter, http.MethodPost, "/api/devices", map[string]string{"token": "fcm-1"})
	require.Equal(t, http.StatusNoContent, status)
	tokens, err := s.store.TokensFor(context.Background(), renter.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"fcm-1"}, tokens)
}
