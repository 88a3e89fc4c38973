package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/lifecycle"
)

func TestRoundTrip(t *testing.T) {
	m, err := NewManager("secret")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	token, err := m.NewJWT(lifecycle.Actor{ID: 42, Role: fsm.RoleOwner}, time.Hour)
	if err != nil {
		t.Fatalf("NewJWT: %v", err)
	}
	actor, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if actor.ID != 42 || actor.Role != fsm.RoleOwner {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other, _ := NewManager("other")
	if _, err := other.Parse(token); err == nil {
		t.Fatal("token signed with another key must be rejected")
	}
	expired, _ := m.NewJWT(lifecycle.Actor{ID: 42, Role: fsm.RoleOwner}, -time.Minute)
	if _, err := m.Parse(expired); err == nil {
		t.Fatal("expired token must be rejected")
	}
}

func TestMiddleware(t *testing.T) {
	m, _ := NewManager("secret")
	var seen lifecycle.Actor
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bookings", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	token, _ := m.NewJWT(lifecycle.Actor{ID: 7, Role: "client"}, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/api/bookings", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen.ID != 7 || seen.Role != fsm.RoleRenter {
		t.Fatalf("unexpected actor %+v", seen)
	}
}
