package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/lifecycle"
)

// ErrNoIdentity is returned when a request carries no usable credentials.
var ErrNoIdentity = errors.New("identity: missing or invalid token")

// Claims is the JWT payload issued by the authentication service.
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.StandardClaims
}

// Manager signs and parses HS256 access tokens.
type Manager struct {
	signingKey []byte
}

// NewManager constructs a Manager.
func NewManager(signingKey string) (*Manager, error) {
	if signingKey == "" {
		return nil, errors.New("empty signing key")
	}
	return &Manager{signingKey: []byte(signingKey)}, nil
}

// NewJWT issues a token for actor. Used by tests and operator tooling.
func (m *Manager) NewJWT(actor lifecycle.Actor, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: actor.ID,
		Role:   string(actor.Role),
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(ttl).Unix(),
		},
	})
	return token.SignedString(m.signingKey)
}

// Parse validates accessToken and returns the actor it names.
func (m *Manager) Parse(accessToken string) (lifecycle.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(accessToken, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil || !token.Valid {
		return lifecycle.Actor{}, ErrNoIdentity
	}
	role := normalizeRole(claims.Role)
	if claims.UserID <= 0 || !role.Valid() {
		return lifecycle.Actor{}, ErrNoIdentity
	}
	return lifecycle.Actor{ID: claims.UserID, Role: role}, nil
}

func normalizeRole(r string) fsm.Role {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "admin":
		return fsm.RoleAdmin
	case "owner", "landlord":
		return fsm.RoleOwner
	case "renter", "tenant", "user", "client":
		return fsm.RoleRenter
	}
	return fsm.Role(r)
}

type ctxKey struct{}

// WithActor stores actor in ctx.
func WithActor(ctx context.Context, actor lifecycle.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// FromContext returns the actor stored by the middleware.
func FromContext(ctx context.Context) (lifecycle.Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(lifecycle.Actor)
	return a, ok
}

// FromRequest parses the bearer token of r. WebSocket clients that cannot
// set headers may pass the token as the "token" query parameter.
func (m *Manager) FromRequest(r *http.Request) (lifecycle.Actor, error) {
	if a, ok := FromContext(r.Context()); ok {
		return a, nil
	}
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(raw, "Bearer ") {
		return m.Parse(strings.TrimPrefix(raw, "Bearer "))
	}
	if q := r.URL.Query().Get("token"); q != "" {
		return m.Parse(q)
	}
	return lifecycle.Actor{}, ErrNoIdentity
}

// Middleware rejects unauthenticated requests and stores the actor in the
// request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := m.FromRequest(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}
