// Package auth turns bearer tokens into a Principal carrying a closed set of
// capabilities. Transports check capabilities once per request; services
// never see roles.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Capability uint8

const (
	CapViewAvailability Capability = iota + 1
	CapBook
	CapManageBookings
	CapEmergencyOverride
	CapManageSeries
	CapManageBlackouts
	CapCalendarSync
)

var capabilityNames = map[Capability]string{
	CapViewAvailability:  "view_availability",
	CapBook:              "book",
	CapManageBookings:    "manage_bookings",
	CapEmergencyOverride: "emergency_override",
	CapManageSeries:      "manage_series",
	CapManageBlackouts:   "manage_blackouts",
	CapCalendarSync:      "calendar_sync",
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return "unknown"
}

type Role string

const (
	RoleClient  Role = "client"
	RoleBarber  Role = "barber"
	RoleManager Role = "manager"
	RoleService Role = "service"
)

var roleCapabilities = map[Role][]Capability{
	RoleClient:  {CapViewAvailability, CapBook, CapManageSeries},
	RoleBarber:  {CapViewAvailability, CapBook, CapManageBookings, CapManageSeries},
	RoleManager: {CapViewAvailability, CapBook, CapManageBookings, CapEmergencyOverride, CapManageSeries, CapManageBlackouts},
	RoleService: {CapViewAvailability, CapManageBookings, CapCalendarSync},
}

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type Principal struct {
	Subject string
	Role    Role
	caps    map[Capability]struct{}
}

func NewPrincipal(subject string, role Role) Principal {
	caps := make(map[Capability]struct{})
	for _, c := range roleCapabilities[role] {
		caps[c] = struct{}{}
	}
	return Principal{Subject: subject, Role: role, caps: caps}
}

func (p Principal) Can(c Capability) bool {
	_, ok := p.caps[c]
	return ok
}

// Authenticator verifies HS256 tokens. An empty secret disables
// verification and every caller is treated as AnonymousRole.
type Authenticator struct {
	secret        []byte
	AnonymousRole Role
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), AnonymousRole: RoleClient}
}

func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// Authenticate resolves the Authorization header value ("Bearer <jwt>").
func (a *Authenticator) Authenticate(header string) (Principal, error) {
	if !a.Enabled() {
		return NewPrincipal("anonymous", a.AnonymousRole), nil
	}
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return Principal{}, ErrMissingToken
	}
	return a.ParseToken(strings.TrimSpace(parts[1]))
}

func (a *Authenticator) ParseToken(tokenString string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenMalformed
		}
		return a.secret, nil
	}, jwt.WithLeeway(5*time.Second))
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Principal{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	if _, known := roleCapabilities[Role(role)]; !known {
		return Principal{}, ErrInvalidToken
	}
	return NewPrincipal(sub, Role(role)), nil
}

// Sign issues a token for subject and role; used by tooling and tests.
func (a *Authenticator) Sign(subject string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	return token.SignedString(a.secret)
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
