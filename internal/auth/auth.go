package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/DoyleJ11/memory-match-backend/internal/apperr"
)

var (
	ErrMissingToken = apperr.New(apperr.KindAuth, "authentication token required")
	ErrInvalidToken = apperr.New(apperr.KindAuth, "invalid or expired token")
)

// Principal is the authenticated caller.
type Principal struct {
	UserID   string
	Username string
}

// tokenClaims accepts the user id under userId, id or sub.
type tokenClaims struct {
	UserID   string `json:"userId,omitempty"`
	LegacyID string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

func (c *tokenClaims) userID() string {
	switch {
	case c.UserID != "":
		return c.UserID
	case c.LegacyID != "":
		return c.LegacyID
	default:
		return c.Subject
	}
}

// Authenticator verifies and issues HS256 tokens.
type Authenticator struct {
	secret []byte
	clock  clockwork.Clock
}

func NewAuthenticator(secret string, clock clockwork.Clock) *Authenticator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Authenticator{secret: []byte(secret), clock: clock}
}

func (a *Authenticator) Verify(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrMissingToken
	}
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.clock.Now))
	if err != nil {
		return Principal{}, apperr.Wrap(apperr.KindAuth, ErrInvalidToken.Message, err)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || claims.userID() == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: claims.userID(), Username: claims.Username}, nil
}

// Issue signs a token for p. It is used by tests and local tooling; the
// production issuer is the account service.
func (a *Authenticator) Issue(p Principal, ttl time.Duration) (string, error) {
	now := a.clock.Now()
	claims := tokenClaims{
		UserID:   p.UserID,
		Username: p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// TokenFromRequest reads ?token= first, then an Authorization bearer header.
// Browsers cannot set headers on websocket upgrades, hence the query form.
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
