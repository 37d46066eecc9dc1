// Package auth issues and verifies operator sessions for the admin dashboard
// and door devices.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired session token")
)

const issuer = "boom-tickets"

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Operator  string    `json:"operator"`
}

type Claims struct {
	jwt.RegisteredClaims
}

// Operator is the name recorded as approved_by / checked_in_by.
func (c *Claims) Operator() string {
	return c.Subject
}

type Authenticator interface {
	Login(ctx context.Context, password, operator string) (Session, error)
	Verify(token string) (*Claims, error)
}

// PasswordAuthenticator checks a shared operator password against a bcrypt
// hash and hands out HS256 tokens.
type PasswordAuthenticator struct {
	hash   []byte
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewPasswordAuthenticator(passwordHash, secret string, ttl time.Duration) *PasswordAuthenticator {
	return &PasswordAuthenticator{hash: []byte(passwordHash), secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (a *PasswordAuthenticator) Login(_ context.Context, password, operator string) (Session, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		operator = "admin"
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	now := a.now()
	expires := now.Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   operator,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return Session{}, errors.Wrap(err, "sign session token")
	}
	return Session{Token: signed, ExpiresAt: expires, Operator: operator}, nil
}

func (a *PasswordAuthenticator) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashPassword produces the value for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(h), err
}

type ctxKey struct{}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}

// OperatorFrom returns the authenticated operator name, or "" when the
// request carried no session.
func OperatorFrom(ctx context.Context) string {
	if c, ok := ClaimsFrom(ctx); ok {
		return c.Operator()
	}
	return ""
}

// BearerToken extracts the token from an "Authorization: Bearer x" header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
