// Package auth turns bearer tokens into actors. Tokens are HS256 JWTs whose
// subject is the actor id and whose role claim grants admin capability.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kirinyoku/reservo/internal/domain"
)

const RoleAdmin = "admin"

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

type Resolver struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewResolver(cfg Config) *Resolver {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Resolver{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Resolve validates raw and returns the actor it names.
//
// Returns:
//   - error: ErrInvalidToken for a bad signature, an expired token, a wrong
//     issuer or a missing subject.
func (r *Resolver) Resolve(raw string) (domain.Actor, error) {
	const op = "auth.Resolver.Resolve"

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(r.now),
		jwt.WithExpirationRequired(),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return domain.Actor{}, fmt.Errorf("%s: %w: %v", op, ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return domain.Actor{}, fmt.Errorf("%s: %w: missing subject", op, ErrInvalidToken)
	}

	return domain.Actor{ID: claims.Subject, Admin: claims.Role == RoleAdmin}, nil
}

// Issue signs a token for actor valid for the configured TTL.
func (r *Resolver) Issue(actor domain.Actor) (string, error) {
	const op = "auth.Resolver.Issue"

	now := r.now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
		},
	}
	if actor.Admin {
		claims.Role = RoleAdmin
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

type ctxKey struct{}

func WithActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// ActorFrom returns the actor stored in ctx, or the anonymous actor.
func ActorFrom(ctx context.Context) domain.Actor {
	a, _ := ctx.Value(ctxKey{}).(domain.Actor)
	return a
}
