package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kirinyoku/reservo/internal/auth"
	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_RoundTrip(t *testing.T) {
	r := auth.NewResolver(auth.Config{Secret: "s3cret", Issuer: "reservo"})

	for _, actor := range []domain.Actor{{ID: "u1"}, {ID: "a1", Admin: true}} {
		tok, err := r.Issue(actor)
		require.NoError(t, err)

		got, err := r.Resolve(tok)
		require.NoError(t, err)
		assert.Equal(t, actor, got)
	}
}

func TestResolver_Rejects(t *testing.T) {
	r := auth.NewResolver(auth.Config{Secret: "s3cret", Issuer: "reservo"})
	other := auth.NewResolver(auth.Config{Secret: "other", Issuer: "reservo"})
	foreign := auth.NewResolver(auth.Config{Secret: "s3cret", Issuer: "someone-else"})
	expired := auth.NewResolver(auth.Config{Secret: "s3cret", Issuer: "reservo", TTL: -time.Minute})

	sign := func(r *auth.Resolver) string {
		tok, err := r.Issue(domain.Actor{ID: "u1"})
		require.NoError(t, err)
		return tok
	}

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "reservo",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":      "not-a-jwt",
		"wrong secret": sign(other),
		"wrong issuer": sign(foreign),
		"expired":      sign(expired),
		"missing sub":  noSubject,
		"alg none":     "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ1MSJ9.",
	}

	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(tok)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestActorContext(t *testing.T) {
	ctx := context.Background()
	assert.False(t, auth.ActorFrom(ctx).Authenticated())

	ctx = auth.WithActor(ctx, domain.Actor{ID: "u1", Admin: true})
	assert.Equal(t, domain.Actor{ID: "u1", Admin: true}, auth.ActorFrom(ctx))
}
