package api

import (
	"context"

	"github.com/npezzotti/go-callrelay/internal/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

func WithClaims(ctx context.Context, claims auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func ClaimsFrom(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(auth.Claims)
	return claims, ok
}
