package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxClaims ctxKey = iota
	ctxTenant
)

// WithClaims stores validated claims and the resolved tenant on ctx.
func WithClaims(ctx context.Context, claims Claims, tenant string) context.Context {
	ctx = context.WithValue(ctx, ctxClaims, claims)
	ctx = context.WithValue(ctx, ctxTenant, tenant)
	return ctx
}

func ClaimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(ctxClaims).(Claims)
	return c, ok
}

func UserID(ctx context.Context) (int64, error) {
	c, ok := ClaimsFrom(ctx)
	if !ok {
		return 0, errors.New("claims not in context")
	}
	return c.UserID()
}

// Tenant is the tenant the request's token was issued for.
func Tenant(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxTenant).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("tenant not in context")
}
