package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxOperator ctxKey = iota
	ctxScope
)

func WithOperator(ctx context.Context, operator, scope string) context.Context {
	ctx = context.WithValue(ctx, ctxOperator, operator)
	return context.WithValue(ctx, ctxScope, scope)
}

// Operator returns the operator recorded by RequireOperatorToken.
func Operator(ctx context.Context) (string, error) {
	v := ctx.Value(ctxOperator)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("operator not in context")
}

func Scope(ctx context.Context) (string, error) {
	v := ctx.Value(ctxScope)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("scope not in context")
}
