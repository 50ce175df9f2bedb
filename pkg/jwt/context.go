package jwt

import (
	"context"
	"log/slog"
)

type contextKey struct{ name string }

var claimsContextKey = &contextKey{name: "jwt_claims"}

// SetClaims stores verified claims in ctx.
func SetClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext returns the verified claims, if any.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(Claims)
	return claims, ok
}

// UserIDFromContext returns the authenticated user id or "".
func UserIDFromContext(ctx context.Context) string {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return ""
	}
	return claims.User()
}

// LoggerExtractor logs the authenticated user id as user_id.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id := UserIDFromContext(ctx); id != "" {
			return slog.String("user_id", id), true
		}
		return slog.Attr{}, false
	}
}
