package middleware

import (
	"context"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ClaimsKey is the context key for JWT claims
	ClaimsKey contextKey = "claims"

	// ActorKey is the context key for the acting user recorded on audit rows
	ActorKey contextKey = "actor"
)

// DefaultActor is used when a request carries no identity
const DefaultActor = "system"

// Claims represents JWT claims extracted from the token
type Claims struct {
	Subject string   `json:"sub"`
	Email   string   `json:"email"`
	Roles   []string `json:"roles"`
	Issuer  string   `json:"iss"`
	Exp     int64    `json:"exp"`
	Iat     int64    `json:"iat"`
}

// Actor returns the name recorded as created_by / changed_by for this identity
func (c *Claims) Actor() string {
	if c.Email != "" {
		return c.Email
	}
	if c.Subject != "" {
		return c.Subject
	}
	return DefaultActor
}

// HasRole reports whether the claims carry the given role
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetClaimsFromContext retrieves JWT claims from context
func GetClaimsFromContext(ctx context.Context) *Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds JWT claims to the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetActorFromContext retrieves the acting user, falling back to DefaultActor
func GetActorFromContext(ctx context.Context) string {
	if val := ctx.Value(ActorKey); val != nil {
		if actor, ok := val.(string); ok && actor != "" {
			return actor
		}
	}
	if claims := GetClaimsFromContext(ctx); claims != nil {
		return claims.Actor()
	}
	return DefaultActor
}

// WithActor adds the acting user to the context
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}
