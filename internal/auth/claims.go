package auth

import "github.com/golang-jwt/jwt/v5"

// Role names. Keep these stable; they are part of the API contract.
const (
	// RoleSubscriber can manage their own schedule and calls.
	RoleSubscriber = "subscriber"
	// RoleAdmin can additionally trigger office polls and grant credits.
	RoleAdmin = "admin"
)

// Claims are the only supported JWT claims shape for this service.
// SubscriberID scopes every /v1 operation; admins carry their own id.
type Claims struct {
	jwt.RegisteredClaims

	SubscriberID string `json:"subscriber_id"`
	Role         string `json:"role"`
}
