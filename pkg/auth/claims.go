package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ServiceTokenPayload captures the data available when minting a JWT.
type ServiceTokenPayload struct {
	Actor    string
	TenantID *uuid.UUID
	JTI      string
}

// ServiceTokenClaims identifies the caller of the credits API. A nil TenantID
// marks an operator token that may act on any tenant.
type ServiceTokenClaims struct {
	Actor    string     `json:"actor"`
	TenantID *uuid.UUID `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}
