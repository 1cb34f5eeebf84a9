package auth

import "github.com/golang-jwt/jwt/v5"

// Claims defines the JWT claims structure for GachaHub sessions.
// It embeds jwt.RegisteredClaims for standard fields (exp, iat, etc.) and
// adds user identity fields consumed by the admin API.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Email    string `json:"email,omitempty"`
}
