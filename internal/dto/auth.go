package dto

import "github.com/golang-jwt/jwt/v5"

// ==================== Auth DTOs ====================

// UserClaims are the claims of a user token. The token is issued upstream
// (bot or web frontend) with the shared auth secret; the user id comes from
// user_id, or from the subject when user_id is absent.
type UserClaims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// AdminLoginRequest is the admin login body
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// AdminLoginResponse is the admin login result
type AdminLoginResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Message   string `json:"message"`
}

// AdminJWTClaims are the claims of an admin token
type AdminJWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}
