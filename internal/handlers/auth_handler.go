package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"autopay-backend/internal/dto"

	"github.com/golang-jwt/jwt/v5"
)

// UserClaims are the claims carried by user tokens
type UserClaims = dto.UserClaims

var errEmptySecret = errors.New("jwt secret is not configured")

// GenerateUserToken signs a user token; used by tooling and tests; production
// tokens come from the upstream issuer sharing auth.jwtSecret
func GenerateUserToken(secret []byte, issuer string, userID int64, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errEmptySecret
	}
	now := time.Now()
	claims := UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   strconv.FormatInt(userID, 10),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateUserToken verifies an HS256 user token and resolves its user id
func ValidateUserToken(secret []byte, tokenString string) (*UserClaims, error) {
	if len(secret) == 0 {
		return nil, errEmptySecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID == 0 && claims.Subject != "" {
		id, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("token subject is not a user id: %w", err)
		}
		claims.UserID = id
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("token carries no user id")
	}
	return claims, nil
}
