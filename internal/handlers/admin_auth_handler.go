package handlers

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"autopay-backend/internal/config"
	"autopay-backend/internal/dto"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	// AdminRole is the role carried by admin tokens
	AdminRole = "admin"

	adminIssuer = "autopay-backend-admin"
)

// AdminJWTClaims are the claims carried by admin tokens
type AdminJWTClaims = dto.AdminJWTClaims

// AdminAuthHandler handles admin login (bcrypt password + TOTP)
type AdminAuthHandler struct {
	cfg    config.AdminConfig
	logger *logrus.Logger
	now    func() time.Time
}

// NewAdminAuthHandler creates an AdminAuthHandler
func NewAdminAuthHandler(cfg config.AdminConfig, logger *logrus.Logger) *AdminAuthHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.TOTPSecret == "" || cfg.PasswordHash == "" {
		logger.Warn("⚠️ admin.totpSecret or admin.passwordHash is not set, admin login is disabled")
	}
	if cfg.JWTSecret == "" {
		logger.Warn("⚠️ admin.jwtSecret is not set, admin tokens cannot be issued")
	}
	return &AdminAuthHandler{cfg: cfg, logger: logger, now: time.Now}
}

// AdminLoginHandler exchanges username, password and TOTP code for an admin token
func (h *AdminAuthHandler) AdminLoginHandler(c *gin.Context) {
	if h.cfg.TOTPSecret == "" || h.cfg.PasswordHash == "" || h.cfg.JWTSecret == "" {
		c.JSON(http.StatusServiceUnavailable, dto.AdminLoginResponse{
			Success: false,
			Message: "Admin login is not configured",
		})
		return
	}

	var req dto.AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.AdminLoginResponse{
			Success: false,
			Message: fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	fields := logrus.Fields{"username": req.Username, "client_ip": c.ClientIP()}

	// same message for wrong user and wrong password
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.cfg.Username)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(h.cfg.PasswordHash), []byte(req.Password)) == nil
	if !userOK || !passOK {
		h.logger.WithFields(fields).Warn("Admin login rejected - invalid credentials")
		c.JSON(http.StatusUnauthorized, dto.AdminLoginResponse{
			Success: false,
			Message: "Invalid credentials",
		})
		return
	}

	valid, err := totp.ValidateCustom(req.TOTPCode, h.cfg.TOTPSecret, h.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		h.logger.WithFields(fields).Warn("Admin login rejected - invalid TOTP code")
		c.JSON(http.StatusUnauthorized, dto.AdminLoginResponse{
			Success: false,
			Message: "Invalid TOTP code",
		})
		return
	}

	ttl := time.Duration(h.cfg.TokenTTLMin) * time.Minute
	token, err := GenerateAdminToken([]byte(h.cfg.JWTSecret), req.Username, ttl)
	if err != nil {
		h.logger.WithFields(fields).WithError(err).Error("Failed to sign admin token")
		c.JSON(http.StatusInternalServerError, dto.AdminLoginResponse{
			Success: false,
			Message: "Failed to generate token",
		})
		return
	}

	h.logger.WithFields(fields).Info("Admin logged in")
	c.JSON(http.StatusOK, dto.AdminLoginResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: h.now().Add(ttl).Unix(),
		Message:   "Login successful",
	})
}

// GenerateTOTPSecretHandler returns a fresh TOTP secret while none is configured
func (h *AdminAuthHandler) GenerateTOTPSecretHandler(c *gin.Context) {
	if h.cfg.TOTPSecret != "" {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "TOTP secret already configured",
		})
		return
	}

	key, err := NewTOTPKey(h.cfg.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to generate TOTP secret",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"secret":  key.Secret(),
		"url":     key.URL(),
		"message": "Store this secret in admin.totpSecret (or ADMIN_TOTP_SECRET) and add it to an authenticator app.",
	})
}

// NewTOTPKey generates a TOTP key for the admin account
func NewTOTPKey(account string) (*otp.Key, error) {
	if account == "" {
		account = "admin"
	}
	return totp.Generate(totp.GenerateOpts{
		Issuer:      "AutoPay Admin",
		AccountName: account,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
}

// GenerateAdminToken signs an admin token
func GenerateAdminToken(secret []byte, username string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errEmptySecret
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := AdminJWTClaims{
		Username: username,
		Role:     AdminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    adminIssuer,
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateAdminJWTToken verifies an admin token
func ValidateAdminJWTToken(secret []byte, tokenString string) (*AdminJWTClaims, error) {
	if len(secret) == 0 {
		return nil, errEmptySecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &AdminJWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(adminIssuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*AdminJWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// HashAdminPassword returns the bcrypt hash stored in admin.passwordHash
func HashAdminPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
