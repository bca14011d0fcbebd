package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"autopay-backend/internal/config"
	"autopay-backend/internal/dto"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var testSecret = []byte("test-user-secret")

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestUserTokenRoundTrip(t *testing.T) {
	token, err := GenerateUserToken(testSecret, "autopay", 42, time.Hour)
	if err != nil {
		t.Fatalf("GenerateUserToken: %v", err)
	}
	claims, err := ValidateUserToken(testSecret, token)
	if err != nil {
		t.Fatalf("ValidateUserToken: %v", err)
	}
	if claims.UserID != 42 {
		t.Fatalf("user id = %d", claims.UserID)
	}

	if _, err := ValidateUserToken([]byte("other"), token); err == nil {
		t.Fatalf("token accepted with the wrong secret")
	}
	if _, err := ValidateUserToken(nil, token); err == nil {
		t.Fatalf("token accepted without a secret")
	}

	expired, _ := GenerateUserToken(testSecret, "autopay", 42, -time.Minute)
	if _, err := ValidateUserToken(testSecret, expired); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestUserTokenSubjectFallback(t *testing.T) {
	sign := func(claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	claims, err := ValidateUserToken(testSecret, sign(jwt.RegisteredClaims{Subject: "77"}))
	if err != nil || claims.UserID != 77 {
		t.Fatalf("subject fallback = %+v, %v", claims, err)
	}
	if _, err := ValidateUserToken(testSecret, sign(jwt.RegisteredClaims{Subject: "alice"})); err == nil {
		t.Fatalf("non-numeric subject accepted")
	}
	if _, err := ValidateUserToken(testSecret, sign(jwt.RegisteredClaims{})); err == nil {
		t.Fatalf("token without user accepted")
	}
}

func TestAdminTokenValidation(t *testing.T) {
	secret := []byte("admin-secret")
	token, err := GenerateAdminToken(secret, "ops", time.Hour)
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}
	claims, err := ValidateAdminJWTToken(secret, token)
	if err != nil {
		t.Fatalf("ValidateAdminJWTToken: %v", err)
	}
	if claims.Username != "ops" || claims.Role != AdminRole {
		t.Fatalf("claims = %+v", claims)
	}

	// a user token signed with the same secret is not an admin token
	userToken, _ := GenerateUserToken(secret, "autopay", 1, time.Hour)
	if _, err := ValidateAdminJWTToken(secret, userToken); err == nil {
		t.Fatalf("user token accepted as admin token")
	}
}

type adminFixture struct {
	handler *AdminAuthHandler
	engine  *gin.Engine
	secret  string
}

func newAdminFixture(t *testing.T, configured bool) *adminFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.AdminConfig{Username: "admin", JWTSecret: "admin-secret", TokenTTLMin: 30}
	var secret string
	if configured {
		key, err := NewTOTPKey("admin")
		if err != nil {
			t.Fatalf("NewTOTPKey: %v", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("bcrypt: %v", err)
		}
		secret = key.Secret()
		cfg.TOTPSecret = secret
		cfg.PasswordHash = string(hash)
	}

	h := NewAdminAuthHandler(cfg, quietLogger())
	r := gin.New()
	r.POST("/login", h.AdminLoginHandler)
	r.POST("/totp", h.GenerateTOTPSecretHandler)
	return &adminFixture{handler: h, engine: r, secret: secret}
}

func (f *adminFixture) login(t *testing.T, body interface{}) (*httptest.ResponseRecorder, dto.AdminLoginResponse) {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var resp dto.AdminLoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v (%s)", err, w.Body.String())
	}
	return w, resp
}

func TestAdminLogin(t *testing.T) {
	f := newAdminFixture(t, true)
	code, err := totp.GenerateCode(f.secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	w, resp := f.login(t, dto.AdminLoginRequest{Username: "admin", Password: "s3cret", TOTPCode: code})
	if w.Code != http.StatusOK || !resp.Success || resp.Token == "" {
		t.Fatalf("login = %d %+v", w.Code, resp)
	}
	claims, err := ValidateAdminJWTToken([]byte("admin-secret"), resp.Token)
	if err != nil || claims.Username != "admin" {
		t.Fatalf("issued token = %+v, %v", claims, err)
	}
	if ttl := time.Until(claims.ExpiresAt.Time); ttl > 31*time.Minute || ttl < 29*time.Minute {
		t.Fatalf("token ttl = %s", ttl)
	}

	cases := []struct {
		name string
		req  dto.AdminLoginRequest
		want int
	}{
		{"wrong password", dto.AdminLoginRequest{Username: "admin", Password: "nope", TOTPCode: code}, http.StatusUnauthorized},
		{"wrong user", dto.AdminLoginRequest{Username: "root", Password: "s3cret", TOTPCode: code}, http.StatusUnauthorized},
		{"wrong totp", dto.AdminLoginRequest{Username: "admin", Password: "s3cret", TOTPCode: "abcdef"}, http.StatusUnauthorized},
		{"missing totp", dto.AdminLoginRequest{Username: "admin", Password: "s3cret"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, resp := f.login(t, tc.req)
			if w.Code != tc.want || resp.Success || resp.Token != "" {
				t.Fatalf("login = %d %+v", w.Code, resp)
			}
		})
	}
}

func TestAdminLoginUnconfigured(t *testing.T) {
	f := newAdminFixture(t, false)
	w, resp := f.login(t, dto.AdminLoginRequest{Username: "admin", Password: "x", TOTPCode: "123456"})
	if w.Code != http.StatusServiceUnavailable || resp.Success {
		t.Fatalf("login = %d %+v", w.Code, resp)
	}
}

func TestGenerateTOTPSecretHandler(t *testing.T) {
	unconfigured := newAdminFixture(t, false)
	w := httptest.NewRecorder()
	unconfigured.engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/totp", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Secret string `json:"secret"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.Secret == "" || body.URL == "" {
		t.Fatalf("body = %s, %v", w.Body.String(), err)
	}

	configured := newAdminFixture(t, true)
	w = httptest.NewRecorder()
	configured.engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/totp", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status with configured secret = %d", w.Code)
	}
}

func TestHashAdminPassword(t *testing.T) {
	hash, err := HashAdminPassword("pw")
	if err != nil {
		t.Fatalf("HashAdminPassword: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("pw")) != nil {
		t.Fatalf("hash does not verify")
	}
}
