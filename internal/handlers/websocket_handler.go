package handlers

import (
	"log"
	"net/http"
	"strings"

	"autopay-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// WebSocketHandler upgrades authenticated users to the intent status push
type WebSocketHandler struct {
	pushService *services.WebSocketPushService
	jwtSecret   []byte
}

// NewWebSocketHandler creates a WebSocketHandler
func NewWebSocketHandler(pushService *services.WebSocketPushService, jwtSecret string) *WebSocketHandler {
	return &WebSocketHandler{
		pushService: pushService,
		jwtSecret:   []byte(jwtSecret),
	}
}

// HandleWebSocket GET /api/payments/ws
// Browsers cannot set headers on the upgrade request, so the token may also come as ?token=
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := h.extractUserFromToken(c.Request)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Authentication required",
			"code":    "INVALID_TOKEN",
		})
		return
	}
	h.pushService.HandleWebSocket(c.Writer, c.Request, userID)
}

// GetConnectionStatus GET /api/payments/ws/status
func (h *WebSocketHandler) GetConnectionStatus(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"user_id":            userID,
		"user_connections":   h.pushService.GetUserConnections(userID),
		"active_connections": h.pushService.GetActiveConnections(),
	})
}

// extractUserFromToken returns the user id of the request's token, or 0
func (h *WebSocketHandler) extractUserFromToken(r *http.Request) int64 {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		return 0
	}

	claims, err := ValidateUserToken(h.jwtSecret, token)
	if err != nil {
		log.Printf("❌ [WebSocket] JWT validation failed: %v", err)
		return 0
	}
	return claims.UserID
}
