package handlers

import (
	"net/http"
	"strconv"

	"autopay-backend/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ContextUserIDKey is where the auth middleware stores the caller's user id
const ContextUserIDKey = "user_id"

// currentUserID reads the authenticated user id; it aborts with 401 when missing
func currentUserID(c *gin.Context) (int64, bool) {
	if v, ok := c.Get(ContextUserIDKey); ok {
		if id, ok := v.(int64); ok && id > 0 {
			return id, true
		}
	}
	c.JSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   "Authentication required",
		"code":    "MISSING_USER",
	})
	return 0, false
}

// intentIDParam parses the :id path parameter
func intentIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid payment request id",
			"code":    string(types.KindInvalidInput),
		})
		return 0, false
	}
	return id, true
}

// statusForError maps a payment error kind to its HTTP status
func statusForError(err error) int {
	switch types.KindOf(err) {
	case types.KindInvalidMethod, types.KindInvalidInput:
		return http.StatusBadRequest
	case types.KindIntentNotFound:
		return http.StatusNotFound
	case types.KindIntentNotPending, types.KindIntentExpired:
		return http.StatusConflict
	case types.KindAdapterUnavailable, types.KindCredentialMissing:
		return http.StatusServiceUnavailable
	case "":
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

// respondError writes the error envelope; untyped errors are logged and hidden
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	status := statusForError(err)
	fields := logrus.Fields{
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
		"status": status,
	}
	if status == http.StatusInternalServerError {
		logger.WithFields(fields).WithError(err).Error("Request failed")
	} else {
		logger.WithFields(fields).WithError(err).Debug("Request rejected")
	}

	code := string(types.KindOf(err))
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   types.UserMessage(err),
		"code":    code,
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return def
}
