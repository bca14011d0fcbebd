package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LocalhostOnly admits localhost and whitelisted IPs or CIDR ranges.
// c.ClientIP() honors X-Forwarded-For only for the engine's trusted proxies.
type LocalhostOnly struct {
	logger     *logrus.Logger
	allowedIPs []string
	networks   []*net.IPNet
}

// NewLocalhostOnly creates the middleware; invalid CIDR entries are logged and skipped
func NewLocalhostOnly(logger *logrus.Logger, allowedIPs []string) *LocalhostOnly {
	l := &LocalhostOnly{logger: logger}
	for _, raw := range allowedIPs {
		allowed := strings.TrimSpace(raw)
		if allowed == "" {
			continue
		}
		if strings.Contains(allowed, "/") {
			_, ipNet, err := net.ParseCIDR(allowed)
			if err != nil {
				logger.WithFields(logrus.Fields{
					"allowed": allowed,
					"error":   err.Error(),
				}).Warn("Invalid CIDR in admin.allowedIPs")
				continue
			}
			l.networks = append(l.networks, ipNet)
			continue
		}
		l.allowedIPs = append(l.allowedIPs, allowed)
	}
	return l
}

// Restrict rejects requests from other addresses with 403
func (l *LocalhostOnly) Restrict() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allows(c) {
			l.logger.WithFields(logrus.Fields{
				"client_ip":  c.ClientIP(),
				"path":       c.Request.URL.Path,
				"method":     c.Request.Method,
				"user_agent": c.GetHeader("User-Agent"),
			}).Warn("Reject non-whitelisted access to sensitive API")

			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "This API is only accessible from allowed IP addresses",
				"code":    "IP_NOT_ALLOWED",
			})
			return
		}
		c.Next()
	}
}

// Allows reports whether the request comes from localhost or a whitelisted address
func (l *LocalhostOnly) Allows(c *gin.Context) bool {
	clientIP := c.ClientIP()
	if l.isAllowedIP(clientIP) {
		return true
	}
	// a direct loopback connection behind a misconfigured proxy list
	remoteIP, _, _ := net.SplitHostPort(c.Request.RemoteAddr)
	if remoteIP != clientIP && isLocalhost(remoteIP) && c.GetHeader("X-Forwarded-For") == "" {
		return true
	}
	return false
}

func isLocalhost(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip == "localhost"
	}
	return parsed.IsLoopback()
}

// isAllowedIP checks localhost, exact entries and CIDR ranges
func (l *LocalhostOnly) isAllowedIP(ip string) bool {
	if isLocalhost(ip) {
		return true
	}
	parsed := net.ParseIP(ip)
	for _, allowed := range l.allowedIPs {
		if parsed == nil {
			if ip == allowed {
				return true
			}
			continue
		}
		if allowedIP := net.ParseIP(allowed); allowedIP != nil && allowedIP.Equal(parsed) {
			return true
		}
	}
	if parsed == nil {
		return false
	}
	for _, ipNet := range l.networks {
		if ipNet.Contains(parsed) {
			l.logger.WithFields(logrus.Fields{
				"ip":   ip,
				"cidr": ipNet.String(),
			}).Debug("IP matched by CIDR")
			return true
		}
	}
	return false
}
