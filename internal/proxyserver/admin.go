package proxyserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/viant/mcpguard/internal/audit"
)

// handleReloadPatterns implements POST /admin/reload-patterns: localhost-only
// hot reload of the regex pattern store, grounded on main.py's
// admin_reload_patterns.
func (s *Server) handleReloadPatterns(c *gin.Context) {
	clientIP := audit.SourceIP(c.Request)
	if clientIP != "127.0.0.1" && clientIP != "::1" {
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin endpoints are restricted to localhost"})
		return
	}
	count, err := s.det.Patterns.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Pattern reload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"loaded": count})
}
