package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// buildManifest describes the agent's capabilities for provider discovery.
func (s *Server) buildManifest(baseURL string) gin.H {
	base := strings.TrimRight(baseURL, "/")

	var website any
	if s.cfg.AgentWebsite != "" {
		website = s.cfg.AgentWebsite
	}

	return gin.H{
		"name":        s.cfg.AgentName,
		"description": s.cfg.AgentDescription,
		"version":     s.cfg.AgentVersion,
		"publisher":   s.cfg.AgentPublisher,
		"website":     website,

		"protocol": "jsonrpc-2.0",
		"runtime":  "go",
		"endpoints": gin.H{
			"a2a":    base + "/invoke",
			"health": base + "/health",
		},
		"methodsSupported": []string{"message/send", "invoke", "help"},

		"messageParts": []string{"text", "data"},
		"headersExpected": []string{
			"X-Telex-Org-Id", "X-Telex-User-Id", "X-Deployment-Label", "X-Session-Id",
		},

		"capabilities": gin.H{
			"topics":    []string{"cryptocurrency", "defi", "nfts", "market-data", "headlines"},
			"grounding": []string{"CoinGecko", "CoinDesk RSS"},
			"responses": gin.H{
				"format":     "markdown",
				"maxWords":   200,
				"disclaimer": "This is not financial advice.",
			},
		},
	}
}

func (s *Server) handleManifest(c *gin.Context) {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if forwarded := c.GetHeader("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	baseURL := scheme + "://" + c.Request.Host

	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, s.buildManifest(baseURL))
}
