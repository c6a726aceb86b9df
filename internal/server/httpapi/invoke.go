package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sage/internal/a2a"
	"sage/internal/identity"
	"sage/internal/server/app"
)

// helpText is the fixed reply for the "help" method and the /help route.
const helpText = "**CryptoSage — A2A Agent**\n\n" +
	"I can answer crypto questions:\n" +
	"- `price of <coin>`\n- `top 10 coins` / `worst 5 coins`\n- `trending coins`\n- `news`\n- `details on <coin>`\n\n" +
	"_All data via free public APIs. This is not financial advice._"

const deploymentLabelHeader = "X-Deployment-Label"

// handleInvoke is the JSON-RPC entry point. Every outcome, parse failures
// included, is an HTTP 200 with the error carried in the envelope.
func (s *Server) handleInvoke(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, a2a.NewError(nil, a2a.CodeInternalError, "Internal error"))
		return
	}

	var req a2a.Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.logger.Error("invoke: undecodable envelope: %v", err)
		c.JSON(http.StatusOK, a2a.NewError(nil, a2a.CodeInternalError, "Internal error"))
		return
	}

	switch req.Method {
	case "help":
		c.JSON(http.StatusOK, a2a.NewResult(req.ID, helpText))
	case "message/send":
		c.JSON(http.StatusOK, s.handleSend(c, req))
	case "invoke":
		c.JSON(http.StatusOK, s.handleDirectInvoke(c, req))
	default:
		c.JSON(http.StatusOK, a2a.NewError(req.ID, a2a.CodeMethodNotFound, "Method not found"))
	}
}

// handleSend services the provider-shaped "message/send" method: extract the
// user text from the message parts, then run the shared pipeline.
func (s *Server) handleSend(c *gin.Context, req a2a.Request) a2a.Response {
	if len(req.Params) == 0 {
		return a2a.NewError(req.ID, a2a.CodeInvalidParams, "Invalid params for message/send")
	}
	var params a2a.SendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return a2a.NewError(req.ID, a2a.CodeInvalidParams, "Invalid params for message/send")
	}

	ex := a2a.Extract(params)
	s.logger.Info("telex parts=%d dbg=%s", len(params.Message.Parts), ex.Diagnostics)
	if ex.Text == "" {
		return a2a.NewError(req.ID, a2a.CodeInvalidParams, "No text provided in Telex message.")
	}

	// Header wins over message metadata on this path.
	label := c.GetHeader(deploymentLabelHeader)
	if label == "" {
		label = metaString(params.Metadata, "deployment_label")
	}
	if label == "" {
		label = s.cfg.DeploymentLabel
	}

	return s.dispatcher.Handle(c.Request.Context(), app.Request{
		ID:              req.ID,
		Text:            ex.Text,
		Identity:        identity.Params{Metadata: params.Metadata},
		Headers:         c.Request.Header,
		DeploymentLabel: label,
		Temperature:     s.cfg.Temperature,
		InlineHistory:   ex.InlineHistory,
	})
}

// handleDirectInvoke services the plain "invoke" method.
func (s *Server) handleDirectInvoke(c *gin.Context, req a2a.Request) a2a.Response {
	if len(req.Params) == 0 {
		return a2a.NewError(req.ID, a2a.CodeInvalidParams, "Invalid params: 'text' is required")
	}
	var params a2a.InvokeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return a2a.NewError(req.ID, a2a.CodeInvalidParams, "Invalid params: 'text' is required")
	}
	text := strings.TrimSpace(params.Text)
	if text == "" {
		return a2a.NewError(req.ID, a2a.CodeInvalidParams, "Invalid params: 'text' is required")
	}

	// Caller metadata wins over the header on this path.
	label := metaString(params.Metadata, "deployment_label")
	if label == "" {
		label = c.GetHeader(deploymentLabelHeader)
	}
	if label == "" {
		label = s.cfg.DeploymentLabel
	}

	temperature := s.cfg.Temperature
	if params.Temperature != nil {
		temperature = clamp01(*params.Temperature)
	}

	return s.dispatcher.Handle(c.Request.Context(), app.Request{
		ID:   req.ID,
		Text: text,
		Identity: identity.Params{
			UserID:    params.UserID,
			OrgID:     params.OrgID,
			ChannelID: params.ChannelID,
			Metadata:  params.Metadata,
		},
		Headers:         c.Request.Header,
		DeploymentLabel: label,
		Temperature:     temperature,
	})
}

// handleHelp returns the fixed help text; a JSON-RPC body is optional and only
// consulted for the id to echo.
func (s *Server) handleHelp(c *gin.Context) {
	var id json.RawMessage
	if body, err := io.ReadAll(c.Request.Body); err == nil && len(body) > 0 {
		var req a2a.Request
		if err := json.Unmarshal(body, &req); err == nil {
			id = req.ID
		}
	}
	c.JSON(http.StatusOK, a2a.NewResult(id, helpText))
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
