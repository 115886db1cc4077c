package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"ai_gateway/internal/gateway"
	"ai_gateway/internal/middleware"
	"ai_gateway/internal/models"
	"ai_gateway/internal/utils"
)

// startDemoRequest is the body for POST /demo/session
type startDemoRequest struct {
	Email string `json:"email"`
}

// startDemoResponse carries the issued session token; the token is returned
// once and only its hash is ever cached server-side.
type startDemoResponse struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleDemoSessionStart creates a demo session and issues its token.
func (d *Dependencies) handleDemoSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body startDemoRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, token, err := d.Gateway.StartDemoSession(r.Context(), body.Email, clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, startDemoResponse{
		SessionID: user.SessionID,
		Token:     token,
		ExpiresAt: user.DemoExpiresAt,
	})
}

// chatRequest is the body for POST /demo/chat
type chatRequest struct {
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	System      string  `json:"system,omitempty"`
	Message     string  `json:"message"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type chatResponse struct {
	RequestID  string       `json:"request_id"`
	Content    string       `json:"content"`
	Model      string       `json:"model"`
	StopReason string       `json:"stop_reason"`
	Usage      models.Usage `json:"usage"`
}

// handleDemoChat performs one chat interaction for an authenticated demo
// session. The session ID comes from the session-token middleware.
func (d *Dependencies) handleDemoChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sessionID, ok := middleware.GetSessionID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "missing session")
		return
	}

	if !d.RateLimit.Allow(r.Context(), sessionID) {
		utils.RespondWithError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reqID := uuid.New().String()
	req := gateway.SendRequest{
		SessionID:   sessionID,
		Provider:    models.ProviderType(body.Provider),
		Model:       body.Model,
		System:      body.System,
		Message:     body.Message,
		MaxTokens:   body.MaxTokens,
		Temperature: body.Temperature,
	}

	resp, err := d.Gateway.Send(r.Context(), req)
	d.audit(reqID, sessionID, "", req, resp, err, time.Since(start))
	if err != nil {
		writeError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, chatResponse{
		RequestID:  reqID,
		Content:    resp.Content,
		Model:      resp.Model,
		StopReason: string(resp.StopReason),
		Usage:      resp.Usage,
	})
}

// metricRequest is the body for POST /demo/metrics
type metricRequest struct {
	Framework   string  `json:"framework"`
	Model       string  `json:"model,omitempty"`
	System      string  `json:"system,omitempty"`
	Message     string  `json:"message"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type metricResponse struct {
	RequestID  string       `json:"request_id"`
	Framework  string       `json:"framework"`
	Remaining  int          `json:"remaining"`
	Content    string       `json:"content"`
	Model      string       `json:"model"`
	StopReason string       `json:"stop_reason"`
	Usage      models.Usage `json:"usage"`
}

// handleDemoMetric generates one AI-assisted metric against a per-framework
// quota.
func (d *Dependencies) handleDemoMetric(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sessionID, ok := middleware.GetSessionID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "missing session")
		return
	}

	if !d.RateLimit.Allow(r.Context(), sessionID) {
		utils.RespondWithError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var body metricRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	framework := models.MetricFramework(body.Framework)
	if !framework.Valid() {
		utils.RespondWithError(w, http.StatusBadRequest, "framework must be csf or ai_rmf")
		return
	}

	reqID := uuid.New().String()
	req := gateway.SendRequest{
		Model:       body.Model,
		System:      body.System,
		Message:     body.Message,
		MaxTokens:   body.MaxTokens,
		Temperature: body.Temperature,
	}

	result, err := d.Gateway.GenerateMetric(r.Context(), sessionID, framework, req)
	if err != nil {
		d.audit(reqID, sessionID, body.Framework, req, nil, err, time.Since(start))
		writeError(w, err)
		return
	}
	d.audit(reqID, sessionID, body.Framework, req, result.Response, nil, time.Since(start))

	utils.RespondWithJSON(w, http.StatusOK, metricResponse{
		RequestID:  reqID,
		Framework:  string(result.Framework),
		Remaining:  result.Remaining,
		Content:    result.Response.Content,
		Model:      result.Response.Model,
		StopReason: string(result.Response.StopReason),
		Usage:      result.Response.Usage,
	})
}

// clientIP extracts the caller IP, honoring X-Forwarded-For from the edge
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
