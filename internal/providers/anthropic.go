package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ai_gateway/internal/models"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicTimeout        = 60 * time.Second
)

// AnthropicProvider implements the Provider interface for the Anthropic
// Messages API.
type AnthropicProvider struct {
	baseURL string
	auth    headerAuth
	client  *http.Client
	catalog []ModelDescriptor
}

// NewAnthropicProvider creates the Anthropic adapter.
func NewAnthropicProvider() *AnthropicProvider {
	return &AnthropicProvider{
		baseURL: anthropicDefaultBaseURL,
		auth:    apiKeyHeaderAuth("x-api-key"),
		client:  newProviderHTTPClient(anthropicTimeout),
		catalog: []ModelDescriptor{
			{ID: "claude-sonnet-4-5", DisplayName: "Claude Sonnet 4.5", ContextWindow: 200000},
			{ID: "claude-opus-4-1", DisplayName: "Claude Opus 4.1", ContextWindow: 200000},
			{ID: "claude-3-7-sonnet-latest", DisplayName: "Claude 3.7 Sonnet", ContextWindow: 200000},
			{ID: "claude-3-5-haiku-latest", DisplayName: "Claude 3.5 Haiku", ContextWindow: 200000},
		},
	}
}

func (p *AnthropicProvider) Type() models.ProviderType {
	return models.ProviderTypeAnthropic
}

func (p *AnthropicProvider) Available() bool {
	return true
}

func (p *AnthropicProvider) Models() []ModelDescriptor {
	return p.catalog
}

func (p *AnthropicProvider) DefaultModel() string {
	return "claude-sonnet-4-5"
}

// anthropicRequest is the Messages API request body.
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat sends a message to the Anthropic Messages API.
func (p *AnthropicProvider) Chat(ctx context.Context, creds models.Credentials, req ChatRequest) (*models.AIResponse, error) {
	if err := creds.Validate(p.Type()); err != nil {
		return nil, NewError(KindConfiguration, p.Type(), err)
	}

	model := req.Model
	if model == "" {
		model = p.DefaultModel()
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	body := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Message}},
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, Errorf(KindInvalidRequest, p.Type(), "failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, NewError(KindProviderUnavailable, p.Type(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	p.auth.apply(httpReq, creds.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewError(KindProviderUnavailable, p.Type(), fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindProviderUnavailable, p.Type(), fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(p.Type(), resp.StatusCode, anthropicErrorMessage(respBody))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, NewError(KindProviderUnavailable, p.Type(), fmt.Errorf("malformed response: %w", err))
	}

	var content string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &models.AIResponse{
		Content: content,
		Usage: models.Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
		StopReason: normalizeAnthropicStop(parsed.StopReason),
		Model:      parsed.Model,
	}, nil
}

// ValidateCredentials issues a 1-token completion against the default model.
// Every failure collapses to false.
func (p *AnthropicProvider) ValidateCredentials(ctx context.Context, creds models.Credentials) bool {
	_, err := p.Chat(ctx, creds, ChatRequest{
		Model:     p.DefaultModel(),
		Message:   "ping",
		MaxTokens: 1,
	})
	return err == nil
}

func normalizeAnthropicStop(reason string) models.StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return models.StopReasonStop
	case "max_tokens":
		return models.StopReasonLength
	}
	return models.StopReasonError
}

func anthropicErrorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.Error.Message
}

// newProviderHTTPClient builds the HTTP client shared by the REST adapters.
func newProviderHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
