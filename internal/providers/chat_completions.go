package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"ai_gateway/internal/models"
)

// chatCompletionsClient speaks the OpenAI chat-completions wire format,
// shared by the OpenAI and Together adapters.
type chatCompletionsClient struct {
	provider models.ProviderType
	baseURL  string
	auth     headerAuth
	client   *http.Client
}

type chatCompletionsRequest struct {
	Model       string                   `json:"model"`
	Messages    []chatCompletionsMessage `json:"messages"`
	MaxTokens   int                      `json:"max_tokens,omitempty"`
	Temperature *float64                 `json:"temperature,omitempty"`
}

type chatCompletionsMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *chatCompletionsClient) chat(ctx context.Context, apiKey string, req ChatRequest) (*models.AIResponse, error) {
	var messages []chatCompletionsMessage
	if req.System != "" {
		messages = append(messages, chatCompletionsMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatCompletionsMessage{Role: "user", Content: req.Message})

	body := chatCompletionsRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, Errorf(KindInvalidRequest, c.provider, "failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, NewError(KindProviderUnavailable, c.provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.auth.apply(httpReq, apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, NewError(KindProviderUnavailable, c.provider, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindProviderUnavailable, c.provider, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(c.provider, resp.StatusCode, chatCompletionsErrorMessage(respBody))
	}

	var parsed chatCompletionsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, NewError(KindProviderUnavailable, c.provider, fmt.Errorf("malformed response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, Errorf(KindProviderUnavailable, c.provider, "response contained no choices")
	}

	choice := parsed.Choices[0]
	model := parsed.Model
	if model == "" {
		model = req.Model
	}

	return &models.AIResponse{
		Content: choice.Message.Content,
		Usage: models.Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
		StopReason: normalizeFinishReason(choice.FinishReason),
		Model:      model,
	}, nil
}

func normalizeFinishReason(reason string) models.StopReason {
	switch reason {
	case "stop":
		return models.StopReasonStop
	case "length":
		return models.StopReasonLength
	}
	return models.StopReasonError
}

func chatCompletionsErrorMessage(body []byte) string {
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
