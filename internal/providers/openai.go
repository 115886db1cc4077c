package providers

import (
	"context"
	"time"

	"ai_gateway/internal/models"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAITimeout        = 60 * time.Second
)

// OpenAIProvider implements the Provider interface for OpenAI.
type OpenAIProvider struct {
	api     chatCompletionsClient
	catalog []ModelDescriptor
}

// NewOpenAIProvider creates the OpenAI adapter.
func NewOpenAIProvider() *OpenAIProvider {
	return &OpenAIProvider{
		api: chatCompletionsClient{
			provider: models.ProviderTypeOpenAI,
			baseURL:  openAIDefaultBaseURL,
			auth:     bearerAuth(),
			client:   newProviderHTTPClient(openAITimeout),
		},
		catalog: []ModelDescriptor{
			{ID: "gpt-4o", DisplayName: "GPT-4o", ContextWindow: 128000},
			{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini", ContextWindow: 128000},
			{ID: "gpt-4.1", DisplayName: "GPT-4.1", ContextWindow: 1047576},
			{ID: "gpt-4.1-mini", DisplayName: "GPT-4.1 mini", ContextWindow: 1047576},
		},
	}
}

func (p *OpenAIProvider) Type() models.ProviderType {
	return models.ProviderTypeOpenAI
}

func (p *OpenAIProvider) Available() bool {
	return true
}

func (p *OpenAIProvider) Models() []ModelDescriptor {
	return p.catalog
}

func (p *OpenAIProvider) DefaultModel() string {
	return "gpt-4o-mini"
}

// Chat sends a chat completion request to OpenAI.
func (p *OpenAIProvider) Chat(ctx context.Context, creds models.Credentials, req ChatRequest) (*models.AIResponse, error) {
	if err := creds.Validate(p.Type()); err != nil {
		return nil, NewError(KindConfiguration, p.Type(), err)
	}
	if req.Model == "" {
		req.Model = p.DefaultModel()
	}
	return p.api.chat(ctx, creds.APIKey, req)
}

// ValidateCredentials issues a 1-token completion. Every failure collapses
// to false.
func (p *OpenAIProvider) ValidateCredentials(ctx context.Context, creds models.Credentials) bool {
	_, err := p.Chat(ctx, creds, ChatRequest{
		Model:     p.DefaultModel(),
		Message:   "ping",
		MaxTokens: 1,
	})
	return err == nil
}
