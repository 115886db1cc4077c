package providers

import (
	"context"
	"time"

	"ai_gateway/internal/models"
)

const (
	togetherDefaultBaseURL = "https://api.together.xyz/v1"
	togetherTimeout        = 60 * time.Second
)

// TogetherProvider implements the Provider interface for Together AI, which
// serves an OpenAI-compatible chat completions API.
type TogetherProvider struct {
	api     chatCompletionsClient
	catalog []ModelDescriptor
}

// NewTogetherProvider creates the Together adapter.
func NewTogetherProvider() *TogetherProvider {
	return &TogetherProvider{
		api: chatCompletionsClient{
			provider: models.ProviderTypeTogether,
			baseURL:  togetherDefaultBaseURL,
			auth:     bearerAuth(),
			client:   newProviderHTTPClient(togetherTimeout),
		},
		catalog: []ModelDescriptor{
			{ID: "meta-llama/Meta-Llama-3.1-70B-Instruct-Turbo", DisplayName: "Llama 3.1 70B Instruct Turbo", ContextWindow: 131072},
			{ID: "meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo", DisplayName: "Llama 3.1 8B Instruct Turbo", ContextWindow: 131072},
			{ID: "mistralai/Mixtral-8x7B-Instruct-v0.1", DisplayName: "Mixtral 8x7B Instruct", ContextWindow: 32768},
			{ID: "Qwen/Qwen2.5-72B-Instruct-Turbo", DisplayName: "Qwen 2.5 72B Instruct Turbo", ContextWindow: 32768},
		},
	}
}

func (p *TogetherProvider) Type() models.ProviderType {
	return models.ProviderTypeTogether
}

func (p *TogetherProvider) Available() bool {
	return true
}

func (p *TogetherProvider) Models() []ModelDescriptor {
	return p.catalog
}

func (p *TogetherProvider) DefaultModel() string {
	return "meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo"
}

// Chat sends a chat completion request to Together.
func (p *TogetherProvider) Chat(ctx context.Context, creds models.Credentials, req ChatRequest) (*models.AIResponse, error) {
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
func (p *TogetherProvider) ValidateCredentials(ctx context.Context, creds models.Credentials) bool {
	_, err := p.Chat(ctx, creds, ChatRequest{
		Model:     p.DefaultModel(),
		Message:   "ping",
		MaxTokens: 1,
	})
	return err == nil
}
