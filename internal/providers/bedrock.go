package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"ai_gateway/internal/models"
)

const (
	bedrockAnthropicVersion = "bedrock-2023-05-31"
	bedrockTimeout          = 90 * time.Second
)

// BedrockProvider implements the Provider interface for AWS Bedrock using
// the BedrockRuntime InvokeModel API. The catalog is limited to Anthropic
// models on Bedrock, which all speak the Messages body format.
type BedrockProvider struct {
	catalog []ModelDescriptor
}

// NewBedrockProvider creates the Bedrock adapter.
func NewBedrockProvider() *BedrockProvider {
	return &BedrockProvider{
		catalog: []ModelDescriptor{
			{ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", DisplayName: "Claude 3.5 Sonnet v2 (Bedrock)", ContextWindow: 200000},
			{ID: "anthropic.claude-3-5-haiku-20241022-v1:0", DisplayName: "Claude 3.5 Haiku (Bedrock)", ContextWindow: 200000},
			{ID: "anthropic.claude-3-haiku-20240307-v1:0", DisplayName: "Claude 3 Haiku (Bedrock)", ContextWindow: 200000},
		},
	}
}

func (p *BedrockProvider) Type() models.ProviderType {
	return models.ProviderTypeBedrock
}

func (p *BedrockProvider) Available() bool {
	return true
}

func (p *BedrockProvider) Models() []ModelDescriptor {
	return p.catalog
}

func (p *BedrockProvider) DefaultModel() string {
	return "anthropic.claude-3-5-haiku-20241022-v1:0"
}

// newClient builds a BedrockRuntime client from static credentials. A wrong
// or incomplete credential arm fails here with a configuration error before
// any network traffic.
func (p *BedrockProvider) newClient(ctx context.Context, creds models.Credentials) (*bedrockruntime.Client, error) {
	if err := creds.Validate(p.Type()); err != nil {
		return nil, NewError(KindConfiguration, p.Type(), err)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(creds.AWSRegion),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AWSAccessKey, creds.AWSSecretKey, ""),
		),
	)
	if err != nil {
		return nil, NewError(KindConfiguration, p.Type(), fmt.Errorf("failed to load AWS config: %w", err))
	}

	return bedrockruntime.NewFromConfig(cfg), nil
}

// bedrockAnthropicRequest is the Anthropic Messages body as Bedrock expects
// it inside InvokeModel.
type bedrockAnthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
	Temperature      *float64           `json:"temperature,omitempty"`
}

// Chat invokes the model. Bedrock returns usage embedded in the JSON
// response body rather than as structured output fields.
func (p *BedrockProvider) Chat(ctx context.Context, creds models.Credentials, req ChatRequest) (*models.AIResponse, error) {
	client, err := p.newClient(ctx, creds)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.DefaultModel()
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	body := bedrockAnthropicRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        maxTokens,
		System:           req.System,
		Messages:         []anthropicMessage{{Role: "user", Content: req.Message}},
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, Errorf(KindInvalidRequest, p.Type(), "failed to marshal request: %v", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, bedrockTimeout)
	defer cancel()

	out, err := client.InvokeModel(callCtx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, p.classifyError(err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return nil, NewError(KindProviderUnavailable, p.Type(), fmt.Errorf("malformed response body: %w", err))
	}

	var content string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	echoed := parsed.Model
	if echoed == "" {
		echoed = model
	}

	return &models.AIResponse{
		Content: content,
		Usage: models.Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
		StopReason: normalizeAnthropicStop(parsed.StopReason),
		Model:      echoed,
	}, nil
}

// ValidateCredentials issues a 1-token completion. Every failure, including
// a structurally broken credential set, collapses to false.
func (p *BedrockProvider) ValidateCredentials(ctx context.Context, creds models.Credentials) bool {
	_, err := p.Chat(ctx, creds, ChatRequest{
		Model:     p.DefaultModel(),
		Message:   "ping",
		MaxTokens: 1,
	})
	return err == nil
}

// classifyError maps AWS SDK errors to taxonomy kinds.
func (p *BedrockProvider) classifyError(err error) *Error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		kind := KindProviderUnavailable
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			kind = KindRateLimit
		case "AccessDeniedException", "UnrecognizedClientException",
			"InvalidSignatureException", "ExpiredTokenException":
			kind = KindAuthentication
		case "ValidationException":
			kind = KindInvalidRequest
		case "ResourceNotFoundException":
			kind = KindInvalidRequest
		}
		return &Error{Kind: kind, Provider: p.Type(), Msg: apiErr.ErrorCode() + ": " + apiErr.ErrorMessage(), Err: err}
	}
	return NewError(KindProviderUnavailable, p.Type(), err)
}
