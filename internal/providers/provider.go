package providers

import (
	"context"

	"ai_gateway/internal/models"
)

// ChatRequest is a normalized internal request to a provider. The system
// prompt arrives prebuilt from the caller and is passed through opaquely.
type ChatRequest struct {
	Model       string
	System      string
	Message     string
	MaxTokens   int
	Temperature float64
}

// ModelDescriptor describes one model a provider can serve. Descriptors are
// derived from the adapter's static catalog, never persisted.
type ModelDescriptor struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	ContextWindow int    `json:"context_window,omitempty"`
}

// Provider is implemented by each concrete adapter (Anthropic, OpenAI,
// Bedrock, Together, Vertex). Adapters are stateless: credentials are passed
// per call, so one adapter instance serves every configuration of its type.
//
// Chat raises classified errors (see ErrorKind). ValidateCredentials is the
// one method that must absorb every failure into a boolean, so that setup
// flows get a uniform pass/fail across providers.
type Provider interface {
	// Type returns the provider type tag.
	Type() models.ProviderType

	// Available reports whether the adapter's runtime dependencies are
	// usable. Never returns an error.
	Available() bool

	// Models returns the static model catalog. Non-empty for every adapter
	// and independent of network access.
	Models() []ModelDescriptor

	// DefaultModel returns a model id present in Models().
	DefaultModel() string

	// ValidateCredentials issues one minimal live request and reports
	// whether it succeeded. Transport failures, auth failures and malformed
	// responses all degrade to false; it never returns an error.
	ValidateCredentials(ctx context.Context, creds models.Credentials) bool

	// Chat performs the real call and returns a normalized response or a
	// classified error.
	Chat(ctx context.Context, creds models.Credentials, req ChatRequest) (*models.AIResponse, error)
}

// hasModel reports whether the catalog contains the given model id.
func hasModel(catalog []ModelDescriptor, id string) bool {
	for _, m := range catalog {
		if m.ID == id {
			return true
		}
	}
	return false
}
