package models

import "fmt"

// ProviderType enumerates supported provider types.
type ProviderType string

const (
	ProviderTypeAnthropic ProviderType = "anthropic"
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeBedrock   ProviderType = "bedrock"
	ProviderTypeTogether  ProviderType = "together"
	ProviderTypeVertex    ProviderType = "vertex"
)

// AllProviderTypes returns the closed set of supported provider types.
func AllProviderTypes() []ProviderType {
	return []ProviderType{
		ProviderTypeAnthropic,
		ProviderTypeOpenAI,
		ProviderTypeBedrock,
		ProviderTypeTogether,
		ProviderTypeVertex,
	}
}

// Valid reports whether t is one of the supported provider types.
func (t ProviderType) Valid() bool {
	switch t {
	case ProviderTypeAnthropic, ProviderTypeOpenAI, ProviderTypeBedrock,
		ProviderTypeTogether, ProviderTypeVertex:
		return true
	}
	return false
}

// Credentials holds the credential fields for a provider configuration.
// Which fields are required depends on the provider type; Validate enforces
// the correct arm. Credential values must never be logged.
type Credentials struct {
	// Anthropic, OpenAI, Together
	APIKey string `json:"api_key,omitempty"`

	// AWS Bedrock
	AWSAccessKey string `json:"aws_access_key,omitempty"`
	AWSSecretKey string `json:"aws_secret_key,omitempty"`
	AWSRegion    string `json:"aws_region,omitempty"`

	// GCP Vertex
	GCPProject         string `json:"gcp_project,omitempty"`
	GCPLocation        string `json:"gcp_location,omitempty"`
	GCPCredentialsJSON string `json:"gcp_credentials_json,omitempty"`
}

// Validate checks that the credential fields required by the given provider
// type are present. It reports structural problems only; it does not talk to
// the provider.
func (c Credentials) Validate(t ProviderType) error {
	switch t {
	case ProviderTypeAnthropic, ProviderTypeOpenAI, ProviderTypeTogether:
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for %s", t)
		}
	case ProviderTypeBedrock:
		if c.AWSAccessKey == "" {
			return fmt.Errorf("aws_access_key is required for %s", t)
		}
		if c.AWSSecretKey == "" {
			return fmt.Errorf("aws_secret_key is required for %s", t)
		}
		if c.AWSRegion == "" {
			return fmt.Errorf("aws_region is required for %s", t)
		}
	case ProviderTypeVertex:
		if c.GCPProject == "" {
			return fmt.Errorf("gcp_project is required for %s", t)
		}
		if c.GCPLocation == "" {
			return fmt.Errorf("gcp_location is required for %s", t)
		}
		if c.GCPCredentialsJSON == "" {
			return fmt.Errorf("gcp_credentials_json is required for %s", t)
		}
	default:
		return fmt.Errorf("unsupported provider type: %s", t)
	}
	return nil
}

// String redacts credential values so they cannot leak through %v formatting.
func (c Credentials) String() string {
	return "credentials(redacted)"
}
