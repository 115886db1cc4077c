package providers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"ai_gateway/internal/models"
)

const (
	vertexScope       = "https://www.googleapis.com/auth/cloud-platform"
	vertexTokenURL    = "https://oauth2.googleapis.com/token"
	vertexTimeout     = 60 * time.Second
	vertexTokenMargin = 2 * time.Minute
)

// VertexProvider implements the Provider interface for Google Cloud Vertex
// AI. Authentication uses the service-account JWT-bearer grant: an RS256
// assertion signed with the key from gcp_credentials_json is exchanged for a
// short-lived access token, which is cached until shortly before expiry.
type VertexProvider struct {
	client  *http.Client
	catalog []ModelDescriptor
	// baseURL overrides the regional endpoint when non-empty.
	baseURL string

	mu     sync.Mutex
	tokens map[string]vertexToken // keyed by credential fingerprint
}

type vertexToken struct {
	accessToken string
	expiresAt   time.Time
}

// NewVertexProvider creates the Vertex AI adapter.
func NewVertexProvider() *VertexProvider {
	return &VertexProvider{
		client: newProviderHTTPClient(vertexTimeout),
		tokens: make(map[string]vertexToken),
		catalog: []ModelDescriptor{
			{ID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro", ContextWindow: 1048576},
			{ID: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", ContextWindow: 1048576},
			{ID: "gemini-2.0-flash", DisplayName: "Gemini 2.0 Flash", ContextWindow: 1048576},
		},
	}
}

func (p *VertexProvider) Type() models.ProviderType {
	return models.ProviderTypeVertex
}

func (p *VertexProvider) Available() bool {
	return true
}

func (p *VertexProvider) Models() []ModelDescriptor {
	return p.catalog
}

func (p *VertexProvider) DefaultModel() string {
	return "gemini-2.5-flash"
}

// serviceAccount is the subset of a GCP service-account key file we need.
type serviceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// accessToken returns a valid access token for the given credentials,
// exchanging a signed assertion when the cache is cold or stale.
func (p *VertexProvider) accessToken(ctx context.Context, creds models.Credentials) (string, error) {
	fp := credentialFingerprint(creds.GCPCredentialsJSON)

	p.mu.Lock()
	cached, ok := p.tokens[fp]
	p.mu.Unlock()
	if ok && time.Now().Add(vertexTokenMargin).Before(cached.expiresAt) {
		return cached.accessToken, nil
	}

	var sa serviceAccount
	if err := json.Unmarshal([]byte(creds.GCPCredentialsJSON), &sa); err != nil {
		return "", NewError(KindConfiguration, p.Type(), fmt.Errorf("invalid service account JSON: %w", err))
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return "", Errorf(KindConfiguration, p.Type(), "service account JSON missing client_email or private_key")
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return "", NewError(KindConfiguration, p.Type(), fmt.Errorf("invalid service account private key: %w", err))
	}

	tokenURI := sa.TokenURI
	if tokenURI == "" {
		tokenURI = vertexTokenURL
	}

	now := time.Now()
	assertion := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   sa.ClientEmail,
		"scope": vertexScope,
		"aud":   tokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	signed, err := assertion.SignedString(key)
	if err != nil {
		return "", NewError(KindConfiguration, p.Type(), fmt.Errorf("failed to sign assertion: %w", err))
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", signed)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", NewError(KindProviderUnavailable, p.Type(), err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", NewError(KindProviderUnavailable, p.Type(), fmt.Errorf("token exchange failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewError(KindProviderUnavailable, p.Type(), fmt.Errorf("failed to read token response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		// A rejected assertion means the service account key is bad.
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return "", Errorf(KindAuthentication, p.Type(), "token exchange rejected: status %d", resp.StatusCode)
		}
		return "", statusError(p.Type(), resp.StatusCode, "token exchange failed")
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &token); err != nil || token.AccessToken == "" {
		return "", Errorf(KindProviderUnavailable, p.Type(), "malformed token response")
	}

	p.mu.Lock()
	p.tokens[fp] = vertexToken{
		accessToken: token.AccessToken,
		expiresAt:   now.Add(time.Duration(token.ExpiresIn) * time.Second),
	}
	p.mu.Unlock()

	return token.AccessToken, nil
}

type vertexRequest struct {
	Contents          []vertexContent `json:"contents"`
	SystemInstruction *vertexContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
		Temperature     float64 `json:"temperature,omitempty"`
	} `json:"generationConfig"`
}

type vertexContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []vertexPart `json:"parts"`
}

type vertexPart struct {
	Text string `json:"text"`
}

type vertexResponse struct {
	Candidates []struct {
		Content      vertexContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// Chat calls the generateContent endpoint for the configured project and
// location.
func (p *VertexProvider) Chat(ctx context.Context, creds models.Credentials, req ChatRequest) (*models.AIResponse, error) {
	if err := creds.Validate(p.Type()); err != nil {
		return nil, NewError(KindConfiguration, p.Type(), err)
	}

	token, err := p.accessToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.DefaultModel()
	}

	body := vertexRequest{
		Contents: []vertexContent{
			{Role: "user", Parts: []vertexPart{{Text: req.Message}}},
		},
	}
	if req.System != "" {
		body.SystemInstruction = &vertexContent{Parts: []vertexPart{{Text: req.System}}}
	}
	body.GenerationConfig.MaxOutputTokens = req.MaxTokens
	body.GenerationConfig.Temperature = req.Temperature

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, Errorf(KindInvalidRequest, p.Type(), "failed to marshal request: %v", err)
	}

	base := p.baseURL
	if base == "" {
		base = fmt.Sprintf("https://%s-aiplatform.googleapis.com", creds.GCPLocation)
	}
	endpoint := fmt.Sprintf(
		"%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		base, creds.GCPProject, creds.GCPLocation, model,
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, NewError(KindProviderUnavailable, p.Type(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

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
		return nil, statusError(p.Type(), resp.StatusCode, vertexErrorMessage(respBody))
	}

	var parsed vertexResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, NewError(KindProviderUnavailable, p.Type(), fmt.Errorf("malformed response: %w", err))
	}
	if len(parsed.Candidates) == 0 {
		return nil, Errorf(KindProviderUnavailable, p.Type(), "response contained no candidates")
	}

	candidate := parsed.Candidates[0]
	var content string
	for _, part := range candidate.Content.Parts {
		content += part.Text
	}

	echoed := parsed.ModelVersion
	if echoed == "" {
		echoed = model
	}

	return &models.AIResponse{
		Content: content,
		Usage: models.Usage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		},
		StopReason: normalizeVertexFinish(candidate.FinishReason),
		Model:      echoed,
	}, nil
}

// ValidateCredentials issues a 1-token completion. Every failure collapses
// to false.
func (p *VertexProvider) ValidateCredentials(ctx context.Context, creds models.Credentials) bool {
	_, err := p.Chat(ctx, creds, ChatRequest{
		Model:     p.DefaultModel(),
		Message:   "ping",
		MaxTokens: 1,
	})
	return err == nil
}

func normalizeVertexFinish(reason string) models.StopReason {
	switch reason {
	case "STOP":
		return models.StopReasonStop
	case "MAX_TOKENS":
		return models.StopReasonLength
	}
	return models.StopReasonError
}

func vertexErrorMessage(body []byte) string {
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

func credentialFingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
