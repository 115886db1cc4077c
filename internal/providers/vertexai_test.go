package providers

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai_gateway/internal/models"
)

// testServiceAccountJSON builds a service-account key file with a freshly
// generated RSA key and the given token endpoint.
func testServiceAccountJSON(t *testing.T, tokenURI string) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	sa := map[string]string{
		"client_email": "svc@test-project.iam.gserviceaccount.com",
		"private_key":  string(keyPEM),
		"token_uri":    tokenURI,
	}
	out, err := json.Marshal(sa)
	require.NoError(t, err)
	return string(out)
}

func TestVertexProvider_Chat(t *testing.T) {
	var tokenCalls atomic.Int32

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.Form.Get("grant_type"))
		assert.NotEmpty(t, r.Form.Get("assertion"))

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "ya29.test",
			"expires_in":   3600,
		})
	}))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ya29.test", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.Path, "/projects/test-project/locations/us-central1/")

		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"role": "model", "parts": []map[string]string{{"text": "gemini says hi"}}},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]int{"promptTokenCount": 6, "candidatesTokenCount": 4},
			"modelVersion":  "gemini-2.5-flash",
		})
	}))
	defer apiSrv.Close()

	creds := models.Credentials{
		GCPProject:         "test-project",
		GCPLocation:        "us-central1",
		GCPCredentialsJSON: testServiceAccountJSON(t, tokenSrv.URL),
	}

	p := NewVertexProvider()
	p.baseURL = apiSrv.URL

	resp, err := p.Chat(context.Background(), creds, ChatRequest{Message: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "gemini says hi", resp.Content)
	assert.Equal(t, 6, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
	assert.Equal(t, models.StopReasonStop, resp.StopReason)
	assert.Equal(t, "gemini-2.5-flash", resp.Model)

	// Second call reuses the cached token.
	_, err = p.Chat(context.Background(), creds, ChatRequest{Message: "again"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestVertexProvider_RejectedAssertion(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
	}))
	defer tokenSrv.Close()

	creds := models.Credentials{
		GCPProject:         "test-project",
		GCPLocation:        "us-central1",
		GCPCredentialsJSON: testServiceAccountJSON(t, tokenSrv.URL),
	}

	p := NewVertexProvider()

	_, err := p.Chat(context.Background(), creds, ChatRequest{Message: "hi"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAuthentication))
}

func TestVertexProvider_ValidateCredentialsNeverErrors(t *testing.T) {
	p := NewVertexProvider()

	// Garbage service account JSON.
	assert.False(t, p.ValidateCredentials(context.Background(), models.Credentials{
		GCPProject:         "p",
		GCPLocation:        "us-central1",
		GCPCredentialsJSON: "not json",
	}))

	// Missing fields entirely.
	assert.False(t, p.ValidateCredentials(context.Background(), models.Credentials{}))
}
