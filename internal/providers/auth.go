package providers

import "net/http"

// headerAuth applies API-key authentication to outbound requests. OpenAI and
// Together use "Authorization: Bearer <key>"; Anthropic uses a bare
// "x-api-key" header.
type headerAuth struct {
	header string
	prefix string
}

func bearerAuth() headerAuth {
	return headerAuth{header: "Authorization", prefix: "Bearer "}
}

func apiKeyHeaderAuth(header string) headerAuth {
	return headerAuth{header: header}
}

func (a headerAuth) apply(req *http.Request, key string) {
	req.Header.Set(a.header, a.prefix+key)
}
