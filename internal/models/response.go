package models

// StopReason is the normalized reason a provider stopped generating.
type StopReason string

const (
	StopReasonStop   StopReason = "stop"
	StopReasonLength StopReason = "length"
	StopReasonError  StopReason = "error"
)

// Usage holds normalized token counts for a single call. Providers that omit
// usage information report zeros.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AIResponse is the normalized response produced by a provider adapter.
// Produced exactly once per successful call and not mutated afterwards.
type AIResponse struct {
	Content    string     `json:"content"`
	Usage      Usage      `json:"usage"`
	StopReason StopReason `json:"stop_reason"`
	// Model echoes the model the provider actually used.
	Model string `json:"model"`
}
