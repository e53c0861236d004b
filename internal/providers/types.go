// Package providers holds the error taxonomy, retry helpers, and a minimal
// chat client for calls to upstream LLM providers. The scheduler depends
// only on the taxonomy: it classifies failures, extracts Retry-After hints,
// and reads token usage.
package providers

// Usage tracks token consumption reported by a provider.
type Usage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_input_tokens,omitempty"`
}
