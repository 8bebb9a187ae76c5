package llm

// geminiCompatBaseURL is Google's OpenAI-compatible endpoint; Gemini reuses
// the OpenAI wire format and retry handling unchanged.
const geminiCompatBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// NewGeminiProvider creates a Gemini provider. An empty baseURL selects the
// public compat endpoint.
func NewGeminiProvider(apiKey, model, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = geminiCompatBaseURL
	}
	return NewOpenAIProvider(apiKey, model, baseURL)
}
