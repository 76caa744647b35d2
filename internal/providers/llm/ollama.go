package llm

import "time"

// Ollama talks to the OpenAI-compatible endpoint of a local Ollama server.
type Ollama struct {
	*OpenAICompatible
}

func NewOllama(baseURL, apiKey, model string, timeout time.Duration) *Ollama {
	return &Ollama{
		OpenAICompatible: NewOpenAICompatible(OpenAICompatibleConfig{
			BaseURL:    baseURL,
			APIKey:     apiKey,
			Model:      model,
			Timeout:    timeout,
			AuthHeader: "Authorization",
			AuthPrefix: "Bearer ",
		}),
	}
}
