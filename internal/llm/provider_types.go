package llm

// Request shape we send to upstream (OpenAI-style).
type providerChatRequest struct {
	Model          string                  `json:"model"`
	Messages       []Message               `json:"messages"`
	Temperature    float32                 `json:"temperature"`
	MaxTokens      int                     `json:"max_tokens,omitempty"`
	Stream         bool                    `json:"stream,omitempty"`
	ResponseFormat *providerResponseFormat `json:"response_format,omitempty"`
}

type providerResponseFormat struct {
	Type string `json:"type"`
}

type providerChatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type providerUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type providerChatResponse struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []providerChatChoice `json:"choices"`
	Usage   *providerUsage       `json:"usage,omitempty"`
}

type providerErrorResponse struct {
	Error struct {
		Message string      `json:"message"`
		Type    string      `json:"type"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

// Chunk shape for streaming responses (each SSE "data:" event).
type providerStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}
