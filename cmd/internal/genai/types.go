package genai

import "loom/cmd/internal/history"

// UsageMetadata is the token accounting a response stream may carry.
// Typically present on the final fragment only.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// WebSource is one web citation attached by grounding.
type WebSource struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// GroundingChunk wraps one grounding source.
type GroundingChunk struct {
	Web *WebSource `json:"web"`
}

// GroundingMetadata carries search citations and the queries that produced them.
type GroundingMetadata struct {
	GroundingChunks  []GroundingChunk `json:"groundingChunks"`
	WebSearchQueries []string         `json:"webSearchQueries"`
}

// Fragment is one incremental piece of a streamed model response. Any of the
// fields may be zero; text, usage and grounding arrive independently.
type Fragment struct {
	Text      string
	Usage     *UsageMetadata
	Grounding *GroundingMetadata
}

// ---- wire shapes (v1beta REST) ----

type systemInstruction struct {
	Parts []history.Part `json:"parts"`
}

type tool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type generateRequest struct {
	Contents          []history.ModelTurn `json:"contents"`
	SystemInstruction *systemInstruction  `json:"systemInstruction,omitempty"`
	Tools             []tool              `json:"tools,omitempty"`
	GenerationConfig  *generationConfig   `json:"generationConfig,omitempty"`
}

type candidate struct {
	Content           *history.ModelTurn `json:"content"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata"`
}

type streamChunk struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata"`
}

type countTokensRequest struct {
	Contents []history.ModelTurn `json:"contents"`
}

type countTokensResponse struct {
	TotalTokens int `json:"totalTokens"`
}

type modelInfo struct {
	Name string `json:"name"`
}

type listModelsResponse struct {
	Models        []modelInfo `json:"models"`
	NextPageToken string      `json:"nextPageToken"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
