// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import "time"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message on the wire.
type Message struct {
	Role     string   `json:"role"`               // "user", "assistant", "system"
	Content  string   `json:"content"`            // The message content
	Thinking string   `json:"thinking,omitempty"` // Reasoning channel, models with think support
	Images   []string `json:"images,omitempty"`   // Base64-encoded image payloads
}

// ChatRequest is the request body for the /api/chat endpoint.
type ChatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	Think     bool      `json:"think,omitempty"`      // Ask the model to emit a separate reasoning channel
	KeepAlive string    `json:"keep_alive,omitempty"` // How long to keep the model loaded, e.g. "5m"
	Options   *Options  `json:"options,omitempty"`
}

// GenerateRequest is the request body for the /api/generate endpoint.
// Used for one-shot completions like title generation.
type GenerateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Stream  bool     `json:"stream"`
	System  string   `json:"system,omitempty"`
	Images  []string `json:"images,omitempty"`
	Options *Options `json:"options,omitempty"`
}

// EmbeddingRequest is the request body for the /api/embeddings endpoint.
type EmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// Options contains model parameters for inference.
type Options struct {
	Temperature   float64  `json:"temperature,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	TopP          float64  `json:"top_p,omitempty"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty"`
	NumCtx        int      `json:"num_ctx,omitempty"`     // Context window size
	NumPredict    int      `json:"num_predict,omitempty"` // Max tokens to generate, -1 for unlimited
	Stop          []string `json:"stop,omitempty"`
	Seed          int      `json:"seed,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ChatResponse is the response from a non-streaming /api/chat request.
type ChatResponse struct {
	Model              string    `json:"model"`
	CreatedAt          time.Time `json:"created_at"`
	Message            Message   `json:"message"`
	Done               bool      `json:"done"`
	DoneReason         string    `json:"done_reason,omitempty"`
	TotalDuration      int64     `json:"total_duration,omitempty"` // nanoseconds
	LoadDuration       int64     `json:"load_duration,omitempty"`
	PromptEvalCount    int       `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64     `json:"prompt_eval_duration,omitempty"`
	EvalCount          int       `json:"eval_count,omitempty"`
	EvalDuration       int64     `json:"eval_duration,omitempty"`
}

// GenerateResponse is the response from a non-streaming /api/generate request.
type GenerateResponse struct {
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
	Response   string    `json:"response"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason,omitempty"`
	EvalCount  int       `json:"eval_count,omitempty"`
}

// EmbeddingResponse is the response from the /api/embeddings endpoint.
type EmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// ModelInfo describes a locally available model.
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains family and quantization information.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ListModelsResponse is the response from the /api/tags endpoint.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// apiError is the JSON error envelope Ollama returns on failure.
type apiError struct {
	Error string `json:"error"`
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single chunk from a streaming chat response.
// Either Content or Thinking carries text; both may be empty on the final
// chunk, which sets Done and the evaluation counters.
type StreamChunk struct {
	// Content holds answer text from message.content.
	Content string

	// Thinking holds reasoning text from message.thinking. Populated only
	// by models that emit a separate reasoning channel.
	Thinking string

	// Done is set on the final chunk of the stream.
	Done       bool
	DoneReason string

	// Counters and durations, populated only when Done is set.
	TotalDuration    time.Duration
	LoadDuration     time.Duration
	EvalDuration     time.Duration
	PromptTokens     int
	CompletionTokens int

	Model string

	// Error reports a stream-level failure when delivered over a channel.
	Error error
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// TokensPerSecond calculates generation speed from the response counters.
func (r *ChatResponse) TokensPerSecond() float64 {
	if r.EvalDuration == 0 {
		return 0
	}
	return float64(r.EvalCount) / (float64(r.EvalDuration) / 1e9)
}
