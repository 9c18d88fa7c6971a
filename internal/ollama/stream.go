// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"
)

// =============================================================================
// STREAM READER
// =============================================================================

// streamResponse mirrors one NDJSON line of a streaming /api/chat response.
type streamResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role     string `json:"role"`
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	TotalDuration   int64  `json:"total_duration,omitempty"`
	LoadDuration    int64  `json:"load_duration,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	EvalDuration    int64  `json:"eval_duration,omitempty"`
}

// StreamReader handles line-by-line JSON parsing of streaming responses.
type StreamReader struct {
	reader *bufio.Reader
	model  string
}

// NewStreamReader creates a stream reader over an NDJSON body.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{reader: bufio.NewReader(r)}
}

// Process reads the stream and calls the callback for each chunk. The
// cancellation check runs before every delivery, so after ctx is done the
// callback is never invoked again. Blocks until the stream finishes, the
// context is cancelled, or a read fails.
func (s *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := s.readChunk()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				// Body closed out from under us by cancellation.
				return ctx.Err()
			}
			return &ClientError{Type: ErrTypeConnection, Message: "stream read failed", Cause: err}
		}

		if chunk == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		callback(*chunk)
		if chunk.Done {
			return nil
		}
	}
}

// readChunk reads and parses a single NDJSON line. Returns (nil, nil) for
// blank or malformed lines, which are skipped.
func (s *StreamReader) readChunk() (*StreamChunk, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) == 0 {
			return nil, io.EOF
		}
		if len(line) == 0 {
			return nil, err
		}
		// Fall through and parse the final unterminated line.
	}

	if len(line) <= 1 {
		return nil, nil
	}

	var resp streamResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		// Skip malformed lines
		return nil, nil
	}

	if resp.Model != "" {
		s.model = resp.Model
	}

	chunk := &StreamChunk{
		Content:    resp.Message.Content,
		Thinking:   resp.Message.Thinking,
		Done:       resp.Done,
		DoneReason: resp.DoneReason,
		Model:      s.model,
	}

	if resp.Done {
		chunk.TotalDuration = time.Duration(resp.TotalDuration)
		chunk.LoadDuration = time.Duration(resp.LoadDuration)
		chunk.EvalDuration = time.Duration(resp.EvalDuration)
		chunk.PromptTokens = resp.PromptEvalCount
		chunk.CompletionTokens = resp.EvalCount
	}

	return chunk, nil
}

// Model returns the model name observed on the stream.
func (s *StreamReader) Model() string {
	return s.model
}
