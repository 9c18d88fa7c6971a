// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/loomchat/internal/assemble"
	"github.com/jeranaias/loomchat/internal/model"
	"github.com/jeranaias/loomchat/internal/ollama"
	"github.com/jeranaias/loomchat/internal/persist"
)

// =============================================================================
// FAKE TRANSPORT
// =============================================================================

type fakeTransport struct {
	mu sync.Mutex

	chunks           []ollama.StreamChunk
	streamErr        error
	blockUntilCancel bool

	captured      []ollama.Message
	generateResp  string
	generateCalls []ollama.GenerateRequest
}

func (f *fakeTransport) ChatStream(ctx context.Context, model string, messages []ollama.Message, think bool, callback ollama.StreamCallback) error {
	f.mu.Lock()
	f.captured = messages
	f.mu.Unlock()

	for _, chunk := range f.chunks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		callback(chunk)
	}
	if f.blockUntilCancel {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.streamErr
}

func (f *fakeTransport) Generate(ctx context.Context, req ollama.GenerateRequest) (*ollama.GenerateResponse, error) {
	f.mu.Lock()
	f.generateCalls = append(f.generateCalls, req)
	f.mu.Unlock()
	return &ollama.GenerateResponse{Response: f.generateResp, Done: true}, nil
}

func (f *fakeTransport) capturedMessages() []ollama.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captured
}

func (f *fakeTransport) titleCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.generateCalls)
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	controller *Controller
	transport  *fakeTransport
	store      *persist.MemStore
	chatID     string
}

func newHarness(t *testing.T, transport *fakeTransport, pipes SidePipelines) *harness {
	t.Helper()

	store := persist.NewMemStore()
	coord := persist.NewCoordinator(persist.Windows{
		Message:     20 * time.Millisecond,
		MessageList: 20 * time.Millisecond,
		ChatMeta:    20 * time.Millisecond,
	}, nil)
	t.Cleanup(coord.Close)

	chat := model.NewChat()
	require.NoError(t, store.SaveChatMeta(context.Background(), chat.Meta()))

	controller := NewController(Config{
		Transport:   transport,
		Store:       store,
		Coordinator: coord,
		Pipelines:   pipes,
	})
	controller.SetSettings(Settings{Model: "qwen3:8b", MaxMessages: 10})

	return &harness{
		controller: controller,
		transport:  transport,
		store:      store,
		chatID:     chat.ID,
	}
}

func chunks(texts ...string) []ollama.StreamChunk {
	out := make([]ollama.StreamChunk, 0, len(texts)+1)
	for _, text := range texts {
		out = append(out, ollama.StreamChunk{Content: text})
	}
	out = append(out, ollama.StreamChunk{Done: true})
	return out
}

// =============================================================================
// TESTS
// =============================================================================

func TestStartCompletesTurn(t *testing.T) {
	transport := &fakeTransport{
		chunks:       chunks("Hello", " there"),
		generateResp: "Friendly Greeting",
	}
	h := newHarness(t, transport, SidePipelines{})

	msgID, err := h.controller.Start(context.Background(), h.chatID, "hi", nil)
	require.NoError(t, err)
	require.NotEmpty(t, msgID)

	chat, err := h.store.LoadChat(context.Background(), h.chatID)
	require.NoError(t, err)
	require.Len(t, chat.Messages, 2)

	assert.Equal(t, model.RoleUser, chat.Messages[0].Role)
	assert.Equal(t, "hi", chat.Messages[0].Content)

	final := chat.Messages[1]
	assert.Equal(t, msgID, final.ID)
	assert.Equal(t, "Hello there", final.Content)
	assert.False(t, final.IsLoading)
	assert.True(t, final.Stats.Defined())

	// The placeholder title was replaced by the follow-up.
	metas, err := h.store.ListChats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Friendly Greeting", metas[0].Title)
	assert.Equal(t, 1, transport.titleCalls())
}

func TestStartPreconditions(t *testing.T) {
	h := newHarness(t, &fakeTransport{chunks: chunks("x")}, SidePipelines{})

	_, err := h.controller.Start(context.Background(), h.chatID, "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = h.controller.Start(context.Background(), "no-such-chat", "hi", nil)
	assert.ErrorIs(t, err, assemble.ErrInvalidChat)

	h.controller.SetSettings(Settings{})
	_, err = h.controller.Start(context.Background(), h.chatID, "hi", nil)
	assert.ErrorIs(t, err, assemble.ErrNoModelSelected)

	// Failed preconditions leave no trace.
	chat, loadErr := h.store.LoadChat(context.Background(), h.chatID)
	require.NoError(t, loadErr)
	assert.Empty(t, chat.Messages)
}

// A transport error after partial output keeps the partial message.
func TestStartTransportErrorKeepsPartial(t *testing.T) {
	failure := &ollama.ClientError{Type: ollama.ErrTypeConnection, Message: "connection reset"}
	transport := &fakeTransport{
		chunks:    []ollama.StreamChunk{{Content: "partial"}},
		streamErr: failure,
	}
	h := newHarness(t, transport, SidePipelines{})

	msgID, err := h.controller.Start(context.Background(), h.chatID, "hi", nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection reset")
	require.NotEmpty(t, msgID)

	chat, loadErr := h.store.LoadChat(context.Background(), h.chatID)
	require.NoError(t, loadErr)
	require.Len(t, chat.Messages, 2)
	assert.Equal(t, "partial", chat.Messages[1].Content)
	assert.False(t, chat.Messages[1].IsLoading)

	// No title follow-up on an errored turn.
	assert.Zero(t, transport.titleCalls())
}

func TestCancelIsNotAnError(t *testing.T) {
	transport := &fakeTransport{
		chunks:           []ollama.StreamChunk{{Content: "some "}, {Content: "text"}},
		blockUntilCancel: true,
	}
	h := newHarness(t, transport, SidePipelines{})

	done := make(chan struct{})
	var msgID string
	var startErr error
	go func() {
		defer close(done)
		msgID, startErr = h.controller.Start(context.Background(), h.chatID, "hi", nil)
	}()

	require.Eventually(t, h.controller.IsSending, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	h.controller.Cancel(h.chatID)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Cancel")
	}

	assert.NoError(t, startErr)
	require.NotEmpty(t, msgID)
	assert.False(t, h.controller.IsSending())

	chat, err := h.store.LoadChat(context.Background(), h.chatID)
	require.NoError(t, err)
	require.Len(t, chat.Messages, 2)
	assert.Equal(t, "some text", chat.Messages[1].Content)
	assert.False(t, chat.Messages[1].IsLoading)
}

func TestSidePipelineFailureDoesNotAbort(t *testing.T) {
	transport := &fakeTransport{chunks: chunks("answer"), generateResp: "T"}
	pipes := SidePipelines{
		Search: func(ctx context.Context, userText string) (string, error) {
			return "", errors.New("search engine down")
		},
		Retrieve: func(ctx context.Context, query string, documentIDs []string) (string, error) {
			return "doc snippet", nil
		},
	}
	h := newHarness(t, transport, pipes)
	h.controller.SetSettings(Settings{
		Model:         "qwen3:8b",
		MaxMessages:   10,
		SearchEnabled: true,
		RetrievalDocs: []string{"d1"},
	})

	_, err := h.controller.Start(context.Background(), h.chatID, "question", nil)
	require.NoError(t, err)

	// The failed block is omitted, the working one is included.
	captured := transport.capturedMessages()
	require.NotEmpty(t, captured)
	userEntry := captured[len(captured)-1].Content
	assert.Contains(t, userEntry, "[Retrieved context]\ndoc snippet")
	assert.NotContains(t, userEntry, "[Search results]")
}

func TestSingleFlightRevokesPriorTurn(t *testing.T) {
	transport := &fakeTransport{
		chunks:           []ollama.StreamChunk{{Content: "first"}},
		blockUntilCancel: true,
		generateResp:     "T",
	}
	h := newHarness(t, transport, SidePipelines{})

	firstDone := make(chan error, 1)
	go func() {
		_, err := h.controller.Start(context.Background(), h.chatID, "one", nil)
		firstDone <- err
	}()
	require.Eventually(t, h.controller.IsSending, time.Second, 5*time.Millisecond)

	// The second start must revoke the first turn's token.
	second := &fakeTransport{chunks: chunks("second"), generateResp: "T"}
	h.controller.transport = second

	_, err := h.controller.Start(context.Background(), h.chatID, "two", nil)
	require.NoError(t, err)

	select {
	case err := <-firstDone:
		assert.NoError(t, err, "revocation is a cancellation, not an error")
	case <-time.After(2 * time.Second):
		t.Fatal("first turn was not revoked")
	}
}

func TestImageAttachmentUsesGeneratePath(t *testing.T) {
	transport := &fakeTransport{generateResp: "a cat on a keyboard"}
	h := newHarness(t, transport, SidePipelines{})

	att := &model.Attachment{Name: "cat.png", Kind: model.AttachmentImage, Data: "YmFzZTY0"}
	msgID, err := h.controller.Start(context.Background(), h.chatID, "what is this?", att)
	require.NoError(t, err)
	require.NotEmpty(t, msgID)

	require.NotEmpty(t, transport.generateCalls)
	imageCall := transport.generateCalls[0]
	assert.Equal(t, []string{"YmFzZTY0"}, imageCall.Images)
	assert.Contains(t, imageCall.Prompt, "what is this?")

	chat, err := h.store.LoadChat(context.Background(), h.chatID)
	require.NoError(t, err)
	assert.Equal(t, "a cat on a keyboard", chat.Messages[1].Content)
}

func TestReasoningStreamPersistsUniformText(t *testing.T) {
	transport := &fakeTransport{
		chunks: []ollama.StreamChunk{
			{Thinking: "pondering"},
			{Content: "the answer"},
			{Done: true},
		},
		generateResp: "T",
	}
	h := newHarness(t, transport, SidePipelines{})

	_, err := h.controller.Start(context.Background(), h.chatID, "hmm", nil)
	require.NoError(t, err)

	chat, loadErr := h.store.LoadChat(context.Background(), h.chatID)
	require.NoError(t, loadErr)
	final := chat.Messages[1]
	assert.Equal(t, "<think>pondering</think>the answer", final.Content)
	assert.False(t, final.IsThinking)
	assert.GreaterOrEqual(t, final.ReasoningMs, int64(0))
}
