// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/loomchat/internal/assemble"
	"github.com/jeranaias/loomchat/internal/model"
	"github.com/jeranaias/loomchat/internal/ollama"
	"github.com/jeranaias/loomchat/internal/persist"
	"github.com/jeranaias/loomchat/internal/pipeline"
	"github.com/jeranaias/loomchat/internal/stream"
	"github.com/jeranaias/loomchat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyInput means neither text nor an attachment was provided.
	ErrEmptyInput = errors.New("nothing to send")

	// ErrFinalFlush wraps a failed mandatory persistence flush.
	ErrFinalFlush = errors.New("final persistence flush failed")
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Transport is the inference backend. *ollama.Client satisfies it.
type Transport interface {
	ChatStream(ctx context.Context, model string, messages []ollama.Message, think bool, callback ollama.StreamCallback) error
	Generate(ctx context.Context, req ollama.GenerateRequest) (*ollama.GenerateResponse, error)
}

// SidePipelines holds the optional context enrichment steps. Nil fields
// are skipped. Every call must be fail-soft; a returned error degrades to
// an omitted block.
type SidePipelines struct {
	FetchLinks    func(ctx context.Context, urls []string) (string, error)
	Search        func(ctx context.Context, userText string) (string, error)
	Retrieve      func(ctx context.Context, query string, documentIDs []string) (string, error)
	MemorySummary func(ctx context.Context, chat *model.Chat) (string, bool)
}

// Settings is the per-turn configuration the front end controls.
type Settings struct {
	Model       string
	MaxMessages int

	// Think asks the model for a dedicated reasoning channel.
	Think bool

	SearchEnabled bool
	MemoryEnabled bool

	// RetrievalDocs selects documents for similarity search; empty
	// disables retrieval.
	RetrievalDocs []string

	// TitleModel generates chat titles; empty falls back to Model.
	TitleModel string
}

// Config wires a Controller.
type Config struct {
	Transport   Transport
	Store       persist.Store
	Coordinator *persist.Coordinator
	Pipelines   SidePipelines
	Log         *slog.Logger

	// OnUpdate observes live message snapshots during streaming.
	OnUpdate stream.UpdateFunc

	// SideBudget bounds the total side-pipeline contribution to turn
	// latency. Zero means the default.
	SideBudget time.Duration
}

const defaultSideBudget = 20 * time.Second

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller runs turns. Safe for concurrent use; turns on distinct chats
// may overlap, turns on the same chat are single-flight.
type Controller struct {
	transport  Transport
	store      persist.Store
	coord      *persist.Coordinator
	pipes      SidePipelines
	log        *slog.Logger
	onUpdate   stream.UpdateFunc
	sideBudget time.Duration

	mu       sync.Mutex
	settings Settings
	active   map[string]*turnToken

	sending atomic.Int32
}

// turnToken is the cancellation token one active turn holds for its chat.
// Starting a new turn revokes the previous holder's token.
type turnToken struct {
	cancel context.CancelFunc
}

// NewController creates a controller.
func NewController(cfg Config) *Controller {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	budget := cfg.SideBudget
	if budget <= 0 {
		budget = defaultSideBudget
	}
	return &Controller{
		transport:  cfg.Transport,
		store:      cfg.Store,
		coord:      cfg.Coordinator,
		pipes:      cfg.Pipelines,
		log:        log,
		onUpdate:   cfg.OnUpdate,
		sideBudget: budget,
		active:     make(map[string]*turnToken),
	}
}

// SetSettings replaces the turn settings used by subsequent starts.
func (c *Controller) SetSettings(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = s
}

// Settings returns the current turn settings.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// IsSending reports whether any turn is in flight.
func (c *Controller) IsSending() bool {
	return c.sending.Load() > 0
}

// Cancel aborts the active turn for the chat, if any. Cancellation is
// cooperative and is not an error: the in-progress message is finalized
// with whatever content accumulated.
func (c *Controller) Cancel(chatID string) {
	c.mu.Lock()
	tok := c.active[chatID]
	c.mu.Unlock()
	if tok != nil {
		tok.cancel()
	}
}

// =============================================================================
// TURN EXECUTION
// =============================================================================

// Start runs one turn: persists the user message, enriches context through
// the side pipelines, assembles the prompt, streams the response through
// the interpreter, and flushes persistence on every exit path.
//
// Returns the finished assistant message ID. A user cancellation returns a
// nil error; the ID may be empty if the stream was cancelled before the
// first fragment. A transport error is returned alongside the ID of the
// partially produced message, which is persisted rather than discarded.
func (c *Controller) Start(ctx context.Context, chatID, userText string, att *model.Attachment) (string, error) {
	settings := c.Settings()

	// Preconditions fail fast, before any state mutation.
	if settings.Model == "" {
		return "", assemble.ErrNoModelSelected
	}
	userText = strings.TrimSpace(userText)
	if userText == "" && att == nil {
		return "", ErrEmptyInput
	}

	chat, err := c.store.LoadChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, persist.ErrChatNotFound) {
			return "", assemble.ErrInvalidChat
		}
		return "", err
	}

	// Single-flight: revoke the previous turn's token before anything else.
	turnCtx, cancel := context.WithCancel(ctx)
	tok := &turnToken{cancel: cancel}
	c.mu.Lock()
	if prev := c.active[chatID]; prev != nil {
		prev.cancel()
	}
	c.active[chatID] = tok
	c.mu.Unlock()
	c.sending.Add(1)

	defer func() {
		c.mu.Lock()
		if c.active[chatID] == tok {
			delete(c.active, chatID)
		}
		c.mu.Unlock()
		cancel()
		c.sending.Add(-1)
	}()

	// User message is persisted optimistically before the request.
	userMsg := model.NewUserMessage(userText, att)
	chat.Append(userMsg)
	if err := c.store.SaveMessage(ctx, chatID, userMsg); err != nil {
		c.log.Warn("user message save failed", "chat", chatID, "error", err)
	}
	if err := c.store.SaveChatMeta(ctx, chat.Meta()); err != nil {
		c.log.Warn("chat meta save failed", "chat", chatID, "error", err)
	}

	aux, memory := c.runSidePipelines(turnCtx, chat, userText, settings)

	prompt, err := assemble.Assemble(chat, assemble.Settings{
		Model:       settings.Model,
		MaxMessages: settings.MaxMessages,
		Memory:      memory,
	}, userMsg.ID, aux)
	if err != nil {
		return "", err
	}

	// The durable display copy carries the context blocks.
	if prompt.DisplayContent != userMsg.Content {
		userMsg.DisplayContent = prompt.DisplayContent
		if err := c.store.SaveMessage(ctx, chatID, userMsg); err != nil {
			c.log.Warn("user message update failed", "chat", chatID, "error", err)
		}
	}

	interp := stream.New(stream.Config{
		RequestStart: time.Now(),
		OnUpdate: func(snapshot *model.Message) {
			if c.onUpdate != nil {
				c.onUpdate(snapshot)
			}
			c.coord.Submit(persist.KindMessage, func(taskCtx context.Context) error {
				return c.store.SaveMessage(taskCtx, chatID, snapshot)
			})
		},
	})

	streamErr := c.runTransport(turnCtx, settings, prompt, interp)

	finalMsg := interp.Finalize()
	cancelled := turnCtx.Err() != nil && errors.Is(turnCtx.Err(), context.Canceled)

	if finalMsg != nil {
		chat.Append(finalMsg)
	}

	// Mandatory synchronous flush: the terminal state must not be lost to
	// throttling, whatever the exit path was.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if finalMsg != nil {
		c.coord.Submit(persist.KindMessage, func(taskCtx context.Context) error {
			return c.store.SaveMessage(taskCtx, chatID, finalMsg)
		})
	}
	c.coord.Submit(persist.KindChatMeta, func(taskCtx context.Context) error {
		return c.store.SaveChatMeta(taskCtx, chat.Meta())
	})
	if err := c.coord.Flush(flushCtx); err != nil {
		return messageID(finalMsg), errors.Join(ErrFinalFlush, err)
	}

	switch {
	case cancelled:
		return messageID(finalMsg), nil
	case streamErr != nil:
		return messageID(finalMsg), streamErr
	}

	c.maybeGenerateTitle(chat, userText, finalMsg, settings)
	return messageID(finalMsg), nil
}

func messageID(msg *model.Message) string {
	if msg == nil {
		return ""
	}
	return msg.ID
}

// =============================================================================
// TRANSPORT
// =============================================================================

// runTransport issues the request and feeds fragments to the interpreter.
// The image path uses a one-shot generate call; everything else streams.
func (c *Controller) runTransport(ctx context.Context, settings Settings, prompt *assemble.Prompt, interp *stream.Interpreter) error {
	if len(prompt.Images) > 0 {
		resp, err := c.transport.Generate(ctx, ollama.GenerateRequest{
			Model:  settings.Model,
			Prompt: prompt.Flattened,
			Images: prompt.Images,
		})
		if err != nil {
			return err
		}
		interp.Feed(resp.Response, "")
		return nil
	}

	err := c.transport.ChatStream(ctx, settings.Model, prompt.Entries, settings.Think, func(chunk ollama.StreamChunk) {
		interp.Feed(chunk.Content, chunk.Thinking)
	})
	if errors.Is(err, context.Canceled) {
		// Cancellation is a normal terminal path, not an error.
		return nil
	}
	return err
}

// =============================================================================
// SIDE PIPELINES
// =============================================================================

// runSidePipelines gathers the auxiliary blocks. Every step is fail-soft:
// failures are logged and the block is omitted. A shared budget bounds
// their total latency contribution; cancellation of the turn cuts them
// short through the same context.
func (c *Controller) runSidePipelines(ctx context.Context, chat *model.Chat, userText string, settings Settings) (assemble.Aux, string) {
	var aux assemble.Aux
	var memory string

	sideCtx, cancel := context.WithTimeout(ctx, c.sideBudget)
	defer cancel()

	if c.pipes.FetchLinks != nil {
		if urls := pipeline.DetectURLs(userText); len(urls) > 0 {
			block, err := c.pipes.FetchLinks(sideCtx, urls)
			if err != nil {
				c.log.Warn("link fetch failed", "error", err)
			} else {
				aux.Links = block
			}
		}
	}

	if settings.SearchEnabled && c.pipes.Search != nil {
		block, err := c.pipes.Search(sideCtx, userText)
		if err != nil {
			c.log.Warn("search failed", "error", err)
		} else {
			aux.Search = block
		}
	}

	if len(settings.RetrievalDocs) > 0 && c.pipes.Retrieve != nil {
		block, err := c.pipes.Retrieve(sideCtx, userText, settings.RetrievalDocs)
		if err != nil {
			c.log.Warn("retrieval failed", "error", err)
		} else {
			aux.Retrieval = block
		}
	}

	if settings.MemoryEnabled && c.pipes.MemorySummary != nil {
		if summary, ok := c.pipes.MemorySummary(sideCtx, chat); ok {
			memory = summary
		}
	}

	return aux, memory
}

// =============================================================================
// TITLE FOLLOW-UP
// =============================================================================

const titlePrompt = "Write a title of at most five words for a conversation " +
	"that starts with this exchange. Reply with the title only, no quotes."

// maybeGenerateTitle replaces the placeholder title after the first
// completed turn. Fail-soft: a failure keeps the placeholder.
func (c *Controller) maybeGenerateTitle(chat *model.Chat, userText string, finalMsg *model.Message, settings Settings) {
	if !chat.HasDefaultTitle() || finalMsg == nil {
		return
	}

	titleModel := settings.TitleModel
	if titleModel == "" {
		titleModel = settings.Model
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	answer := util.TruncateRunes(finalMsg.Display(), 500)
	resp, err := c.transport.Generate(ctx, ollama.GenerateRequest{
		Model:  titleModel,
		System: titlePrompt,
		Prompt: "User: " + util.TruncateRunes(userText, 500) + "\nAssistant: " + answer,
		Options: &ollama.Options{
			Temperature: 0.3,
			NumPredict:  20,
		},
	})
	if err != nil {
		c.log.Warn("title generation failed", "chat", chat.ID, "error", err)
		return
	}

	title := strings.Trim(util.FirstLine(resp.Response), `" `)
	if title == "" {
		return
	}
	chat.Title = util.TruncateRunes(title, 60)

	metaCtx, metaCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer metaCancel()
	if err := c.store.SaveChatMeta(metaCtx, chat.Meta()); err != nil {
		c.log.Warn("title save failed", "chat", chat.ID, "error", err)
	}
}
