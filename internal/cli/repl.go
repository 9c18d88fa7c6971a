// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/peterh/liner"

	"github.com/jeranaias/loomchat/internal/config"
	"github.com/jeranaias/loomchat/internal/model"
	"github.com/jeranaias/loomchat/internal/ollama"
	"github.com/jeranaias/loomchat/internal/persist"
	"github.com/jeranaias/loomchat/internal/turn"
	"github.com/jeranaias/loomchat/internal/util"
)

// =============================================================================
// APP
// =============================================================================

// Options wires the REPL application.
type Options struct {
	Config      *config.Config
	Log         *slog.Logger
	Store       persist.DocumentStore
	Coordinator *persist.Coordinator
	Client      *ollama.Client
	Pipelines   turn.SidePipelines
}

// App is the interactive REPL application.
type App struct {
	log        *slog.Logger
	store      persist.DocumentStore
	client     *ollama.Client
	controller *turn.Controller
	input      *LineReader

	mu            sync.Mutex
	cfg           *config.Config
	chat          *model.Chat
	modelOverride string
	retrievalDocs []string
	pendingAtt    *model.Attachment
	lastChats     []model.Meta
	lastDocs      []persist.Document
	printer       *streamPrinter
}

// New creates the REPL application and its turn controller.
func New(opts Options) *App {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	app := &App{
		log:    log,
		store:  opts.Store,
		client: opts.Client,
		cfg:    opts.Config,
	}

	app.controller = turn.NewController(turn.Config{
		Transport:   opts.Client,
		Store:       opts.Store,
		Coordinator: opts.Coordinator,
		Pipelines:   opts.Pipelines,
		Log:         log,
		OnUpdate:    app.handleUpdate,
	})
	app.controller.SetSettings(app.buildSettings())

	return app
}

// ApplyConfig swaps in a freshly loaded configuration. Session overrides
// (a /model switch, selected retrieval documents) survive the reload.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	a.controller.SetSettings(a.buildSettings())
}

// buildSettings derives turn settings from config plus session state.
func (a *App) buildSettings() turn.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := a.cfg.DefaultModel
	if a.modelOverride != "" {
		m = a.modelOverride
	}
	return turn.Settings{
		Model:         m,
		MaxMessages:   a.cfg.Context.MaxMessages,
		Think:         a.cfg.Ollama.Think,
		SearchEnabled: a.cfg.Search.Enabled,
		MemoryEnabled: a.cfg.Memory.Enabled,
		RetrievalDocs: append([]string(nil), a.retrievalDocs...),
		TitleModel:    a.cfg.Title.Model,
	}
}

func (a *App) currentChatID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.chat == nil {
		return ""
	}
	return a.chat.ID
}

// handleUpdate receives live snapshots from the controller and forwards
// them to the active turn's printer.
func (a *App) handleUpdate(msg *model.Message) {
	a.mu.Lock()
	p := a.printer
	a.mu.Unlock()
	if p != nil {
		p.update(msg)
	}
}

// =============================================================================
// RUN LOOP
// =============================================================================

// Run starts the REPL and blocks until the user exits.
func (a *App) Run(ctx context.Context) error {
	if err := a.client.CheckRunning(ctx); err != nil {
		return fmt.Errorf("Ollama is not running. Start it with: ollama serve")
	}

	if err := a.openNewChat(ctx); err != nil {
		return err
	}

	a.input = NewLineReader()
	defer a.input.Close()

	a.printWelcome()

	// Ctrl+C during generation cancels the turn; at the prompt, liner
	// aborts the read instead.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if a.controller.IsSending() {
				a.controller.Cancel(a.currentChatID())
				fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[Cancelled]"))
			}
		}
	}()

	for {
		input, err := a.input.Read(promptStyle.Render("loomchat> "))
		if err != nil {
			if err == liner.ErrPromptAborted {
				fmt.Println()
				continue
			}
			// EOF (Ctrl+D) or terminal error.
			fmt.Println()
			fmt.Println(infoStyle.Render("Goodbye!"))
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			cont, err := a.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
			if !cont {
				fmt.Println(infoStyle.Render("Goodbye!"))
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			fmt.Println(infoStyle.Render("Goodbye!"))
			return nil
		}

		if err := a.runTurn(ctx, input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
	}
}

// =============================================================================
// TURN EXECUTION
// =============================================================================

func (a *App) runTurn(ctx context.Context, input string) error {
	a.mu.Lock()
	chatID := a.chat.ID
	att := a.pendingAtt
	a.pendingAtt = nil
	markdown := a.cfg.UI.Markdown && IsStdoutTTY()
	showStats := a.cfg.UI.ShowStats
	showReasoning := a.cfg.UI.ShowReasoning
	printer := newStreamPrinter(markdown)
	a.printer = printer
	a.mu.Unlock()

	if att != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", infoStyle.Render("[Attached]"), att.Name)
	}

	fmt.Println()
	_, err := a.controller.Start(ctx, chatID, input, att)

	a.mu.Lock()
	a.printer = nil
	a.mu.Unlock()
	final := printer.finish()

	if err != nil {
		if errors.Is(err, turn.ErrFinalFlush) {
			fmt.Fprintln(os.Stderr, warningStyle.Render("[Warning] response may not be fully saved"))
		}
		// A partial answer may still have been produced and persisted.
		if final == nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
	}

	if final != nil {
		answer, reasoning, _ := splitReasoning(final.Content)
		if showReasoning && reasoning != "" {
			fmt.Println(infoStyle.Render(strings.TrimSpace(reasoning)))
			fmt.Println()
		}
		if markdown {
			fmt.Print(renderMarkdown(answer))
		} else if !strings.HasSuffix(answer, "\n") {
			fmt.Println()
		}
		if showStats {
			if line := formatStats(final.Stats, final.ReasoningMs); line != "" {
				fmt.Fprintln(os.Stderr, infoStyle.Render("[Stats] "+line))
			}
		}
	}
	fmt.Println()

	// Reload so the title follow-up and appended messages are visible.
	if chat, loadErr := a.store.LoadChat(ctx, chatID); loadErr == nil {
		a.mu.Lock()
		a.chat = chat
		a.mu.Unlock()
	}

	return nil
}

// openNewChat creates and persists a fresh chat session.
func (a *App) openNewChat(ctx context.Context) error {
	chat := model.NewChat()
	if err := a.store.SaveChatMeta(ctx, chat.Meta()); err != nil {
		return fmt.Errorf("could not create chat: %w", err)
	}
	a.mu.Lock()
	a.chat = chat
	a.mu.Unlock()
	return nil
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter echoes live snapshots. In plain mode the answer streams
// to stdout as it arrives; in markdown mode output is collected and the
// caller renders the finished answer, so only progress is shown.
type streamPrinter struct {
	mu           sync.Mutex
	markdown     bool
	printed      int
	statusActive bool
	last         *model.Message
}

func newStreamPrinter(markdown bool) *streamPrinter {
	return &streamPrinter{markdown: markdown}
}

func (p *streamPrinter) update(msg *model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = msg

	answer, _, open := splitReasoning(msg.Content)

	if msg.IsThinking || open {
		p.showStatus(warningStyle.Render("thinking " + util.FormatFloat1(float64(msg.ReasoningMs)/1000) + "s"))
		return
	}

	if p.markdown {
		if len(answer) > 0 {
			p.showStatus(infoStyle.Render("receiving " + util.FormatInt(len(answer)) + " chars"))
		}
		return
	}

	if len(answer) > p.printed {
		p.clearStatus()
		fmt.Print(answer[p.printed:])
		p.printed = len(answer)
	}
}

// finish clears any status line and returns the last snapshot, nil when
// the stream produced nothing.
func (p *streamPrinter) finish() *model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearStatus()
	return p.last
}

func (p *streamPrinter) showStatus(s string) {
	if !IsStderrTTY() {
		return
	}
	fmt.Fprint(os.Stderr, "\r\x1b[K"+s)
	p.statusActive = true
}

func (p *streamPrinter) clearStatus() {
	if p.statusActive {
		fmt.Fprint(os.Stderr, "\r\x1b[K")
		p.statusActive = false
	}
}

// =============================================================================
// WELCOME
// =============================================================================

func (a *App) printWelcome() {
	settings := a.controller.Settings()

	fmt.Println()
	fmt.Println(welcomeStyle.Render("loomchat"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 30)))
	fmt.Printf("%s %s\n", infoStyle.Render("Model:"), commandStyle.Render(settings.Model))
	if settings.SearchEnabled {
		fmt.Printf("%s %s\n", infoStyle.Render("Search:"), commandStyle.Render("enabled"))
	}
	if settings.MemoryEnabled {
		fmt.Printf("%s %s\n", infoStyle.Render("Memory:"), commandStyle.Render("enabled"))
	}
	if settings.Think {
		fmt.Printf("%s %s\n", infoStyle.Render("Thinking:"), commandStyle.Render("enabled"))
	}
	fmt.Println()
	fmt.Println(infoStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Println()
}
