// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/loomchat/internal/config"
	"github.com/jeranaias/loomchat/internal/export"
	"github.com/jeranaias/loomchat/internal/persist"
	"github.com/jeranaias/loomchat/internal/util"
)

// =============================================================================
// COMMAND DISPATCH
// =============================================================================

// handleCommand processes slash commands. Returns (shouldContinue, error)
// where shouldContinue=false means exit.
func (a *App) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return true, nil
	}

	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		a.printHelp()
		return true, nil

	case "/new", "/n":
		if err := a.openNewChat(ctx); err != nil {
			return true, err
		}
		fmt.Println(commandStyle.Render("[New chat]"))
		return true, nil

	case "/list", "/l":
		return true, a.listChats(ctx)

	case "/open", "/o":
		return true, a.openChat(ctx, args)

	case "/delete", "/del":
		return true, a.deleteChat(ctx, args)

	case "/model", "/m":
		return true, a.switchModel(ctx, args)

	case "/models":
		return true, a.listModels(ctx)

	case "/attach", "/a":
		return true, a.attachFile(args)

	case "/doc":
		return true, a.docCommand(ctx, args)

	case "/docs":
		return true, a.listDocuments(ctx)

	case "/search":
		return true, a.toggle(args, "search", func(cfg *config.Config, on bool) { cfg.Search.Enabled = on })

	case "/memory":
		return true, a.toggle(args, "memory", func(cfg *config.Config, on bool) { cfg.Memory.Enabled = on })

	case "/think":
		return true, a.toggle(args, "thinking", func(cfg *config.Config, on bool) { cfg.Ollama.Think = on })

	case "/export", "/e":
		return true, a.exportChat(args)

	case "/set":
		return true, a.setConfig(args)

	case "/stop":
		if a.controller.IsSending() {
			a.controller.Cancel(a.currentChatID())
		} else {
			fmt.Println(infoStyle.Render("[Nothing to stop]"))
		}
		return true, nil

	case "/quit", "/q", "/exit":
		return false, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

// =============================================================================
// CHAT MANAGEMENT
// =============================================================================

func (a *App) listChats(ctx context.Context) error {
	metas, err := a.store.ListChats(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.lastChats = metas
	current := ""
	if a.chat != nil {
		current = a.chat.ID
	}
	a.mu.Unlock()

	if len(metas) == 0 {
		fmt.Println(infoStyle.Render("[No chats yet]"))
		return nil
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Chats"))
	for i, meta := range metas {
		marker := "  "
		if meta.ID == current {
			marker = commandStyle.Render("* ")
		}
		line := fmt.Sprintf("%s%2d. %-40s %s msgs  %s",
			marker,
			i+1,
			util.TruncateRunes(meta.Title, 40),
			util.Itoa(meta.MessageCount),
			meta.UpdatedAt.Local().Format("Jan 2 15:04"))
		fmt.Println(line)
		if meta.Preview != "" {
			fmt.Println(infoStyle.Render("      " + meta.Preview))
		}
	}
	fmt.Println()
	return nil
}

// chatByIndex resolves a 1-based index from the last /list output.
func (a *App) chatByIndex(arg string) (string, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return "", fmt.Errorf("expected a chat number, got '%s'", arg)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.lastChats) == 0 {
		return "", errors.New("run /list first")
	}
	if n < 1 || n > len(a.lastChats) {
		return "", fmt.Errorf("chat number out of range 1-%d", len(a.lastChats))
	}
	return a.lastChats[n-1].ID, nil
}

func (a *App) openChat(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: /open N")
	}
	id, err := a.chatByIndex(args[0])
	if err != nil {
		return err
	}

	chat, err := a.store.LoadChat(ctx, id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.chat = chat
	a.mu.Unlock()

	fmt.Printf("%s %s (%s messages)\n",
		commandStyle.Render("[Opened]"),
		chat.Title,
		util.Itoa(len(chat.Messages)))

	// Replay the tail so the user has context.
	start := len(chat.Messages) - 4
	if start < 0 {
		start = 0
	}
	for _, msg := range chat.Messages[start:] {
		role := "You"
		if msg.Role != "user" {
			role = "AI"
		}
		fmt.Printf("  %s: %s\n", infoStyle.Render(role), msg.Preview(100))
	}
	return nil
}

func (a *App) deleteChat(ctx context.Context, args []string) error {
	var id string
	if len(args) == 0 {
		id = a.currentChatID()
	} else {
		var err error
		if id, err = a.chatByIndex(args[0]); err != nil {
			return err
		}
	}

	if err := a.store.DeleteChat(ctx, id); err != nil {
		if errors.Is(err, persist.ErrChatNotFound) {
			return errors.New("chat not found")
		}
		return err
	}
	fmt.Println(commandStyle.Render("[Deleted]"))

	if id == a.currentChatID() {
		return a.openNewChat(ctx)
	}
	return nil
}

// exportChat writes the current chat to a file. The optional second
// argument overrides the output directory.
func (a *App) exportChat(args []string) error {
	a.mu.Lock()
	chat := a.chat
	a.mu.Unlock()
	if chat == nil || len(chat.Messages) == 0 {
		return errors.New("nothing to export yet")
	}

	format := "md"
	if len(args) > 0 {
		format = strings.ToLower(args[0])
	}
	opts := export.DefaultOptions()
	if len(args) > 1 {
		opts.OutputDir = args[1]
	}

	var (
		path string
		err  error
	)
	switch format {
	case "md", "markdown":
		path, err = export.Markdown(chat, opts)
	case "json":
		path, err = export.JSON(chat, opts)
	default:
		return fmt.Errorf("unknown export format '%s' (md or json)", format)
	}
	if err != nil {
		return err
	}

	fmt.Println(commandStyle.Render("[Exported to " + path + "]"))
	return nil
}

// =============================================================================
// MODELS
// =============================================================================

func (a *App) switchModel(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Printf("%s %s\n",
			infoStyle.Render("[Model]"),
			commandStyle.Render(a.controller.Settings().Model))
		return nil
	}

	name := args[0]
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if models, err := a.client.ListModels(checkCtx); err == nil {
		found := false
		for _, m := range models {
			if m.Name == name {
				found = true
				break
			}
		}
		if !found {
			fmt.Fprintf(os.Stderr, "%s model '%s' not installed, will attempt to use anyway\n",
				warningStyle.Render("[Warning]"), name)
		}
	}

	a.mu.Lock()
	a.modelOverride = name
	a.mu.Unlock()
	a.controller.SetSettings(a.buildSettings())

	fmt.Printf("%s Switched to model: %s\n", commandStyle.Render("[OK]"), name)
	return nil
}

func (a *App) listModels(ctx context.Context) error {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	models, err := a.client.ListModels(listCtx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Println(infoStyle.Render("[No models installed]"))
		return nil
	}

	current := a.controller.Settings().Model
	fmt.Println()
	fmt.Println(headerStyle.Render("Installed Models"))
	for _, m := range models {
		marker := "  "
		if m.Name == current {
			marker = commandStyle.Render("* ")
		}
		sizeGB := float64(m.Size) / (1024 * 1024 * 1024)
		fmt.Printf("%s%-40s %s GB\n", marker, m.Name, util.FormatFloat1(sizeGB))
	}
	fmt.Println()
	return nil
}

// =============================================================================
// TOGGLES AND CONFIG
// =============================================================================

func (a *App) toggle(args []string, name string, apply func(cfg *config.Config, on bool)) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return fmt.Errorf("usage: /%s on|off", name)
	}
	on := args[0] == "on"

	a.mu.Lock()
	cfg := a.cfg.Clone()
	apply(cfg, on)
	a.cfg = cfg
	a.mu.Unlock()
	a.controller.SetSettings(a.buildSettings())

	state := "disabled"
	if on {
		state = "enabled"
	}
	fmt.Printf("%s %s %s\n", commandStyle.Render("[OK]"), name, state)
	return nil
}

func (a *App) setConfig(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: /set KEY VALUE (see config.Keys)")
	}
	key := args[0]
	value := strings.Join(args[1:], " ")

	a.mu.Lock()
	cfg := a.cfg.Clone()
	a.mu.Unlock()

	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	a.controller.SetSettings(a.buildSettings())
	config.SetGlobal(cfg)

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%s config not saved: %v\n", warningStyle.Render("[Warning]"), err)
	}

	fmt.Printf("%s %s = %s\n", commandStyle.Render("[OK]"), key, value)
	return nil
}

// =============================================================================
// HELP
// =============================================================================

func (a *App) printHelp() {
	fmt.Println()
	fmt.Println(headerStyle.Render("Available Commands"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 20)))
	fmt.Println()

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/new", "Start a new chat"},
		{"/list", "List stored chats"},
		{"/open N", "Open chat N from the last /list"},
		{"/delete [N]", "Delete the current chat or chat N"},
		{"/model [name]", "Show or switch model"},
		{"/models", "List installed models"},
		{"/attach FILE", "Attach a file to the next message"},
		{"/doc add FILE", "Ingest a document for retrieval"},
		{"/doc use N", "Include document N in retrieval"},
		{"/docs", "List ingested documents"},
		{"/search on|off", "Toggle web search"},
		{"/memory on|off", "Toggle conversation memory"},
		{"/think on|off", "Toggle the reasoning channel"},
		{"/export [md|json]", "Export the current chat to a file"},
		{"/set KEY VALUE", "Change a configuration value"},
		{"/stop", "Cancel the in-flight turn"},
		{"/quit, /q", "Exit"},
	}

	for _, c := range commands {
		fmt.Printf("  %s  %s\n",
			commandStyle.Render(fmt.Sprintf("%-16s", c.cmd)),
			infoStyle.Render(c.desc))
	}

	fmt.Println()
	fmt.Println(infoStyle.Render("Tip: Ctrl+C cancels generation, Ctrl+D exits"))
	fmt.Println()
}
