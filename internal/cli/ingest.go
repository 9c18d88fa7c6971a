// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/loomchat/internal/model"
	"github.com/jeranaias/loomchat/internal/persist"
	"github.com/jeranaias/loomchat/internal/util"
)

// =============================================================================
// ATTACHMENTS
// =============================================================================

const (
	maxTextAttachmentBytes  = 512 * 1024
	maxImageAttachmentBytes = 10 * 1024 * 1024

	chunkRunes = 1200
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// attachFile stages a file as the next message's attachment.
func (a *App) attachFile(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: /attach FILE")
	}
	path := strings.Join(args, " ")

	att, err := LoadAttachment(path)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.pendingAtt = att
	a.mu.Unlock()

	kind := "text"
	if att.IsImage() {
		kind = "image"
	}
	fmt.Printf("%s %s (%s), will be sent with your next message\n",
		commandStyle.Render("[Attached]"), att.Name, kind)
	return nil
}

// LoadAttachment reads a file into an attachment. Images are base64
// encoded; everything else is treated as text.
func LoadAttachment(path string) (*model.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	name := filepath.Base(path)
	if imageExtensions[strings.ToLower(filepath.Ext(path))] {
		if info.Size() > maxImageAttachmentBytes {
			return nil, fmt.Errorf("image too large (max %dMB)", maxImageAttachmentBytes/(1024*1024))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return &model.Attachment{
			Name: name,
			Kind: model.AttachmentImage,
			Data: base64.StdEncoding.EncodeToString(data),
		}, nil
	}

	if info.Size() > maxTextAttachmentBytes {
		return nil, fmt.Errorf("file too large (max %dKB)", maxTextAttachmentBytes/1024)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &model.Attachment{
		Name: name,
		Kind: model.AttachmentText,
		Text: string(data),
	}, nil
}

// =============================================================================
// DOCUMENT INGESTION
// =============================================================================

func (a *App) docCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: /doc add FILE | /doc use N | /doc clear")
	}

	switch args[0] {
	case "add":
		if len(args) < 2 {
			return errors.New("usage: /doc add FILE")
		}
		return a.ingestDocument(ctx, strings.Join(args[1:], " "))

	case "use":
		if len(args) != 2 {
			return errors.New("usage: /doc use N")
		}
		return a.useDocument(args[1])

	case "clear":
		a.mu.Lock()
		a.retrievalDocs = nil
		a.mu.Unlock()
		a.controller.SetSettings(a.buildSettings())
		fmt.Println(commandStyle.Render("[OK] retrieval selection cleared"))
		return nil

	default:
		return fmt.Errorf("unknown subcommand: /doc %s", args[0])
	}
}

// ingestDocument chunks a text file, embeds each chunk, and stores the
// result for similarity retrieval.
func (a *App) ingestDocument(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}

	chunks := ChunkText(string(data), chunkRunes)
	if len(chunks) == 0 {
		return errors.New("file contains no text")
	}

	a.mu.Lock()
	embedModel := a.cfg.Retrieval.EmbedModel
	a.mu.Unlock()

	name := filepath.Base(path)
	doc := persist.Document{ID: uuid.NewString(), Name: name}

	embedCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	stored := make([]persist.Chunk, 0, len(chunks))
	for i, text := range chunks {
		embedding, err := a.client.Embed(embedCtx, embedModel, text)
		if err != nil {
			return fmt.Errorf("embedding failed at chunk %d/%d: %w", i+1, len(chunks), err)
		}
		stored = append(stored, persist.Chunk{
			DocumentID: doc.ID,
			Source:     name + "#" + util.Itoa(i+1),
			Text:       text,
			Embedding:  embedding,
		})
	}

	if err := a.store.SaveDocument(ctx, doc, stored); err != nil {
		return err
	}

	// Newly added documents join the retrieval selection right away.
	a.mu.Lock()
	a.retrievalDocs = append(a.retrievalDocs, doc.ID)
	a.mu.Unlock()
	a.controller.SetSettings(a.buildSettings())

	fmt.Printf("%s %s (%s chunks)\n",
		commandStyle.Render("[Ingested]"), name, util.Itoa(len(stored)))
	return nil
}

func (a *App) useDocument(arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("expected a document number, got '%s'", arg)
	}

	a.mu.Lock()
	if len(a.lastDocs) == 0 {
		a.mu.Unlock()
		return errors.New("run /docs first")
	}
	if n < 1 || n > len(a.lastDocs) {
		limit := len(a.lastDocs)
		a.mu.Unlock()
		return fmt.Errorf("document number out of range 1-%d", limit)
	}

	doc := a.lastDocs[n-1]
	already := false
	for _, existing := range a.retrievalDocs {
		if existing == doc.ID {
			already = true
			break
		}
	}
	if !already {
		a.retrievalDocs = append(a.retrievalDocs, doc.ID)
	}
	count := len(a.retrievalDocs)
	a.mu.Unlock()
	a.controller.SetSettings(a.buildSettings())

	fmt.Printf("%s %s selected (%s documents in use)\n",
		commandStyle.Render("[OK]"), doc.Name, util.Itoa(count))
	return nil
}

func (a *App) listDocuments(ctx context.Context) error {
	docs, err := a.store.ListDocuments(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.lastDocs = docs
	selected := make(map[string]bool, len(a.retrievalDocs))
	for _, id := range a.retrievalDocs {
		selected[id] = true
	}
	a.mu.Unlock()

	if len(docs) == 0 {
		fmt.Println(infoStyle.Render("[No documents ingested]"))
		return nil
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Documents"))
	for i, doc := range docs {
		marker := "  "
		if selected[doc.ID] {
			marker = commandStyle.Render("* ")
		}
		fmt.Printf("%s%2d. %s\n", marker, i+1, doc.Name)
	}
	fmt.Println()
	return nil
}

// =============================================================================
// CHUNKING
// =============================================================================

// ChunkText splits text into retrieval chunks of at most maxRunes runes,
// preferring paragraph boundaries. Oversized paragraphs are split hard.
func ChunkText(text string, maxRunes int) []string {
	if maxRunes <= 0 {
		maxRunes = chunkRunes
	}

	var chunks []string
	var current strings.Builder
	currentRunes := 0

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
		currentRunes = 0
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		runes := []rune(para)
		// Hard-split paragraphs that exceed the budget on their own.
		for len(runes) > maxRunes {
			flush()
			chunks = append(chunks, strings.TrimSpace(string(runes[:maxRunes])))
			runes = runes[maxRunes:]
		}
		para = strings.TrimSpace(string(runes))
		if para == "" {
			continue
		}

		paraRunes := len([]rune(para))
		if currentRunes > 0 && currentRunes+2+paraRunes > maxRunes {
			flush()
		}
		if currentRunes > 0 {
			current.WriteString("\n\n")
			currentRunes += 2
		}
		current.WriteString(para)
		currentRunes += paraRunes
	}
	flush()

	return chunks
}
