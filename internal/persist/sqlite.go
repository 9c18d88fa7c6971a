// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jeranaias/loomchat/internal/model"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS chats (
    id            TEXT PRIMARY KEY,
    title         TEXT NOT NULL,
    system_prompt TEXT NOT NULL DEFAULT '',
    preview       TEXT NOT NULL DEFAULT '',
    updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id              TEXT PRIMARY KEY,
    chat_id         TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    seq             INTEGER NOT NULL,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    display_content TEXT NOT NULL DEFAULT '',
    attachment_name TEXT NOT NULL DEFAULT '',
    attachment_kind TEXT NOT NULL DEFAULT '',
    attachment_text TEXT NOT NULL DEFAULT '',
    attachment_data TEXT NOT NULL DEFAULT '',
    reasoning_ms    INTEGER NOT NULL DEFAULT 0,
    ttft_ms         INTEGER NOT NULL DEFAULT -1,
    elapsed_ms      INTEGER NOT NULL DEFAULT 0,
    output_chars    INTEGER NOT NULL DEFAULT 0,
    chars_per_sec   REAL NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, seq);

CREATE TABLE IF NOT EXISTS documents (
    id   TEXT PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS document_chunks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    source      TEXT NOT NULL,
    text        TEXT NOT NULL,
    embedding   BLOB NOT NULL
);
`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore is the durable Store backed by a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ DocumentStore = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// SaveChatMeta upserts chat metadata by chat ID.
func (s *SQLiteStore) SaveChatMeta(ctx context.Context, meta model.Meta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, title, system_prompt, preview, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			system_prompt = excluded.system_prompt,
			preview = excluded.preview,
			updated_at = excluded.updated_at`,
		meta.ID, meta.Title, meta.SystemPrompt, meta.Preview, meta.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: save chat meta: %v", ErrDatabaseError, err)
	}
	return nil
}

// SaveMessage upserts one message. A new message is appended at the end of
// the chat's sequence; an existing one keeps its position.
func (s *SQLiteStore) SaveMessage(ctx context.Context, chatID string, msg *model.Message) error {
	attName, attKind, attText, attData := attachmentColumns(msg.Attachment)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, chat_id, seq, role, content, display_content,
			attachment_name, attachment_kind, attachment_text, attachment_data,
			reasoning_ms, ttft_ms, elapsed_ms, output_chars, chars_per_sec, created_at
		)
		VALUES (?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE chat_id = ?),
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			display_content = excluded.display_content,
			reasoning_ms = excluded.reasoning_ms,
			ttft_ms = excluded.ttft_ms,
			elapsed_ms = excluded.elapsed_ms,
			output_chars = excluded.output_chars,
			chars_per_sec = excluded.chars_per_sec`,
		msg.ID, chatID, chatID,
		msg.Role.String(), msg.Content, msg.DisplayContent,
		attName, attKind, attText, attData,
		msg.ReasoningMs, msg.Stats.FirstTokenLatencyMs, msg.Stats.ElapsedMs,
		msg.Stats.OutputChars, msg.Stats.CharsPerSecond, msg.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: save message: %v", ErrDatabaseError, err)
	}
	return nil
}

// ReplaceMessages swaps the chat's full message list in one transaction.
func (s *SQLiteStore) ReplaceMessages(ctx context.Context, chatID string, msgs []*model.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("%w: clear messages: %v", ErrDatabaseError, err)
	}

	for i, msg := range msgs {
		attName, attKind, attText, attData := attachmentColumns(msg.Attachment)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (
				id, chat_id, seq, role, content, display_content,
				attachment_name, attachment_kind, attachment_text, attachment_data,
				reasoning_ms, ttft_ms, elapsed_ms, output_chars, chars_per_sec, created_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, chatID, i+1,
			msg.Role.String(), msg.Content, msg.DisplayContent,
			attName, attKind, attText, attData,
			msg.ReasoningMs, msg.Stats.FirstTokenLatencyMs, msg.Stats.ElapsedMs,
			msg.Stats.OutputChars, msg.Stats.CharsPerSecond, msg.Timestamp.UnixMilli())
		if err != nil {
			return fmt.Errorf("%w: insert message: %v", ErrDatabaseError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrDatabaseError, err)
	}
	return nil
}

// ListChats returns chat metadata, most recently updated first.
func (s *SQLiteStore) ListChats(ctx context.Context) ([]model.Meta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.system_prompt, c.preview, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id)
		FROM chats c
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list chats: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var metas []model.Meta
	for rows.Next() {
		var meta model.Meta
		var updatedAt int64
		if err := rows.Scan(&meta.ID, &meta.Title, &meta.SystemPrompt, &meta.Preview, &updatedAt, &meta.MessageCount); err != nil {
			return nil, fmt.Errorf("%w: scan chat: %v", ErrDatabaseError, err)
		}
		meta.UpdatedAt = time.UnixMilli(updatedAt)
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// LoadChat returns the chat with its full message list.
func (s *SQLiteStore) LoadChat(ctx context.Context, chatID string) (*model.Chat, error) {
	chat := &model.Chat{ID: chatID}

	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT title, system_prompt, updated_at FROM chats WHERE id = ?", chatID).
		Scan(&chat.Title, &chat.SystemPrompt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load chat: %v", ErrDatabaseError, err)
	}
	chat.UpdatedAt = time.UnixMilli(updatedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, display_content,
			attachment_name, attachment_kind, attachment_text, attachment_data,
			reasoning_ms, ttft_ms, elapsed_ms, output_chars, chars_per_sec, created_at
		FROM messages WHERE chat_id = ? ORDER BY seq`, chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: load messages: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg model.Message
		var role, attName, attKind, attText, attData string
		var createdAt int64
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.DisplayContent,
			&attName, &attKind, &attText, &attData,
			&msg.ReasoningMs, &msg.Stats.FirstTokenLatencyMs, &msg.Stats.ElapsedMs,
			&msg.Stats.OutputChars, &msg.Stats.CharsPerSecond, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", ErrDatabaseError, err)
		}
		msg.Role = model.Role(role)
		msg.Timestamp = time.UnixMilli(createdAt)
		if attKind != "" {
			msg.Attachment = &model.Attachment{
				Name: attName,
				Kind: model.AttachmentKind(attKind),
				Text: attText,
				Data: attData,
			}
		}
		chat.Messages = append(chat.Messages, &msg)
	}
	return chat, rows.Err()
}

// DeleteChat removes the chat; messages cascade.
func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", chatID)
	if err != nil {
		return fmt.Errorf("%w: delete chat: %v", ErrDatabaseError, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChatNotFound
	}
	return nil
}

// =============================================================================
// DOCUMENT OPERATIONS
// =============================================================================

// SaveDocument registers a document and replaces its chunks.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		doc.ID, doc.Name); err != nil {
		return fmt.Errorf("%w: save document: %v", ErrDatabaseError, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM document_chunks WHERE document_id = ?", doc.ID); err != nil {
		return fmt.Errorf("%w: clear chunks: %v", ErrDatabaseError, err)
	}

	for _, chunk := range chunks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_chunks (document_id, source, text, embedding)
			VALUES (?, ?, ?, ?)`,
			doc.ID, chunk.Source, chunk.Text, encodeEmbedding(chunk.Embedding)); err != nil {
			return fmt.Errorf("%w: insert chunk: %v", ErrDatabaseError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrDatabaseError, err)
	}
	return nil
}

// ListDocuments returns all registered documents.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM documents ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Name); err != nil {
			return nil, fmt.Errorf("%w: scan document: %v", ErrDatabaseError, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SearchChunks ranks stored chunks by cosine similarity against the query
// embedding. The candidate set is small (local documents), so ranking runs
// in process rather than in SQL.
func (s *SQLiteStore) SearchChunks(ctx context.Context, query []float64, documentIDs []string, limit int) ([]ChunkMatch, error) {
	sqlQuery := "SELECT source, text, embedding FROM document_chunks"
	var args []any
	if len(documentIDs) > 0 {
		sqlQuery += " WHERE document_id IN (?" + repeatPlaceholder(len(documentIDs)-1) + ")"
		for _, id := range documentIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: search chunks: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var matches []ChunkMatch
	for rows.Next() {
		var match ChunkMatch
		var blob []byte
		if err := rows.Scan(&match.Source, &match.Text, &blob); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", ErrDatabaseError, err)
		}
		match.Similarity = CosineSimilarity(query, decodeEmbedding(blob))
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// attachmentColumns flattens an optional attachment into its four columns.
func attachmentColumns(att *model.Attachment) (name, kind, text, data string) {
	if att == nil {
		return "", "", "", ""
	}
	return att.Name, string(att.Kind), att.Text, att.Data
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

// encodeEmbedding packs a vector as little-endian float64 bytes.
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, 8*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float64 {
	vec := make([]float64, len(buf)/8)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// CosineSimilarity returns the cosine of the angle between two vectors, or
// 0 when either has zero magnitude or the lengths differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
