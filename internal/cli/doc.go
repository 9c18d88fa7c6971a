// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the interactive loomchat REPL.
//
// The REPL reads input through liner (history, line editing), runs each
// message as one turn through the turn controller, and echoes the
// streaming response. On a TTY, finished answers are re-rendered as
// markdown through glamour; piped output stays plain.
//
// Interactive commands:
//
//	/help               Show available commands
//	/new                Start a new chat
//	/list               List stored chats
//	/open N             Open chat N from the last /list
//	/delete [N]         Delete the current chat or chat N
//	/model [name]       Show or switch model
//	/models             List installed models
//	/attach FILE        Attach a file to the next message
//	/doc add FILE       Ingest a document for retrieval
//	/docs               List ingested documents
//	/search on|off      Toggle web search
//	/memory on|off      Toggle conversation memory
//	/think on|off       Toggle the reasoning channel
//	/export [md|json]   Export the current chat to a file
//	/set KEY VALUE      Change a configuration value
//	/stop               Cancel the in-flight turn
//	/quit               Exit
//	Ctrl+C              Cancel generation / abort input
//	Ctrl+D              Exit
package cli
