// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"

	"github.com/jeranaias/loomchat/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter dumps the chat verbatim. JSON exports ignore the display
// options so the file is a faithful copy of the stored chat and can be
// re-imported.
type JSONExporter struct{}

// NewJSONExporter creates a JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

// Export marshals the complete chat.
func (e *JSONExporter) Export(chat *model.Chat) ([]byte, error) {
	if chat == nil {
		return nil, fmt.Errorf("chat is nil")
	}
	return json.MarshalIndent(chat, "", "  ")
}

// FileExtension returns the JSON extension.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}
