package model

import (
	"encoding/json"
	"regexp"
	"time"
)

// ToolNamePattern constrains tool names to safe identifier characters.
var ToolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ToolRef identifies a single tool announced by the discovery agent.
type ToolRef struct {
	Name         string `json:"name"`
	ProviderName string `json:"providerName"`
}

// ChangeMessage is one incremental registry update pushed onto the
// shared queue by the discovery agent. A message carries the tools
// added and removed in one discovery pass; at least one of the two
// lists must be non-empty for the message to be applied.
type ChangeMessage struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	AddedTools   []ToolRef `json:"addedTools"`
	RemovedTools []ToolRef `json:"removedTools"`
	Source       string    `json:"source"`
}

// InventoryEntry is one tool in the agent's full inventory snapshot.
// Metadata is carried opaquely here and parsed by pkg/metadata before
// it is persisted.
type InventoryEntry struct {
	Name         string          `json:"name"`
	ProviderName string          `json:"providerName"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}
