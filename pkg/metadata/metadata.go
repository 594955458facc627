// Package metadata provides structured parsing and validation for tool metadata JSON.
// Tool metadata supports descriptive fields like version, docs link, tags and deprecation.
package metadata

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// ToolMetadata defines the standard structure for tool metadata JSON.
// This struct provides type-safe access to metadata fields stored as JSON in the database.
type ToolMetadata struct {
	Description string   `json:"description,omitempty"` // Human readable description (max 500 chars)
	Version     string   `json:"version,omitempty"`     // Tool version reported by the provider
	Tags        []string `json:"tags,omitempty"`        // Tags for filtering (e.g., ["search", "beta"])
	DocsURL     string   `json:"docs_url,omitempty"`    // Link to the tool documentation
	Deprecated  bool     `json:"deprecated,omitempty"`  // Whether the provider marked the tool deprecated
}

// Parse parses JSON string into ToolMetadata struct.
// Returns error if JSON is invalid or empty string returns empty metadata.
func Parse(jsonStr string) (*ToolMetadata, error) {
	if jsonStr == "" {
		return &ToolMetadata{}, nil
	}

	var meta ToolMetadata
	if err := json.Unmarshal([]byte(jsonStr), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata JSON: %w", err)
	}

	return &meta, nil
}

// String serializes ToolMetadata to JSON string.
// Returns empty string if metadata is empty (all zero values).
func (m *ToolMetadata) String() string {
	// Check if metadata is empty (all zero values)
	if m.IsEmpty() {
		return ""
	}

	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}

	return string(data)
}

// IsEmpty checks if metadata has any non-zero values.
func (m *ToolMetadata) IsEmpty() bool {
	return m.Description == "" &&
		m.Version == "" &&
		len(m.Tags) == 0 &&
		m.DocsURL == "" &&
		!m.Deprecated
}

// Validate validates metadata fields and returns error if invalid.
// Validation rules:
// - docs_url: must be valid http(s):// URL if provided
// - tags: max 10 tags, each tag max 50 characters
// - version: max 50 characters
// - description: max 500 characters
func (m *ToolMetadata) Validate() error {
	// Validate docs_url format
	if m.DocsURL != "" {
		if err := validateDocsURL(m.DocsURL); err != nil {
			return fmt.Errorf("invalid docs_url: %w", err)
		}
	}

	// Validate tags count and length
	if len(m.Tags) > 10 {
		return fmt.Errorf("too many tags: max 10 allowed, got %d", len(m.Tags))
	}
	for i, tag := range m.Tags {
		if len(tag) > 50 {
			return fmt.Errorf("tag[%d] too long: max 50 characters, got %d", i, len(tag))
		}
		if tag == "" {
			return fmt.Errorf("tag[%d] is empty", i)
		}
	}

	// Validate version length
	if len(m.Version) > 50 {
		return fmt.Errorf("version too long: max 50 characters, got %d", len(m.Version))
	}

	// Validate description length
	if len(m.Description) > 500 {
		return fmt.Errorf("description too long: max 500 characters, got %d", len(m.Description))
	}

	return nil
}

// validateDocsURL validates documentation URL format.
// Supports http:// and https:// schemes.
func validateDocsURL(docsURL string) error {
	parsed, err := url.Parse(docsURL)
	if err != nil {
		return err
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "http", "https":
		return nil
	default:
		return fmt.Errorf("unsupported docs_url scheme: %s (supported: http, https)", scheme)
	}
}
