package biz

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ToolSync/internal/conf"
	"ToolSync/internal/model"
)

// defaultFreshnessWindow is the maximum accepted message age.
const defaultFreshnessWindow = 30 * time.Minute

// DecodeChangeMessage parses one raw queue payload. Any parse error marks
// the payload as malformed; malformed payloads are dropped, never retried.
func DecodeChangeMessage(raw string) (*model.ChangeMessage, error) {
	var msg model.ChangeMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("malformed change message: %w", err)
	}
	return &msg, nil
}

// MessageValidator checks decoded change messages against the wire
// contract before they reach the registry. Validation is stateless; the
// caller supplies the clock so freshness checks stay deterministic.
type MessageValidator struct {
	freshnessWindow time.Duration
}

// NewMessageValidator creates a validator from the sync configuration.
func NewMessageValidator(c *conf.Sync) *MessageValidator {
	v := &MessageValidator{freshnessWindow: defaultFreshnessWindow}
	if c != nil && c.Validation != nil {
		if d := c.Validation.FreshnessWindow.AsDuration(); d > 0 {
			v.freshnessWindow = d
		}
	}
	return v
}

// Validate runs the checks in short-circuit order and returns whether the
// message may be applied, plus a reason when it may not.
//
// Order: structural completeness, per-tool shape, freshness, then the
// at-least-one-change rule. The first failing check wins so the reported
// reason names the most fundamental defect.
func (v *MessageValidator) Validate(msg *model.ChangeMessage, now time.Time) (bool, string) {
	if msg == nil {
		return false, "message is nil"
	}

	// Structural completeness
	if strings.TrimSpace(msg.ID) == "" {
		return false, "missing id"
	}
	if strings.TrimSpace(msg.Source) == "" {
		return false, "missing source"
	}
	if msg.CreatedAt.IsZero() {
		return false, "missing createdAt"
	}
	// Both lists must be present on the wire; an omitted list is not the
	// same as an empty one.
	if msg.AddedTools == nil {
		return false, "addedTools is null"
	}
	if msg.RemovedTools == nil {
		return false, "removedTools is null"
	}

	// Per-tool shape
	if ok, reason := validateToolRefs("addedTools", msg.AddedTools); !ok {
		return false, reason
	}
	if ok, reason := validateToolRefs("removedTools", msg.RemovedTools); !ok {
		return false, reason
	}

	// Freshness: reject both stale and future-dated messages
	age := now.Sub(msg.CreatedAt)
	if age < 0 {
		return false, fmt.Sprintf("createdAt %s is in the future", msg.CreatedAt.Format(time.RFC3339))
	}
	if age > v.freshnessWindow {
		return false, fmt.Sprintf("message is stale: age %s exceeds %s", age.Truncate(time.Second), v.freshnessWindow)
	}

	// At least one actual change
	if len(msg.AddedTools) == 0 && len(msg.RemovedTools) == 0 {
		return false, "no tool changes"
	}

	return true, ""
}

func validateToolRefs(field string, refs []model.ToolRef) (bool, string) {
	for i, ref := range refs {
		if !model.ToolNamePattern.MatchString(ref.Name) {
			return false, fmt.Sprintf("%s[%d]: invalid tool name %q", field, i, ref.Name)
		}
		if strings.TrimSpace(ref.ProviderName) == "" {
			return false, fmt.Sprintf("%s[%d]: missing provider name for tool %q", field, i, ref.Name)
		}
	}
	return true, ""
}
