package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseResponse turns raw assistant output into a SubagentResponse.
// Models wrap JSON in code fences or emit slightly broken JSON often
// enough that we strip fences and run a repair pass before giving up.
// A failure here is a protocol error, never retried.
func ParseResponse(raw string) (*SubagentResponse, error) {
	text := stripCodeFence(raw)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty assistant output", ErrProtocol)
	}

	var resp SubagentResponse
	if err := json.Unmarshal([]byte(text), &resp); err == nil {
		return &resp, nil
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable assistant output: %v", ErrProtocol, err)
	}
	if err := json.Unmarshal([]byte(repaired), &resp); err != nil {
		return nil, fmt.Errorf("%w: assistant output is not a response document: %v", ErrProtocol, err)
	}
	return &resp, nil
}

// stripCodeFence removes a surrounding markdown code fence, if present.
func stripCodeFence(s string) string {
	text := strings.TrimSpace(s)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
