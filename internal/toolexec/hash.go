package toolexec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// KeyHash computes the stable cache key for a tool request: a sha256
// over {capability, input_spec, selected_tools}. json.Marshal emits map
// keys in sorted order at every nesting level, so semantically equal
// input specs serialize identically regardless of insertion order.
// Selected tools are sorted explicitly since slice order is
// caller-chosen.
func KeyHash(capability string, inputSpec map[string]interface{}, selectedTools []string) string {
	tools := append([]string(nil), selectedTools...)
	sort.Strings(tools)

	payload := map[string]interface{}{
		"capability":     capability,
		"input_spec":     inputSpec,
		"selected_tools": tools,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		// Only unmarshalable values (chans, funcs) land here; hash the
		// capability alone rather than panic in a cache-key path.
		data = []byte(capability)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
