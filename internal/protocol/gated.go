package protocol

import (
	"sort"
	"strings"
)

// DefaultGatedCapabilities is the default consent gate: payment
// processing, uncontrolled site crawling, and cloud database writes.
// Entries ending in "." match as prefixes; everything else matches
// exactly.
var DefaultGatedCapabilities = []string{
	"payments.",
	"crawl.site",
	"cloud.db.write",
}

// GatedSet classifies capabilities that require explicit consent before
// execution. Membership is injected from configuration, not hard-coded
// at call sites.
type GatedSet struct {
	exact    map[string]bool
	prefixes []string
}

// NewGatedSet builds a classifier from a capability list. An empty list
// falls back to the default gate.
func NewGatedSet(capabilities []string) *GatedSet {
	if len(capabilities) == 0 {
		capabilities = DefaultGatedCapabilities
	}
	gs := &GatedSet{exact: make(map[string]bool)}
	for _, c := range capabilities {
		if strings.HasSuffix(c, ".") {
			gs.prefixes = append(gs.prefixes, c)
		} else {
			gs.exact[c] = true
		}
	}
	return gs
}

// Gated reports whether a capability requires consent.
func (gs *GatedSet) Gated(capability string) bool {
	if gs.exact[capability] {
		return true
	}
	for _, p := range gs.prefixes {
		if strings.HasPrefix(capability, p) {
			return true
		}
	}
	return false
}

// Entries returns the gate's membership list in sorted order. Prefix
// entries keep their trailing ".".
func (gs *GatedSet) Entries() []string {
	out := make([]string, 0, len(gs.exact)+len(gs.prefixes))
	for c := range gs.exact {
		out = append(out, c)
	}
	out = append(out, gs.prefixes...)
	sort.Strings(out)
	return out
}

// Filter returns the subset of tool requests whose capability is gated.
func (gs *GatedSet) Filter(requests []ToolRequest) []ToolRequest {
	var gated []ToolRequest
	for _, tr := range requests {
		if gs.Gated(tr.Capability) {
			gated = append(gated, tr)
		}
	}
	return gated
}
