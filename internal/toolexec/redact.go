package toolexec

import (
	"regexp"
	"strings"
)

// secretPatterns match credential material that must never reach an
// artifact or log line.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]+=*`),
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|token|secret|password|authorization)["']?\s*[:=]\s*["']?[^\s"',}]+`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{16,}`),
}

// Redactor scrubs provider responses before they are written anywhere
// durable. It removes credential-shaped strings and the tenant id.
type Redactor struct {
	tenant string
}

// NewRedactor builds a redactor for one tenant.
func NewRedactor(tenant string) *Redactor {
	return &Redactor{tenant: tenant}
}

// Redact returns s with secrets and the tenant identifier masked.
func (r *Redactor) Redact(s string) string {
	out := s
	for _, p := range secretPatterns {
		out = p.ReplaceAllString(out, "[REDACTED]")
	}
	if r.tenant != "" {
		out = strings.ReplaceAll(out, r.tenant, "[TENANT]")
	}
	return out
}
