// Package sanitize scrubs prompt-template artifacts from model output.
// Small local models routinely echo control tokens, role labels, and
// formatting markers back into their completions; everything user-facing
// passes through here first.
package sanitize

import (
	"regexp"
	"strings"
)

// controlMarkers are template artifacts removed from output regardless of
// which family produced it. Models fine-tuned on one format frequently leak
// markers from another.
var controlMarkers = []string{
	"<|im_start|>",
	"<|im_end|>",
	"<|begin_of_text|>",
	"<|start_header_id|>",
	"<|end_header_id|>",
	"<|eot_id|>",
	"<s>",
	"</s>",
	"[INST]",
	"[/INST]",
	"<<SYS>>",
	"<</SYS>>",
	"### Instruction:",
	"### Response:",
	"### System:",
}

var roleWords = []string{"assistant", "user", "system"}

var (
	// leadingRole matches a run of role labels so that stacked labels
	// ("user: user: hi") are removed in a single pass.
	leadingRole  = regexp.MustCompile(`(?i)^\s*((assistant|user|system)\b\s*:?\s*)+`)
	excessBlanks = regexp.MustCompile(`\n{3,}`)
)

// dupRoles collapses stuttered role labels ("assistant assistant") into one.
// Built per role because RE2 has no backreferences.
var dupRoles = func() map[*regexp.Regexp]string {
	m := make(map[*regexp.Regexp]string, len(roleWords))
	for _, role := range roleWords {
		m[regexp.MustCompile(`(?i)\b`+role+`\s+`+role+`\b`)] = role
	}
	return m
}()

// Sanitizer removes control markers and the caller's stop tokens from text.
// Safe for concurrent use.
type Sanitizer struct {
	stopTokens []string
	markers    []string
	patterns   []*regexp.Regexp
}

// New builds a sanitizer for a request. stopTokens are the template's stop
// tokens for the model that produced the output; they are scrubbed alongside
// the universal control markers.
func New(stopTokens []string) *Sanitizer {
	markers := make([]string, 0, len(controlMarkers)+len(stopTokens))
	seen := make(map[string]bool, cap(markers))
	for _, m := range append(append([]string{}, stopTokens...), controlMarkers...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		markers = append(markers, m)
	}

	patterns := make([]*regexp.Regexp, 0, len(markers))
	for _, m := range markers {
		patterns = append(patterns, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(m)))
	}

	stops := make([]string, len(stopTokens))
	copy(stops, stopTokens)

	return &Sanitizer{stopTokens: stops, markers: markers, patterns: patterns}
}

// Clean scrubs a complete text. Idempotent: cleaning cleaned text is a no-op.
func (s *Sanitizer) Clean(text string) string {
	for _, p := range s.patterns {
		text = p.ReplaceAllString(text, "")
	}
	for p, role := range dupRoles {
		text = p.ReplaceAllString(text, role)
	}
	text = leadingRole.ReplaceAllString(text, "")
	text = excessBlanks.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// StopTokens returns the stop tokens this sanitizer watches for.
func (s *Sanitizer) StopTokens() []string {
	out := make([]string, len(s.stopTokens))
	copy(out, s.stopTokens)
	return out
}
