// Package budget fits conversation history into a model's context window.
// Token counts come from the engine tokenizer when one is loaded, otherwise
// from a cheap deterministic approximation.
package budget

import (
	"github.com/jingkaihe/myllm/pkg/types/llm"
)

// Counter estimates token counts for raw text.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to the Counter interface.
type CounterFunc func(text string) int

func (f CounterFunc) Count(text string) int { return f(text) }

// Approx estimates tokens as one per four characters plus a small constant.
// Biased slightly high so budgeting errs toward trimming, not overflow.
func Approx(text string) int {
	n := len(text)/4 + 3
	if n < 1 {
		n = 1
	}
	return n
}

// ApproxCounter is the fallback Counter used when no engine is loaded.
var ApproxCounter Counter = CounterFunc(Approx)

// templateOverhead is the per-message formatting cost of each template:
// role headers, separators, and end markers that surround the content.
var templateOverhead = map[string]int{
	"chatml": 7,
	"qwen":   7,
	"llama3": 12,
	"alpaca": 5,
	"phi":    5,
	"vicuna": 5,
}

const defaultOverhead = 5

// Overhead returns the per-message token cost of a template's formatting.
func Overhead(template string) int {
	if n, ok := templateOverhead[template]; ok {
		return n
	}
	return defaultOverhead
}

// MessageCost estimates the full prompt cost of one message, formatting
// included. A stored per-message count takes precedence over re-counting.
func MessageCost(c Counter, template string, m llm.Message) int {
	tokens := m.Tokens
	if tokens <= 0 {
		tokens = c.Count(m.Content)
	}
	return tokens + Overhead(template)
}

// Estimate returns the total estimated prompt cost of a message list,
// including the trailing assistant prefix the composer will append.
func Estimate(c Counter, template string, messages []llm.Message) int {
	total := Overhead(template)
	for _, m := range messages {
		total += MessageCost(c, template, m)
	}
	return total
}

// Truncate fits existing history plus incoming messages into budgetTokens.
//
// The policy is deterministic: all system messages are kept first, the last
// non-system message is always kept even when it alone exceeds the budget,
// and the remaining non-system messages are admitted newest-first until one
// does not fit. The result preserves original order.
func Truncate(c Counter, template string, existing, incoming []llm.Message, budgetTokens int) []llm.Message {
	combined := make([]llm.Message, 0, len(existing)+len(incoming))
	combined = append(combined, existing...)
	combined = append(combined, incoming...)
	if len(combined) == 0 {
		return combined
	}

	var systems []llm.Message
	var rest []llm.Message
	for _, m := range combined {
		if m.Role == llm.RoleSystem {
			systems = append(systems, m)
		} else {
			rest = append(rest, m)
		}
	}

	remaining := budgetTokens
	for _, m := range systems {
		remaining -= MessageCost(c, template, m)
	}

	if len(rest) == 0 {
		return systems
	}

	last := rest[len(rest)-1]
	remaining -= MessageCost(c, template, last)
	prior := rest[:len(rest)-1]

	// Admit newest-first, stop at the first message that does not fit.
	admitted := 0
	for i := len(prior) - 1; i >= 0; i-- {
		cost := MessageCost(c, template, prior[i])
		if cost > remaining {
			break
		}
		remaining -= cost
		admitted++
	}

	result := make([]llm.Message, 0, len(systems)+admitted+1)
	result = append(result, systems...)
	result = append(result, prior[len(prior)-admitted:]...)
	result = append(result, last)
	return result
}
