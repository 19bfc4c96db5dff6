package budget

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/myllm/pkg/types/llm"
)

func TestApprox(t *testing.T) {
	assert.Equal(t, 1, Approx(""))
	assert.Equal(t, 4, Approx("four"))
	assert.Equal(t, 3+25, Approx(strings.Repeat("x", 100)))
}

func TestOverhead(t *testing.T) {
	assert.Equal(t, 7, Overhead("chatml"))
	assert.Equal(t, 12, Overhead("llama3"))
	assert.Equal(t, 5, Overhead("alpaca"))
	assert.Equal(t, 5, Overhead("llama"))
	assert.Equal(t, 5, Overhead("never-heard-of-it"))
}

func TestMessageCostPrefersStoredCount(t *testing.T) {
	counted := MessageCost(ApproxCounter, "llama", llm.Message{Role: llm.RoleUser, Content: "hello"})
	assert.Equal(t, Approx("hello")+5, counted)

	stored := MessageCost(ApproxCounter, "llama", llm.Message{Role: llm.RoleUser, Content: "hello", Tokens: 40})
	assert.Equal(t, 45, stored)
}

// fixedCounter makes message costs explicit: content "sys" costs 15 so the
// full per-message cost under the default overhead is 20, and so on.
var fixedCounter = CounterFunc(func(text string) int {
	switch {
	case text == "sys":
		return 15
	default:
		return 45
	}
})

func turnMessages(n int) []llm.Message {
	var out []llm.Message
	for i := 0; i < n; i++ {
		out = append(out,
			llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("question %d", i)},
			llm.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf("answer %d", i)},
		)
	}
	return out
}

func TestTruncateKeepsSystemAndLastAndRecentTurns(t *testing.T) {
	existing := append([]llm.Message{{Role: llm.RoleSystem, Content: "sys"}}, turnMessages(10)...)
	incoming := []llm.Message{{Role: llm.RoleUser, Content: "new question"}}

	// system costs 20, every other message 50, budget 300:
	// 300 - 20 (system) - 50 (last) leaves 230, enough for 4 prior messages.
	got := Truncate(fixedCounter, "llama", existing, incoming, 300)

	require.Len(t, got, 6)
	assert.Equal(t, llm.RoleSystem, got[0].Role)
	assert.Equal(t, "new question", got[5].Content)

	// The admitted prior messages are the most recent ones, original order.
	assert.Equal(t, "answer 8", got[1].Content)
	assert.Equal(t, "question 9", got[2].Content)
	assert.Equal(t, "answer 9", got[3].Content)

	total := 0
	for _, m := range got {
		total += MessageCost(fixedCounter, "llama", m)
	}
	assert.LessOrEqual(t, total, 300)
}

func TestTruncateAlwaysKeepsLastNonSystem(t *testing.T) {
	incoming := []llm.Message{{Role: llm.RoleUser, Content: "huge question"}}

	got := Truncate(fixedCounter, "llama", nil, incoming, 10)

	require.Len(t, got, 1)
	assert.Equal(t, "huge question", got[0].Content)
}

func TestTruncateSystemOnly(t *testing.T) {
	existing := []llm.Message{{Role: llm.RoleSystem, Content: "sys"}}

	got := Truncate(fixedCounter, "llama", existing, nil, 300)

	require.Len(t, got, 1)
	assert.Equal(t, llm.RoleSystem, got[0].Role)
}

func TestTruncateEmpty(t *testing.T) {
	got := Truncate(fixedCounter, "llama", nil, nil, 300)
	assert.Empty(t, got)
}

func TestTruncateMonotonic(t *testing.T) {
	existing := append([]llm.Message{{Role: llm.RoleSystem, Content: "sys"}}, turnMessages(10)...)
	incoming := []llm.Message{{Role: llm.RoleUser, Content: "new question"}}

	prev := -1
	var prevSet map[string]bool
	for _, b := range []int{100, 200, 300, 500, 1000, 5000} {
		got := Truncate(fixedCounter, "llama", existing, incoming, b)
		assert.GreaterOrEqual(t, len(got), prev, "budget %d", b)

		set := make(map[string]bool, len(got))
		for _, m := range got {
			set[m.Role+"|"+m.Content] = true
		}
		for key := range prevSet {
			assert.True(t, set[key], "budget %d lost %s", b, key)
		}
		prev = len(got)
		prevSet = set
	}
}

func TestTruncateDeterministic(t *testing.T) {
	existing := append([]llm.Message{{Role: llm.RoleSystem, Content: "sys"}}, turnMessages(6)...)
	incoming := []llm.Message{{Role: llm.RoleUser, Content: "new question"}}

	first := Truncate(fixedCounter, "llama", existing, incoming, 250)
	second := Truncate(fixedCounter, "llama", existing, incoming, 250)
	assert.Equal(t, first, second)
}

func TestEstimateIncludesAssistantPrefix(t *testing.T) {
	messages := []llm.Message{{Role: llm.RoleUser, Content: "hi", Tokens: 10}}
	assert.Equal(t, 5+10+5, Estimate(ApproxCounter, "llama", messages))
}
