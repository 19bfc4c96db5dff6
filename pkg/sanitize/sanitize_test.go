package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanRemovesControlMarkers(t *testing.T) {
	s := New([]string{"</s>"})

	cases := map[string]string{
		"Hello<|im_end|> world":                        "Hello world",
		"<|start_header_id|>assistant<|end_header_id|>\n\nHi": "Hi",
		"Answer</s> trailing":                          "Answer trailing",
		"[INST] echoed [/INST]":                        "echoed",
		"### Response:\nThe answer":                    "The answer",
	}

	for in, want := range cases {
		assert.Equal(t, want, s.Clean(in), "input %q", in)
	}
}

func TestCleanCaseInsensitive(t *testing.T) {
	s := New([]string{"</s>"})
	assert.Equal(t, "done", s.Clean("done</S>"))
	assert.Equal(t, "done", s.Clean("done<|IM_END|>"))
}

func TestCleanCollapsesDuplicateRoleWords(t *testing.T) {
	s := New(nil)
	assert.Equal(t, "the assistant said hi", s.Clean("the assistant assistant said hi"))
	assert.Equal(t, "a user typed", s.Clean("a user user typed"))
}

func TestCleanStripsLeadingRoleLabel(t *testing.T) {
	s := New(nil)
	assert.Equal(t, "Sure, here you go.", s.Clean("assistant: Sure, here you go."))
	assert.Equal(t, "Sure.", s.Clean("  Assistant:  Sure."))
	assert.Equal(t, "hi", s.Clean("user: user: hi"))
	assert.Equal(t, "reply", s.Clean("assistant: User: system reply"))
}

func TestCleanCollapsesBlankRuns(t *testing.T) {
	s := New(nil)
	assert.Equal(t, "a\n\nb", s.Clean("a\n\n\n\n\nb"))
}

func TestCleanIdempotent(t *testing.T) {
	s := New([]string{"</s>", "[INST]"})

	inputs := []string{
		"assistant: Hello</s>\n\n\n\nworld [INST] more",
		"plain text with no artifacts",
		"<|im_start|>assistant\nreply<|im_end|>",
		"user: user: hi",
		"assistant assistant: stacked labels",
	}
	for _, in := range inputs {
		once := s.Clean(in)
		assert.Equal(t, once, s.Clean(once), "input %q", in)
	}
}

func TestCleanPreservesNormalText(t *testing.T) {
	s := New([]string{"</s>"})
	text := "The user asked about 2 < 3 and the system replied.\n\nSee section 4."
	assert.Equal(t, text, s.Clean(text))
}

func TestStreamEmitsCleanTokens(t *testing.T) {
	st := New([]string{"</s>"}).Stream()

	var out string
	for _, token := range []string{"The", " answer", " is", " 42."} {
		emit, stop := st.Push(token)
		assert.False(t, stop)
		out += emit
	}
	assert.Equal(t, "The answer is 42.", out)
}

func TestStreamStopsOnSplitStopToken(t *testing.T) {
	st := New([]string{"</s>", "[INST]"}).Stream()

	var out string
	stopped := false
	for _, token := range []string{"Hel", "lo", " ", "</", "s>", " ignored"} {
		emit, stop := st.Push(token)
		if stop {
			stopped = true
			break
		}
		out += emit
	}

	assert.True(t, stopped)
	assert.Equal(t, "Hello ", out)
}

func TestStreamSuppressesControlTokens(t *testing.T) {
	st := New([]string{"<|im_end|>"}).Stream()

	emit, stop := st.Push("<|eot_id|>")
	assert.False(t, stop)
	assert.Empty(t, emit)

	emit, stop = st.Push("fine")
	assert.False(t, stop)
	assert.Equal(t, "fine", emit)
}

func TestStreamHoldsBackPartialMarkers(t *testing.T) {
	st := New([]string{"</s>"}).Stream()

	emit, stop := st.Push("<|im_")
	assert.False(t, stop)
	assert.Empty(t, emit)
}

func TestStreamReset(t *testing.T) {
	s := New([]string{"</s>"})
	st := s.Stream()

	_, _ = st.Push("</")
	st.Reset()

	// After a reset the earlier fragment no longer combines into a stop.
	emit, stop := st.Push("s> hello")
	assert.False(t, stop)
	assert.Equal(t, "s> hello", emit)
}
