package prompts

import (
	"fmt"
	"strings"

	"github.com/jingkaihe/myllm/pkg/types/llm"
)

// guardTokens are sequence-control markers that must only enter a prompt via
// the template itself, never via message content. A stray one in content can
// truncate or hijack the model's context.
var guardTokens = []string{
	"<s>",
	"</s>",
	"<|begin_of_text|>",
}

// LeakError reports a control token found in message content where the
// template did not place it.
type LeakError struct {
	Token  string
	Family string
}

func (e *LeakError) Error() string {
	return fmt.Sprintf("control token %q leaked from message content into %s prompt", e.Token, e.Family)
}

// Build renders messages into a single wire prompt for the given family.
//
// Messages are validated, rendered in order with the family's role formats,
// and when the last message is not an assistant turn the assistant prefix is
// appended so the model continues as assistant. The result is checked for
// control tokens smuggled in through message content.
func Build(family string, messages []llm.Message) (string, error) {
	tmpl, err := Lookup(family)
	if err != nil {
		return "", err
	}
	if err := llm.ValidateMessages(messages); err != nil {
		return "", err
	}

	prompt := render(tmpl, messages, false)

	if err := checkLeaks(tmpl, messages); err != nil {
		return "", err
	}

	return prompt, nil
}

func render(tmpl Template, messages []llm.Message, blank bool) string {
	var b strings.Builder
	b.WriteString(tmpl.BOSToken)

	for _, m := range messages {
		content := m.Content
		if blank {
			content = ""
		}
		switch m.Role {
		case llm.RoleSystem:
			b.WriteString(strings.Replace(tmpl.SystemFormat, ContentPlaceholder, content, 1))
		case llm.RoleUser:
			b.WriteString(strings.Replace(tmpl.UserFormat, ContentPlaceholder, content, 1))
		case llm.RoleAssistant:
			b.WriteString(strings.Replace(tmpl.AssistantFormat, ContentPlaceholder, content, 1))
		}
	}

	if len(messages) == 0 || messages[len(messages)-1].Role != llm.RoleAssistant {
		b.WriteString(tmpl.AssistantPrefix())
	}

	return b.String()
}

// checkLeaks compares guard token counts between the real prompt and the same
// prompt rendered with blanked content. Any excess came from message content.
func checkLeaks(tmpl Template, messages []llm.Message) error {
	actual := render(tmpl, messages, false)
	skeleton := render(tmpl, messages, true)

	for _, token := range guardTokens {
		if strings.Count(actual, token) > strings.Count(skeleton, token) {
			return &LeakError{Token: token, Family: tmpl.Name}
		}
	}
	return nil
}
