// Package prompts holds the per-family prompt templates and builds wire
// prompts from conversation messages. Templates are explicit: a family with
// no registered template is a configuration error, never a guess.
package prompts

import (
	"fmt"
	"sort"
	"strings"
)

// ContentPlaceholder is substituted with the message content when a role
// format is rendered.
const ContentPlaceholder = "{content}"

// Template describes the exact wire format a model family was trained on,
// including the stop tokens enforced during generation.
type Template struct {
	Name            string
	SystemFormat    string
	UserFormat      string
	AssistantFormat string
	BOSToken        string
	EOSToken        string
	StopTokens      []string
}

// AssistantPrefix returns the assistant format up to the content placeholder.
// Appended to a prompt to cue the model into an open assistant turn.
func (t Template) AssistantPrefix() string {
	prefix, _, _ := strings.Cut(t.AssistantFormat, ContentPlaceholder)
	return prefix
}

// templates is the process-wide registry. Immutable after init.
var templates = map[string]Template{
	// LLaMA family (TinyLlama, LLaMA 1, LLaMA 2)
	"llama": {
		Name:            "llama",
		SystemFormat:    "<<SYS>>\n{content}\n<</SYS>>\n\n",
		UserFormat:      "[INST] {content} [/INST]",
		AssistantFormat: "{content}</s>",
		BOSToken:        "<s>",
		EOSToken:        "</s>",
		StopTokens:      []string{"</s>", "[INST]"},
	},

	// LLaMA 3
	"llama3": {
		Name:            "llama3",
		SystemFormat:    "<|start_header_id|>system<|end_header_id|>\n\n{content}<|eot_id|>",
		UserFormat:      "<|start_header_id|>user<|end_header_id|>\n\n{content}<|eot_id|>",
		AssistantFormat: "<|start_header_id|>assistant<|end_header_id|>\n\n{content}<|eot_id|>",
		BOSToken:        "<|begin_of_text|>",
		EOSToken:        "<|eot_id|>",
		StopTokens:      []string{"<|eot_id|>"},
	},

	// Mistral
	"mistral": {
		Name:            "mistral",
		SystemFormat:    "<<SYS>>\n{content}\n<</SYS>>\n\n",
		UserFormat:      "[INST] {content} [/INST]",
		AssistantFormat: "{content}</s>",
		BOSToken:        "<s>",
		EOSToken:        "</s>",
		StopTokens:      []string{"</s>"},
	},

	// Phi (Alpaca format)
	"phi": {
		Name:            "phi",
		SystemFormat:    "### System:\n{content}\n\n",
		UserFormat:      "### Instruction:\n{content}\n\n",
		AssistantFormat: "### Response:\n{content}\n\n",
		BOSToken:        "",
		EOSToken:        "",
		StopTokens:      []string{"###"},
	},

	// Qwen (ChatML)
	"qwen": {
		Name:            "qwen",
		SystemFormat:    "<|im_start|>system\n{content}<|im_end|>\n",
		UserFormat:      "<|im_start|>user\n{content}<|im_end|>\n",
		AssistantFormat: "<|im_start|>assistant\n{content}<|im_end|>\n",
		BOSToken:        "",
		EOSToken:        "<|im_end|>",
		StopTokens:      []string{"<|im_end|>"},
	},
}

// aliases map template names used in model configs onto registry families.
var aliases = map[string]string{
	"chatml": "qwen",
	"alpaca": "phi",
}

// UnknownFamilyError reports a lookup for a family with no registered
// template. This is a configuration error; there is no fallback.
type UnknownFamilyError struct {
	Family string
}

func (e *UnknownFamilyError) Error() string {
	return fmt.Sprintf("no prompt template registered for family %q; available families: %s",
		e.Family, strings.Join(Families(), ", "))
}

// Lookup returns the template for a model family. Unknown families fail
// loudly.
func Lookup(family string) (Template, error) {
	if canonical, ok := aliases[family]; ok {
		family = canonical
	}
	tmpl, ok := templates[family]
	if !ok {
		return Template{}, &UnknownFamilyError{Family: family}
	}
	return tmpl, nil
}

// Families returns the registered family names, sorted.
func Families() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
