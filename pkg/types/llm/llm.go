// Package llm defines the shared message, option, and usage types passed
// between the HTTP layer, the runtime, and the inference engines.
package llm

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Conversation roles. Tool and function roles are intentionally absent.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role" db:"role"`
	Content string `json:"content" db:"content"`

	// Tokens is the stored token estimate for the content. Zero means not
	// yet counted.
	Tokens    int       `json:"tokens,omitempty" db:"tokens"`
	CreatedAt time.Time `json:"created_at,omitempty" db:"created_at"`
}

// Validate rejects messages with unknown roles or blank content.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return errors.Errorf("invalid role %q, must be one of system, user, assistant", m.Role)
	}
	if strings.TrimSpace(m.Content) == "" {
		return errors.New("message content must not be empty")
	}
	return nil
}

// ValidateMessages checks a whole conversation slice.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return errors.New("messages must not be empty")
	}
	for i, m := range messages {
		if err := m.Validate(); err != nil {
			return errors.Wrapf(err, "message %d", i)
		}
	}
	return nil
}

// Options carries per-request sampling parameters. All fields are optional;
// nil means use the server default. The set of fields is closed, unknown
// option keys are rejected at the HTTP boundary.
type Options struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	RepeatPenalty    *float64 `json:"repeat_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

// Validate range-checks every supplied option.
func (o *Options) Validate() error {
	if o == nil {
		return nil
	}
	if o.Temperature != nil && (*o.Temperature < 0 || *o.Temperature > 2) {
		return errors.Errorf("temperature must be between 0 and 2, got %g", *o.Temperature)
	}
	if o.TopP != nil && (*o.TopP <= 0 || *o.TopP > 1) {
		return errors.Errorf("top_p must be between 0 and 1, got %g", *o.TopP)
	}
	if o.TopK != nil && *o.TopK < 0 {
		return errors.Errorf("top_k must not be negative, got %d", *o.TopK)
	}
	if o.MaxTokens != nil && *o.MaxTokens < 1 {
		return errors.Errorf("max_tokens must be positive, got %d", *o.MaxTokens)
	}
	if o.RepeatPenalty != nil && *o.RepeatPenalty < 0 {
		return errors.Errorf("repeat_penalty must not be negative, got %g", *o.RepeatPenalty)
	}
	if o.PresencePenalty != nil && (*o.PresencePenalty < -2 || *o.PresencePenalty > 2) {
		return errors.Errorf("presence_penalty must be between -2 and 2, got %g", *o.PresencePenalty)
	}
	if o.FrequencyPenalty != nil && (*o.FrequencyPenalty < -2 || *o.FrequencyPenalty > 2) {
		return errors.Errorf("frequency_penalty must be between -2 and 2, got %g", *o.FrequencyPenalty)
	}
	return nil
}

// Usage reports token accounting for a completed request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
