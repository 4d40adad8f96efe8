package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultTemperature = 0.7
	MinTemperature     = 0.0
	MaxTemperature     = 1.0
)

var (
	ErrEmptyName            = errors.New("conversation name is required")
	ErrNegativeContextLimit = errors.New("context limit must not be negative")
	ErrTemperatureRange     = fmt.Errorf("temperature must be between %.1f and %.1f", MinTemperature, MaxTemperature)
)

// Conversation is an independently configured thread of messages.
type Conversation struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// ContextLimit caps how many prior messages are sent with a turn.
	// nil means unlimited and 0 means none.
	ContextLimit *int `json:"context_limit,omitempty"`

	// Temperature overrides DefaultTemperature when set.
	Temperature *float64 `json:"temperature,omitempty"`
}

func NewConversation(id int64, name, description string, at time.Time) Conversation {
	return Conversation{
		ID:          id,
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func (c Conversation) EffectiveTemperature() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	return nil
}

func ValidateContextLimit(limit int) error {
	if limit < 0 {
		return ErrNegativeContextLimit
	}
	return nil
}

func ValidateTemperature(t float64) error {
	if t < MinTemperature || t > MaxTemperature {
		return ErrTemperatureRange
	}
	return nil
}

// Summary is the list view of a conversation. It is derived from the
// message set every time and never stored.
type Summary struct {
	Conversation
	MessageCount    int
	LastMessage     string
	LastMessageTime time.Time
}

// Summarize derives a Summary from the conversation's messages, oldest first.
// Separators are not counted.
func Summarize(c Conversation, msgs []Message) Summary {
	s := Summary{Conversation: c}
	for _, m := range msgs {
		if m.ConversationID != c.ID || m.IsContextSeparator() {
			continue
		}
		s.MessageCount++
		s.LastMessageTime = m.Timestamp
		switch {
		case m.HasContent():
			s.LastMessage = m.Content
		case m.ImageRef != "" || m.HasImage():
			s.LastMessage = "[image]"
		default:
			s.LastMessage = ""
		}
	}
	return s
}
