package model

import (
	"strings"
	"time"
)

// Kind says what a message is in the conversation, independent of the wire
// role it would be sent with.
type Kind string

const (
	KindUserTurn         Kind = "user_turn"
	KindAssistantTurn    Kind = "assistant_turn"
	KindContextSeparator Kind = "context_separator"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

const DefaultImageMIME = "image/jpeg"

// ImagePayload is the encoded image actually sent to the completion API.
type ImagePayload struct {
	Data     string `json:"data"` // base64
	MimeType string `json:"mime_type,omitempty"`
}

// MIME returns the payload's MIME type, defaulting to image/jpeg.
func (p ImagePayload) MIME() string {
	if p.MimeType == "" {
		return DefaultImageMIME
	}
	return p.MimeType
}

type Message struct {
	ID             int64         `json:"id"`
	ConversationID int64         `json:"conversation_id"`
	Kind           Kind          `json:"kind"`
	Role           Role          `json:"role"`
	Content        string        `json:"content"`
	Timestamp      time.Time     `json:"timestamp"`
	ImageRef       string        `json:"image_ref,omitempty"` // display only, never sent
	Image          *ImagePayload `json:"image,omitempty"`

	// ExcludeFromContext keeps the message visible in history but out of
	// every future request.
	ExcludeFromContext bool `json:"exclude_from_context,omitempty"`
}

func NewUserMessage(id, conversationID int64, text string, image *ImagePayload, imageRef string, at time.Time) Message {
	return Message{
		ID:             id,
		ConversationID: conversationID,
		Kind:           KindUserTurn,
		Role:           RoleUser,
		Content:        text,
		Timestamp:      at,
		ImageRef:       imageRef,
		Image:          image,
	}
}

func NewAssistantMessage(id, conversationID int64, text string, at time.Time) Message {
	return Message{
		ID:             id,
		ConversationID: conversationID,
		Kind:           KindAssistantTurn,
		Role:           RoleAssistant,
		Content:        text,
		Timestamp:      at,
	}
}

// NewContextSeparator returns the divider that resets the context window.
// It carries no content and no image.
func NewContextSeparator(id, conversationID int64, at time.Time) Message {
	return Message{
		ID:             id,
		ConversationID: conversationID,
		Kind:           KindContextSeparator,
		Role:           RoleSystem,
		Timestamp:      at,
	}
}

func (m Message) IsContextSeparator() bool {
	return m.Kind == KindContextSeparator
}

// HasContent reports whether the text has anything besides whitespace.
func (m Message) HasContent() bool {
	return strings.TrimSpace(m.Content) != ""
}

func (m Message) HasImage() bool {
	return m.Image != nil && strings.TrimSpace(m.Image.Data) != ""
}

// Normalize repairs records read back from storage: a missing kind is
// inferred from the role, and separators are stripped of any payload.
func (m *Message) Normalize() {
	if m.Kind == "" {
		switch m.Role {
		case RoleAssistant:
			m.Kind = KindAssistantTurn
		case RoleSystem:
			m.Kind = KindContextSeparator
		default:
			m.Kind = KindUserTurn
		}
	}
	if m.Kind == KindContextSeparator {
		m.Role = RoleSystem
		m.Content = ""
		m.Image = nil
		m.ImageRef = ""
	}
	if m.Image != nil && strings.TrimSpace(m.Image.Data) == "" {
		m.Image = nil
	}
}
