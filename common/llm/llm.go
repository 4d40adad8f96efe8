package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrTransport wraps non-2xx responses, network failures and timeouts.
	ErrTransport = errors.New("API request failed")

	// ErrEmptyResponse is returned when the API answers without usable text.
	ErrEmptyResponse = errors.New("completion returned no content")

	ErrMissingCredentials = errors.New("API key and base URL are required")
)

const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
)

// Completer is the completion API boundary.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts CompleteOptions) (string, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)
	TestConnection(ctx context.Context, model string) error
}

type CompleteOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int // 0 uses the client's default
}

// Credentials are read from a CredentialSource on every call, so an updated
// configuration is used by the very next request.
type Credentials struct {
	APIKey  string
	BaseURL string
}

type CredentialSource func() Credentials

type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type     PartType
	Text     string
	ImageURL string
}

// Message is a chat message in wire form. Text is used when Parts is empty.
type Message struct {
	Role  string
	Text  string
	Parts []ContentPart
}

func TextMessage(role, text string) Message {
	return Message{Role: role, Text: text}
}

func PartsMessage(role string, parts ...ContentPart) Message {
	return Message{Role: role, Parts: parts}
}

func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

func ImageURLPart(url string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: url}
}

func (m Message) IsMultipart() bool {
	return len(m.Parts) > 0
}

// PlainText joins the text parts of a multi-part message.
func (m Message) PlainText() string {
	if !m.IsMultipart() {
		return m.Text
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wirePart struct {
	Type     PartType      `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

// MarshalJSON renders the OpenAI chat message shape: content is a string for
// text-only messages and a list of typed parts otherwise.
func (m Message) MarshalJSON() ([]byte, error) {
	if !m.IsMultipart() {
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{m.Role, m.Text})
	}

	parts := make([]wirePart, len(m.Parts))
	for i, p := range m.Parts {
		parts[i] = wirePart{Type: p.Type}
		switch p.Type {
		case PartText:
			parts[i].Text = p.Text
		case PartImageURL:
			parts[i].ImageURL = &wireImageURL{URL: p.ImageURL}
		}
	}
	return json.Marshal(struct {
		Role    string     `json:"role"`
		Content []wirePart `json:"content"`
	}{m.Role, parts})
}

// ModelInfo is one entry of the models listing.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}
