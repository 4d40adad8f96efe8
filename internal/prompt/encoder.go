package prompt

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/arqady01/chatllm/common/llm"
	"github.com/arqady01/chatllm/internal/model"
)

const (
	// ImageUnavailablePlaceholder replaces an image that failed validation
	// when the message has no text of its own.
	ImageUnavailablePlaceholder = "image could not be sent"

	// EmptyMessagePlaceholder is sent for a text-only message with no text.
	EmptyMessagePlaceholder = "(empty message)"
)

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// Encode converts m to its wire form. A corrupt image payload degrades the
// message to text instead of failing the send.
func Encode(m model.Message) llm.Message {
	role := string(m.Role)

	if m.HasImage() {
		data := stripWhitespace(m.Image.Data)
		if !base64Pattern.MatchString(data) {
			if m.HasContent() {
				return llm.TextMessage(role, m.Content)
			}
			return llm.TextMessage(role, ImageUnavailablePlaceholder)
		}

		parts := make([]llm.ContentPart, 0, 2)
		if m.HasContent() {
			parts = append(parts, llm.TextPart(m.Content))
		}
		parts = append(parts, llm.ImageURLPart("data:"+m.Image.MIME()+";base64,"+data))
		return llm.PartsMessage(role, parts...)
	}

	if m.Content == "" {
		return llm.TextMessage(role, EmptyMessagePlaceholder)
	}
	return llm.TextMessage(role, m.Content)
}

// EncodeAll encodes msgs in order.
func EncodeAll(msgs []model.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = Encode(m)
	}
	return out
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
