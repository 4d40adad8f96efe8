package prompt

import (
	"errors"

	"github.com/arqady01/chatllm/internal/model"
)

// ErrEmptyContext means no message survived filtering, so there is nothing
// to send.
var ErrEmptyContext = errors.New("no valid messages to send")

// Build selects the messages to submit for turn, oldest first with turn
// last. prior is the conversation history before turn. limit caps how many
// prior messages are kept: nil keeps all, 0 keeps none.
//
// Filtering happens before counting, so the limit is measured in messages
// that would actually be sent.
func Build(prior []model.Message, turn model.Message, limit *int) ([]model.Message, error) {
	history := Eligible(prior)

	if limit != nil {
		n := *limit
		if n < 0 {
			n = 0
		}
		if len(history) > n {
			history = history[len(history)-n:]
		}
	}

	out := make([]model.Message, 0, len(history)+1)
	out = append(out, history...)
	if IsValidForContext(turn) {
		out = append(out, turn)
	}

	if len(out) == 0 {
		return nil, ErrEmptyContext
	}
	return out, nil
}

// Eligible returns the messages of history that may be sent: those after
// the last context separator that are neither excluded nor empty.
func Eligible(history []model.Message) []model.Message {
	since := Rebuild(history)
	out := make([]model.Message, 0, len(since))
	for _, m := range since {
		if IsValidForContext(m) {
			out = append(out, m)
		}
	}
	return out
}

// Rebuild drops everything up to and including the last context separator.
func Rebuild(history []model.Message) []model.Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsContextSeparator() {
			return history[i+1:]
		}
	}
	return history
}

// IsValidForContext reports whether m can be sent at all.
func IsValidForContext(m model.Message) bool {
	if m.IsContextSeparator() || m.ExcludeFromContext {
		return false
	}
	return m.HasContent() || m.HasImage()
}

// Stats describes the context the next turn would start from.
type Stats struct {
	ContextLength    int
	TotalMessages    int
	ContextRatio     float64 // ContextLength / TotalMessages, 0 when empty
	HasImages        bool
	TextOnlyMessages int
	ImageMessages    int
}

// ContextStats reports on the prior context that Build would use for the
// next turn. Separators do not count towards TotalMessages.
func ContextStats(history []model.Message, limit *int) Stats {
	var ctx []model.Message
	if limit == nil || *limit > 0 {
		ctx = Eligible(history)
		if limit != nil && len(ctx) > *limit {
			ctx = ctx[len(ctx)-*limit:]
		}
	}

	s := Stats{ContextLength: len(ctx)}
	for _, m := range history {
		if !m.IsContextSeparator() {
			s.TotalMessages++
		}
	}
	for _, m := range ctx {
		if m.HasImage() {
			s.ImageMessages++
		} else {
			s.TextOnlyMessages++
		}
	}
	s.HasImages = s.ImageMessages > 0
	if s.TotalMessages > 0 {
		s.ContextRatio = float64(s.ContextLength) / float64(s.TotalMessages)
	}
	return s
}
