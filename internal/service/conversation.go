package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/arqady01/chatllm/common/id"
	"github.com/arqady01/chatllm/internal/model"
)

// ConversationSettings is a partial update. Nil fields are left unchanged.
type ConversationSettings struct {
	Name        *string
	Description *string

	// ContextLimit caps the prior messages sent with each turn.
	// UnlimitedContext clears the cap and wins over ContextLimit.
	ContextLimit     *int
	UnlimitedContext bool

	Temperature *float64
}

func (s *chatService) CreateConversation(ctx context.Context, name, description string) (*model.Conversation, error) {
	if err := model.ValidateName(name); err != nil {
		return nil, validation(err)
	}

	conv := model.NewConversation(id.New(), name, description, s.opts.Now())

	s.mu.Lock()
	snap := s.commit(addConversation{conversation: conv}, scopeConversations)
	s.mu.Unlock()

	s.persist(ctx, snap)
	slog.InfoContext(ctx, "conversation created", "conversation_id", conv.ID, "name", conv.Name)
	return &conv, nil
}

// DeleteConversation removes the conversation and all of its messages.
func (s *chatService) DeleteConversation(ctx context.Context, conversationID int64) error {
	s.mu.Lock()
	if indexOf(s.state.Conversations, conversationID) < 0 {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	snap := s.commit(deleteConversation{conversationID: conversationID}, scopeConversations|scopeMessages)
	s.mu.Unlock()

	s.persist(ctx, snap)
	slog.InfoContext(ctx, "conversation deleted", "conversation_id", conversationID)
	return nil
}

func (s *chatService) UpdateConversationSettings(ctx context.Context, conversationID int64, settings ConversationSettings) (*model.Conversation, error) {
	if settings.Name != nil {
		if err := model.ValidateName(*settings.Name); err != nil {
			return nil, validation(err)
		}
	}
	if settings.ContextLimit != nil && !settings.UnlimitedContext {
		if err := model.ValidateContextLimit(*settings.ContextLimit); err != nil {
			return nil, validation(err)
		}
	}
	if settings.Temperature != nil {
		if err := model.ValidateTemperature(*settings.Temperature); err != nil {
			return nil, validation(err)
		}
	}

	s.mu.Lock()
	i := indexOf(s.state.Conversations, conversationID)
	if i < 0 {
		s.mu.Unlock()
		return nil, ErrConversationNotFound
	}

	conv := s.state.Conversations[i]
	if settings.Name != nil {
		conv.Name = strings.TrimSpace(*settings.Name)
	}
	if settings.Description != nil {
		conv.Description = strings.TrimSpace(*settings.Description)
	}
	switch {
	case settings.UnlimitedContext:
		conv.ContextLimit = nil
	case settings.ContextLimit != nil:
		limit := *settings.ContextLimit
		conv.ContextLimit = &limit
	}
	if settings.Temperature != nil {
		t := *settings.Temperature
		conv.Temperature = &t
	}
	conv.UpdatedAt = s.opts.Now()

	snap := s.commit(updateConversation{conversation: conv}, scopeConversations)
	s.mu.Unlock()

	s.persist(ctx, snap)
	slog.DebugContext(ctx, "conversation updated", "conversation_id", conversationID)
	return &conv, nil
}

func (s *chatService) SetActiveConversation(conversationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if indexOf(s.state.Conversations, conversationID) < 0 {
		return ErrConversationNotFound
	}
	active := conversationID
	s.state = reduce(s.state, setActive{conversationID: &active})
	return nil
}

// ClearMessages removes every message of the conversation, separators
// included. The conversation itself is kept.
func (s *chatService) ClearMessages(ctx context.Context, conversationID int64) error {
	s.mu.Lock()
	if indexOf(s.state.Conversations, conversationID) < 0 {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	snap := s.commit(clearMessages{conversationID: conversationID}, scopeMessages)
	s.mu.Unlock()

	s.persist(ctx, snap)
	return nil
}

func (s *chatService) Conversation(conversationID int64) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Conversations, conversationID)
	if i < 0 {
		return nil, ErrConversationNotFound
	}
	conv := s.state.Conversations[i]
	return &conv, nil
}

func (s *chatService) Conversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.Conversations)
}

// Summaries lists conversations with their latest message, most recently
// active first.
func (s *chatService) Summaries() []model.Summary {
	s.mu.Lock()
	convs := s.state.Conversations
	msgs := s.state.Messages
	s.mu.Unlock()

	out := make([]model.Summary, 0, len(convs))
	for _, c := range convs {
		out = append(out, model.Summarize(c, messagesOf(msgs, c.ID)))
	}
	slices.SortStableFunc(out, func(a, b model.Summary) int {
		return activity(b).Compare(activity(a))
	})
	return out
}

func activity(sum model.Summary) time.Time {
	if sum.LastMessageTime.After(sum.UpdatedAt) {
		return sum.LastMessageTime
	}
	return sum.UpdatedAt
}

// ActiveConversation returns nil when no conversation is selected.
func (s *chatService) ActiveConversation() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.ActiveConversationID == nil {
		return nil
	}
	i := indexOf(s.state.Conversations, *s.state.ActiveConversationID)
	if i < 0 {
		return nil
	}
	conv := s.state.Conversations[i]
	return &conv
}
