package service

import (
	"maps"
	"slices"

	"github.com/arqady01/chatllm/internal/model"
)

// State is the whole chat state. Slices and maps inside a State are never
// modified in place, so a State value can be shared after it is produced.
type State struct {
	Conversations        []model.Conversation
	Messages             []model.Message // all conversations, oldest first
	ActiveConversationID *int64
	Config               model.ChatConfig
	Loading              map[int64]bool
	LastError            error
}

type action interface {
	isAction()
}

type hydrate struct {
	conversations []model.Conversation
	messages      []model.Message
	config        model.ChatConfig
}

type setLoading struct {
	conversationID int64
	loading        bool
}

type (
	setConfig          struct{ config model.ChatConfig }
	setError           struct{ err error }
	addMessage         struct{ message model.Message }
	clearMessages      struct{ conversationID int64 }
	addConversation    struct{ conversation model.Conversation }
	updateConversation struct{ conversation model.Conversation }
	deleteConversation struct{ conversationID int64 }
	setActive          struct{ conversationID *int64 }
)

func (hydrate) isAction()            {}
func (setConfig) isAction()          {}
func (setLoading) isAction()         {}
func (setError) isAction()           {}
func (addMessage) isAction()         {}
func (clearMessages) isAction()      {}
func (addConversation) isAction()    {}
func (updateConversation) isAction() {}
func (deleteConversation) isAction() {}
func (setActive) isAction()          {}

// reduce returns the state after applying a.
func reduce(s State, a action) State {
	switch a := a.(type) {
	case hydrate:
		s.Conversations = slices.Clone(a.conversations)
		s.Messages = slices.Clone(a.messages)
		s.Config = a.config
		s.ActiveConversationID = nil
		s.Loading = nil
		s.LastError = nil

	case setConfig:
		s.Config = a.config

	case setLoading:
		loading := maps.Clone(s.Loading)
		if loading == nil {
			loading = make(map[int64]bool)
		}
		if a.loading {
			loading[a.conversationID] = true
		} else {
			delete(loading, a.conversationID)
		}
		s.Loading = loading

	case setError:
		s.LastError = a.err

	case addMessage:
		if indexOf(s.Conversations, a.message.ConversationID) < 0 {
			return s
		}
		s.Messages = append(slices.Clip(s.Messages), a.message)

	case clearMessages:
		s.Messages = without(s.Messages, a.conversationID)

	case addConversation:
		s.Conversations = append(slices.Clip(s.Conversations), a.conversation)

	case updateConversation:
		i := indexOf(s.Conversations, a.conversation.ID)
		if i < 0 {
			return s
		}
		s.Conversations = slices.Clone(s.Conversations)
		s.Conversations[i] = a.conversation

	case deleteConversation:
		s.Conversations = slices.DeleteFunc(slices.Clone(s.Conversations), func(c model.Conversation) bool {
			return c.ID == a.conversationID
		})
		s.Messages = without(s.Messages, a.conversationID)
		if s.ActiveConversationID != nil && *s.ActiveConversationID == a.conversationID {
			s.ActiveConversationID = nil
		}

	case setActive:
		s.ActiveConversationID = a.conversationID
	}

	return s
}

func indexOf(convs []model.Conversation, id int64) int {
	return slices.IndexFunc(convs, func(c model.Conversation) bool { return c.ID == id })
}

func without(msgs []model.Message, conversationID int64) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ConversationID != conversationID {
			out = append(out, m)
		}
	}
	return out
}

func messagesOf(msgs []model.Message, conversationID int64) []model.Message {
	var out []model.Message
	for _, m := range msgs {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out
}
