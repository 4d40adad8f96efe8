package service

import (
	"context"

	"github.com/arqady01/chatllm/internal/model"
)

type scope uint8

const (
	scopeMessages scope = 1 << iota
	scopeConversations
	scopeConfig
	scopeNone scope = 0
	scopeAll        = scopeMessages | scopeConversations | scopeConfig
)

type versions struct {
	messages      uint64
	conversations uint64
	config        uint64
}

// snapshot is a versioned copy of the collections touched by a mutation.
type snapshot struct {
	scope         scope
	versions      versions
	messages      []model.Message
	conversations []model.Conversation
	config        model.ChatConfig
}

// commit applies a and bumps the version of every collection in sc.
// Callers hold s.mu.
func (s *chatService) commit(a action, sc scope) snapshot {
	s.state = reduce(s.state, a)

	snap := snapshot{scope: sc}
	if sc&scopeMessages != 0 {
		s.versions.messages++
		snap.messages = s.state.Messages
	}
	if sc&scopeConversations != 0 {
		s.versions.conversations++
		snap.conversations = s.state.Conversations
	}
	if sc&scopeConfig != 0 {
		s.versions.config++
		snap.config = s.state.Config
	}
	snap.versions = s.versions
	return snap
}

// persist writes snap to storage unless a newer snapshot of the same
// collection has already been written. Callers must not hold s.mu.
func (s *chatService) persist(ctx context.Context, snap snapshot) {
	if snap.scope == scopeNone {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if snap.scope&scopeMessages != 0 && snap.versions.messages > s.persisted.messages {
		s.store.SaveMessages(ctx, snap.messages)
		s.persisted.messages = snap.versions.messages
	}
	if snap.scope&scopeConversations != 0 && snap.versions.conversations > s.persisted.conversations {
		s.store.SaveConversations(ctx, snap.conversations)
		s.persisted.conversations = snap.versions.conversations
	}
	if snap.scope&scopeConfig != 0 && snap.versions.config > s.persisted.config {
		s.store.SaveConfig(ctx, snap.config)
		s.persisted.config = snap.versions.config
	}
}
