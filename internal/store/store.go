package store

import (
	"context"
	"log/slog"

	"github.com/arqady01/chatllm/internal/model"
)

// Storage adapts a Backend to ChatStore.
type Storage struct {
	backend Backend
}

func New(backend Backend) *Storage {
	return &Storage{backend: backend}
}

func (s *Storage) LoadMessages(ctx context.Context) []model.Message {
	msgs, err := s.backend.LoadMessages(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load messages", "error", err)
		return []model.Message{}
	}
	for i := range msgs {
		msgs[i].Normalize()
	}
	return msgs
}

func (s *Storage) SaveMessages(ctx context.Context, msgs []model.Message) {
	if err := s.backend.SaveMessages(ctx, msgs); err != nil {
		slog.ErrorContext(ctx, "failed to save messages", "error", err, "count", len(msgs))
	}
}

func (s *Storage) LoadConversations(ctx context.Context) []model.Conversation {
	convs, err := s.backend.LoadConversations(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load conversations", "error", err)
		return []model.Conversation{}
	}
	return convs
}

func (s *Storage) SaveConversations(ctx context.Context, convs []model.Conversation) {
	if err := s.backend.SaveConversations(ctx, convs); err != nil {
		slog.ErrorContext(ctx, "failed to save conversations", "error", err, "count", len(convs))
	}
}

func (s *Storage) LoadConfig(ctx context.Context) *model.ChatConfig {
	cfg, err := s.backend.LoadConfig(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		return nil
	}
	return cfg
}

func (s *Storage) SaveConfig(ctx context.Context, cfg model.ChatConfig) {
	if err := s.backend.SaveConfig(ctx, cfg); err != nil {
		slog.ErrorContext(ctx, "failed to save config", "error", err)
	}
}

func (s *Storage) Clear(ctx context.Context) {
	if err := s.backend.Clear(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to clear storage", "error", err)
	}
}

func (s *Storage) Close() error {
	return s.backend.Close()
}
