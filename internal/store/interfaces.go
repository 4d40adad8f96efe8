package store

import (
	"context"

	"github.com/arqady01/chatllm/internal/model"
)

// Backend is a durable home for chat data. Saves replace the whole set.
type Backend interface {
	LoadMessages(ctx context.Context) ([]model.Message, error)
	SaveMessages(ctx context.Context, msgs []model.Message) error
	LoadConversations(ctx context.Context) ([]model.Conversation, error)
	SaveConversations(ctx context.Context, convs []model.Conversation) error

	// LoadConfig returns nil, nil when no configuration has been saved.
	LoadConfig(ctx context.Context) (*model.ChatConfig, error)
	SaveConfig(ctx context.Context, cfg model.ChatConfig) error

	Clear(ctx context.Context) error
	Close() error
}

// ChatStore is the persistence contract the chat service depends on. It
// never returns errors: failures are logged and loads fall back to empty
// values.
type ChatStore interface {
	LoadMessages(ctx context.Context) []model.Message
	SaveMessages(ctx context.Context, msgs []model.Message)
	LoadConversations(ctx context.Context) []model.Conversation
	SaveConversations(ctx context.Context, convs []model.Conversation)
	LoadConfig(ctx context.Context) *model.ChatConfig
	SaveConfig(ctx context.Context, cfg model.ChatConfig)
	Clear(ctx context.Context)
}
