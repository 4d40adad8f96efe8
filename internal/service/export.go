package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/arqady01/chatllm/internal/model"
)

// ExportVersion is written into every export and checked on import.
const ExportVersion = 1

// ExportDocument is a portable copy of the chat state.
type ExportDocument struct {
	Version       int                  `json:"version" jsonschema:"required"`
	ExportedAt    time.Time            `json:"exported_at" jsonschema:"required"`
	Conversations []model.Conversation `json:"conversations" jsonschema:"required"`
	Messages      []model.Message      `json:"messages" jsonschema:"required"`
	Config        *model.ChatConfig    `json:"config,omitempty"`
}

// Export copies the current state. The API key is left out unless
// includeSecrets is set.
func (s *chatService) Export(includeSecrets bool) ExportDocument {
	s.mu.Lock()
	doc := ExportDocument{
		Version:       ExportVersion,
		ExportedAt:    s.opts.Now(),
		Conversations: slices.Clone(s.state.Conversations),
		Messages:      slices.Clone(s.state.Messages),
	}
	cfg := s.state.Config
	s.mu.Unlock()

	if !includeSecrets {
		cfg.APIKey = ""
	}
	doc.Config = &cfg

	if doc.Conversations == nil {
		doc.Conversations = []model.Conversation{}
	}
	if doc.Messages == nil {
		doc.Messages = []model.Message{}
	}
	return doc
}

// ExportConversation is Export narrowed to one conversation.
func (s *chatService) ExportConversation(conversationID int64, includeSecrets bool) (ExportDocument, error) {
	doc := s.Export(includeSecrets)

	i := indexOf(doc.Conversations, conversationID)
	if i < 0 {
		return ExportDocument{}, ErrConversationNotFound
	}
	doc.Conversations = doc.Conversations[i : i+1]
	doc.Messages = messagesOf(doc.Messages, conversationID)
	if doc.Messages == nil {
		doc.Messages = []model.Message{}
	}
	return doc, nil
}

// Import replaces conversations and messages with the document's. A config
// in the document is applied, keeping the current API key when the
// document's is blank.
func (s *chatService) Import(ctx context.Context, doc ExportDocument) error {
	if doc.Version != ExportVersion {
		return fmt.Errorf("%w: unsupported export version %d", ErrValidation, doc.Version)
	}

	convs := slices.Clone(doc.Conversations)
	seen := make(map[int64]bool, len(convs))
	for _, c := range convs {
		if c.ID == 0 || seen[c.ID] {
			return fmt.Errorf("%w: duplicate or missing conversation id %d", ErrValidation, c.ID)
		}
		if err := model.ValidateName(c.Name); err != nil {
			return fmt.Errorf("%w: conversation %d: %w", ErrValidation, c.ID, err)
		}
		seen[c.ID] = true
	}

	msgs := slices.Clone(doc.Messages)
	for i := range msgs {
		msgs[i].Normalize()
	}
	msgs, convs, adopted := s.adoptOrphans(msgs, convs)

	s.mu.Lock()
	cfg := s.state.Config
	if doc.Config != nil {
		imported := *doc.Config
		if strings.TrimSpace(imported.APIKey) == "" {
			imported.APIKey = cfg.APIKey
		}
		cfg = imported.WithDefaults()
	}
	snap := s.commit(hydrate{conversations: convs, messages: msgs, config: cfg}, scopeAll)
	s.mu.Unlock()

	s.persist(ctx, snap)
	slog.InfoContext(ctx, "chat data imported",
		"conversations", len(convs),
		"messages", len(msgs),
		"adopted_orphans", adopted)
	return nil
}

// ExportSchema describes the export file format.
func ExportSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(&ExportDocument{})
}

// ClearAllData wipes storage and resets the state to the seeded defaults.
// Snapshots taken before the wipe are never written afterwards.
func (s *chatService) ClearAllData(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.store.Clear(ctx)

	s.mu.Lock()
	s.state = reduce(s.state, hydrate{config: seedConfig(s.opts.SeedConfig)})
	s.versions.messages++
	s.versions.conversations++
	s.versions.config++
	s.persisted = s.versions
	s.mu.Unlock()

	slog.InfoContext(ctx, "chat data cleared")
}
