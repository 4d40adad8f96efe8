package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/arqady01/chatllm/common/id"
	"github.com/arqady01/chatllm/common/llm"
	"github.com/arqady01/chatllm/common/logger"
	"github.com/arqady01/chatllm/internal/model"
	"github.com/arqady01/chatllm/internal/prompt"
	"github.com/arqady01/chatllm/internal/store"
)

// ChatService owns the chat state. It is the only place conversations and
// messages are mutated.
type ChatService interface {
	Load(ctx context.Context)

	CreateConversation(ctx context.Context, name, description string) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID int64) error
	UpdateConversationSettings(ctx context.Context, conversationID int64, settings ConversationSettings) (*model.Conversation, error)
	SetActiveConversation(conversationID int64) error
	ClearMessages(ctx context.Context, conversationID int64) error

	SendTurn(ctx context.Context, conversationID int64, turn Turn) (*model.Message, error)
	ResetContext(ctx context.Context, conversationID int64) (*model.Message, error)
	ContextInfo(conversationID int64) (prompt.Stats, error)

	Conversation(conversationID int64) (*model.Conversation, error)
	Conversations() []model.Conversation
	Summaries() []model.Summary
	Messages(conversationID int64) []model.Message
	ActiveConversation() *model.Conversation
	IsLoading(conversationID int64) bool
	LastError() error
	Snapshot() State

	Config() model.ChatConfig
	Credentials() llm.Credentials
	UpdateConfig(ctx context.Context, cfg model.ChatConfig) error
	DetectBaseURL(ctx context.Context, input, apiKey string) (*llm.Resolution, error)
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
	TestConnection(ctx context.Context) error

	Export(includeSecrets bool) ExportDocument
	ExportConversation(conversationID int64, includeSecrets bool) (ExportDocument, error)
	Import(ctx context.Context, doc ExportDocument) error
	ClearAllData(ctx context.Context)
}

// Turn is one user submission.
type Turn struct {
	Text     string
	Image    *model.ImagePayload
	ImageRef string // display reference, never sent
}

// BaseURLResolver probes a user-supplied API address.
type BaseURLResolver interface {
	Resolve(ctx context.Context, input, apiKey string) (*llm.Resolution, error)
}

type ChatOptions struct {
	MaxTokens int

	// SeedConfig is used when storage holds no configuration yet. Blank
	// fields fall back to model.DefaultChatConfig.
	SeedConfig model.ChatConfig

	Now func() time.Time
}

type chatService struct {
	store     store.ChatStore
	completer llm.Completer
	resolver  BaseURLResolver
	opts      ChatOptions

	mu       sync.Mutex
	state    State
	versions versions

	persistMu sync.Mutex
	persisted versions
}

func NewChatService(chatStore store.ChatStore, completer llm.Completer, resolver BaseURLResolver, opts ChatOptions) ChatService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = llm.DefaultMaxTokens
	}
	return &chatService{
		store:     chatStore,
		completer: completer,
		resolver:  resolver,
		opts:      opts,
		state:     State{Config: seedConfig(opts.SeedConfig)},
	}
}

// Load replaces the in-memory state with what storage holds.
func (s *chatService) Load(ctx context.Context) {
	msgs := s.store.LoadMessages(ctx)
	convs := s.store.LoadConversations(ctx)

	cfg := seedConfig(s.opts.SeedConfig)
	if stored := s.store.LoadConfig(ctx); stored != nil {
		cfg = stored.WithDefaults()
	}

	msgs, convs, migrated := s.adoptOrphans(msgs, convs)

	s.mu.Lock()
	scope := scopeNone
	if migrated {
		scope = scopeMessages | scopeConversations
	}
	snap := s.commit(hydrate{conversations: convs, messages: msgs, config: cfg}, scope)
	s.mu.Unlock()

	s.persist(ctx, snap)
	slog.InfoContext(ctx, "chat state loaded",
		"conversations", len(convs),
		"messages", len(msgs),
		"migrated", migrated)
}

// adoptOrphans moves messages that belong to no known conversation into a
// "Default" conversation, so history saved before conversations existed
// stays reachable.
func (s *chatService) adoptOrphans(msgs []model.Message, convs []model.Conversation) ([]model.Message, []model.Conversation, bool) {
	known := make(map[int64]bool, len(convs))
	for _, c := range convs {
		known[c.ID] = true
	}

	orphans := 0
	for _, m := range msgs {
		if !known[m.ConversationID] {
			orphans++
		}
	}
	if orphans == 0 {
		return msgs, convs, false
	}

	def := model.NewConversation(id.New(), "Default", "Messages from before conversations", s.opts.Now())
	msgs = slices.Clone(msgs)
	for i := range msgs {
		if !known[msgs[i].ConversationID] {
			msgs[i].ConversationID = def.ID
		}
	}
	return msgs, append(slices.Clone(convs), def), true
}

// SendTurn sends one user turn and returns the assistant's reply.
//
// The user message is appended and persisted before the request is made and
// stays in history when the request fails. Failures are also recorded as
// the service's last error.
func (s *chatService) SendTurn(ctx context.Context, conversationID int64, turn Turn) (reply *model.Message, err error) {
	if turn.Image != nil && strings.TrimSpace(turn.Image.Data) == "" {
		turn.Image = nil
	}
	if strings.TrimSpace(turn.Text) == "" && turn.Image == nil {
		return nil, fmt.Errorf("%w: message has no text or image", ErrValidation)
	}

	s.mu.Lock()
	i := indexOf(s.state.Conversations, conversationID)
	if i < 0 {
		s.mu.Unlock()
		return nil, ErrConversationNotFound
	}
	conv := s.state.Conversations[i]

	if s.state.Loading[conversationID] {
		s.mu.Unlock()
		return nil, ErrBusy
	}

	cfg := s.state.Config
	if verr := cfg.Validate(); verr != nil {
		err = fmt.Errorf("%w: %w", ErrConfiguration, verr)
		s.state = reduce(s.state, setError{err: err})
		s.mu.Unlock()
		return nil, err
	}

	prior := messagesOf(s.state.Messages, conversationID)
	userMsg := model.NewUserMessage(id.New(), conversationID, turn.Text, turn.Image, turn.ImageRef, s.opts.Now())
	snap := s.commit(addMessage{message: userMsg}, scopeMessages)
	s.state = reduce(s.state, setLoading{conversationID: conversationID, loading: true})
	s.mu.Unlock()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: logger.Ptr(conversationID),
		MessageID:      logger.Ptr(userMsg.ID),
		Model:          logger.Ptr(cfg.Model),
		Component:      "chatllm.service.chat",
	})
	sc := logger.StartSpan(ctx, "chat.send_turn")
	defer sc.End()
	ctx = sc.Context()

	defer func() {
		s.mu.Lock()
		s.state = reduce(s.state, setLoading{conversationID: conversationID})
		s.state = reduce(s.state, setError{err: err})
		s.mu.Unlock()

		if err != nil {
			sc.RecordError(err)
			slog.WarnContext(ctx, "turn failed", "error", err)
		}
	}()

	s.persist(ctx, snap)
	slog.DebugContext(ctx, "sending turn", "preview", logger.Truncate(turn.Text, 80), "has_image", turn.Image != nil)

	built, err := prompt.Build(prior, userMsg, conv.ContextLimit)
	if err != nil {
		return nil, err
	}
	sc.SetAttributes(
		attribute.Int("context.messages", len(built)),
		attribute.Float64("temperature", conv.EffectiveTemperature()),
	)

	text, err := s.completer.Complete(ctx, prompt.EncodeAll(built), llm.CompleteOptions{
		Model:       cfg.Model,
		Temperature: conv.EffectiveTemperature(),
		MaxTokens:   s.opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("sending turn: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("sending turn: %w", ErrEmptyResponse)
	}

	assistant := model.NewAssistantMessage(id.New(), conversationID, text, s.opts.Now())

	s.mu.Lock()
	if indexOf(s.state.Conversations, conversationID) < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: deleted while the reply was pending", ErrConversationNotFound)
	}
	if !slices.ContainsFunc(s.state.Messages, func(m model.Message) bool { return m.ID == userMsg.ID }) {
		s.mu.Unlock()
		return nil, ErrConversationCleared
	}
	snap = s.commit(addMessage{message: assistant}, scopeMessages)
	s.mu.Unlock()

	s.persist(ctx, snap)
	slog.DebugContext(ctx, "turn completed", "context_messages", len(built), "reply_id", assistant.ID)
	return &assistant, nil
}

// ResetContext appends a separator so later turns ignore everything before
// it. History stays visible.
func (s *chatService) ResetContext(ctx context.Context, conversationID int64) (*model.Message, error) {
	s.mu.Lock()
	if indexOf(s.state.Conversations, conversationID) < 0 {
		s.mu.Unlock()
		return nil, ErrConversationNotFound
	}
	sep := model.NewContextSeparator(id.New(), conversationID, s.opts.Now())
	snap := s.commit(addMessage{message: sep}, scopeMessages)
	s.mu.Unlock()

	s.persist(ctx, snap)
	slog.InfoContext(ctx, "context reset", "conversation_id", conversationID)
	return &sep, nil
}

// ContextInfo describes the prior context the next turn would be built on.
func (s *chatService) ContextInfo(conversationID int64) (prompt.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.state.Conversations, conversationID)
	if i < 0 {
		return prompt.Stats{}, ErrConversationNotFound
	}
	history := messagesOf(s.state.Messages, conversationID)
	return prompt.ContextStats(history, s.state.Conversations[i].ContextLimit), nil
}

func (s *chatService) Messages(conversationID int64) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return messagesOf(s.state.Messages, conversationID)
}

func (s *chatService) IsLoading(conversationID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Loading[conversationID]
}

func (s *chatService) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastError
}

// Snapshot returns a copy of the current state.
func (s *chatService) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.state
	snap.Conversations = slices.Clone(snap.Conversations)
	snap.Messages = slices.Clone(snap.Messages)
	snap.Loading = maps.Clone(snap.Loading)
	if snap.ActiveConversationID != nil {
		snap.ActiveConversationID = logger.Ptr(*snap.ActiveConversationID)
	}
	return snap
}

func seedConfig(seed model.ChatConfig) model.ChatConfig {
	cfg := model.DefaultChatConfig()
	if v := strings.TrimSpace(seed.APIKey); v != "" {
		cfg.APIKey = v
	}
	if v := strings.TrimSpace(seed.BaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(seed.Model); v != "" {
		cfg.Model = v
	}
	return cfg
}

func validation(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}
