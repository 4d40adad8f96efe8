package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arqady01/chatllm/common/llm"
	"github.com/arqady01/chatllm/internal/model"
)

func (s *chatService) Config() model.ChatConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Config
}

// Credentials is read by the completer on every request, so configuration
// changes apply to the next call without rebuilding the client.
func (s *chatService) Credentials() llm.Credentials {
	cfg := s.Config()
	return llm.Credentials{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL}
}

// UpdateConfig replaces the configuration. Missing credentials are accepted
// here and reported when a request is attempted.
func (s *chatService) UpdateConfig(ctx context.Context, cfg model.ChatConfig) error {
	cfg = model.ChatConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		BaseURL: strings.TrimSpace(cfg.BaseURL),
		Model:   strings.TrimSpace(cfg.Model),
	}.WithDefaults()

	s.mu.Lock()
	snap := s.commit(setConfig{config: cfg}, scopeConfig)
	s.mu.Unlock()

	s.persist(ctx, snap)
	slog.InfoContext(ctx, "chat config updated", "base_url", cfg.BaseURL, "model", cfg.Model)
	return nil
}

// DetectBaseURL probes input for a compatible API. An empty apiKey falls
// back to the configured one. The configuration is not changed.
func (s *chatService) DetectBaseURL(ctx context.Context, input, apiKey string) (*llm.Resolution, error) {
	if strings.TrimSpace(apiKey) == "" {
		apiKey = s.Config().APIKey
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, model.ErrMissingAPIKey)
	}
	if strings.TrimSpace(input) == "" {
		return nil, validation(model.ErrMissingBaseURL)
	}

	res, err := s.resolver.Resolve(ctx, input, apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return res, nil
}

func (s *chatService) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	if err := s.Config().Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	models, err := s.completer.ListModels(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list models", "error", err)
		return nil, fmt.Errorf("listing models: %w", err)
	}
	return models, nil
}

// TestConnection sends a minimal completion with the configured model.
func (s *chatService) TestConnection(ctx context.Context) error {
	cfg := s.Config()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if err := s.completer.TestConnection(ctx, cfg.Model); err != nil {
		slog.WarnContext(ctx, "connection test failed", "error", err, "model", cfg.Model)
		return fmt.Errorf("testing connection: %w", err)
	}
	return nil
}
