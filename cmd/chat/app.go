package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/arqady01/chatllm/common/id"
	"github.com/arqady01/chatllm/common/llm"
	"github.com/arqady01/chatllm/common/logger"
	"github.com/arqady01/chatllm/common/otel"
	"github.com/arqady01/chatllm/core/config"
	"github.com/arqady01/chatllm/internal/model"
	"github.com/arqady01/chatllm/internal/service"
	"github.com/arqady01/chatllm/internal/store"
)

type app struct {
	cfg       config.Config
	telemetry *otel.Telemetry
	storage   *store.Storage
	chat      service.ChatService
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// OTel must init before the logger, which uses its provider in production.
	telemetry, err := otel.Setup(ctx, cfg)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		return nil, err
	}
	logger.Setup(cfg)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		return nil, err
	}

	backend, err := store.Open(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open storage", "error", err, "backend", cfg.Storage.Backend)
		return nil, err
	}
	slog.DebugContext(ctx, "storage opened", "backend", cfg.Storage.Backend)
	storage := store.New(backend)

	var chat service.ChatService
	completer := llm.NewCompleter(
		func() llm.Credentials { return chat.Credentials() },
		llm.ClientConfig{MaxTokens: cfg.LLM.MaxTokens, Timeout: cfg.LLM.RequestTimeout},
	)
	chat = service.NewChatService(storage, completer, llm.NewResolver(cfg.LLM.ProbeTimeout), service.ChatOptions{
		MaxTokens: cfg.LLM.MaxTokens,
		SeedConfig: model.ChatConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		},
	})
	chat.Load(ctx)

	return &app{cfg: cfg, telemetry: telemetry, storage: storage, chat: chat}, nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.storage.Close(); err != nil {
		slog.ErrorContext(ctx, "storage close error", "error", err)
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "otel shutdown error", "error", err)
	}
}
