package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/arqady01/chatllm/internal/model"
)

const (
	messagesFile      = "messages.json"
	conversationsFile = "conversations.json"
	configFile        = "config.yaml"
)

// FileBackend keeps chat data in a local directory. The config file holds
// the API key and is written owner-only.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) LoadMessages(ctx context.Context) ([]model.Message, error) {
	var msgs []model.Message
	if err := b.readJSON(messagesFile, &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

func (b *FileBackend) SaveMessages(ctx context.Context, msgs []model.Message) error {
	return b.writeJSON(messagesFile, msgs)
}

func (b *FileBackend) LoadConversations(ctx context.Context) ([]model.Conversation, error) {
	var convs []model.Conversation
	if err := b.readJSON(conversationsFile, &convs); err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return convs, nil
}

func (b *FileBackend) SaveConversations(ctx context.Context, convs []model.Conversation) error {
	return b.writeJSON(conversationsFile, convs)
}

func (b *FileBackend) LoadConfig(ctx context.Context) (*model.ChatConfig, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(b.dir, configFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg model.ChatConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

func (b *FileBackend) SaveConfig(ctx context.Context, cfg model.ChatConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeFile(configFile, data, 0o600)
}

func (b *FileBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, name := range []string{messagesFile, conversationsFile, configFile} {
		if err := os.Remove(filepath.Join(b.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", name, err)
		}
	}
	return nil
}

func (b *FileBackend) Close() error {
	return nil
}

func (b *FileBackend) readJSON(name string, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(b.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

func (b *FileBackend) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeFile(name, data, 0o600)
}

// writeFile replaces name atomically: write a temp file, then rename.
func (b *FileBackend) writeFile(name string, data []byte, perm os.FileMode) error {
	path := filepath.Join(b.dir, name)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", name, err)
	}
	return nil
}
