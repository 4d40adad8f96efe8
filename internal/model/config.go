package model

import (
	"errors"
	"strings"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-3.5-turbo"
)

var (
	ErrMissingAPIKey  = errors.New("API key is not configured")
	ErrMissingBaseURL = errors.New("base URL is not configured")
)

// ChatConfig holds the process-wide API credentials.
type ChatConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
}

func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		BaseURL: DefaultBaseURL,
		Model:   DefaultModel,
	}
}

// WithDefaults fills an empty model with DefaultModel. The base URL is left
// alone so a cleared URL is still reported as missing.
func (c ChatConfig) WithDefaults() ChatConfig {
	if strings.TrimSpace(c.Model) == "" {
		c.Model = DefaultModel
	}
	return c
}

// Validate checks the credentials needed before any request is made.
func (c ChatConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrMissingBaseURL
	}
	return nil
}
