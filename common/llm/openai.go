package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// excludedModelKeywords mark models that cannot hold a chat.
var excludedModelKeywords = []string{
	"embedding", "embed", "whisper", "tts", "dall-e", "davinci-edit",
	"text-search", "text-similarity", "code-search", "moderation",
}

type ClientConfig struct {
	MaxTokens int
	Timeout   time.Duration
}

type openaiCompleter struct {
	creds CredentialSource
	cfg   ClientConfig
}

// NewCompleter returns a Completer backed by the OpenAI SDK. Credentials
// are looked up on every call.
func NewCompleter(creds CredentialSource, cfg ClientConfig) Completer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &openaiCompleter{creds: creds, cfg: cfg}
}

func (c *openaiCompleter) Complete(ctx context.Context, messages []Message, opts CompleteOptions) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages to send")
	}

	client, err := c.client()
	if err != nil {
		return "", err
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:       opts.Model,
		Messages:    toParams(messages),
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(opts.Temperature),
	}

	start := time.Now()
	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", transportError(err)
	}

	slog.DebugContext(ctx, "chat completion finished",
		"model", opts.Model,
		"messages", len(messages),
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrEmptyResponse)
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: finish_reason=%s", ErrEmptyResponse, resp.Choices[0].FinishReason)
	}

	return content, nil
}

func (c *openaiCompleter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	client, err := c.client()
	if err != nil {
		return nil, err
	}

	models, err := fetchModels(ctx, client)
	if err != nil {
		return nil, err
	}

	chat := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		if isChatModel(m.ID) {
			chat = append(chat, m)
		}
	}
	sort.Slice(chat, func(i, j int) bool { return chat[i].ID < chat[j].ID })

	slog.DebugContext(ctx, "listed models", "total", len(models), "chat", len(chat))
	return chat, nil
}

// TestConnection sends a one-line greeting with the current credentials.
func (c *openaiCompleter) TestConnection(ctx context.Context, model string) error {
	_, err := c.Complete(ctx, []Message{TextMessage("user", "Hello")}, CompleteOptions{
		Model:       model,
		Temperature: DefaultTemperature,
	})
	return err
}

func (c *openaiCompleter) client() (openai.Client, error) {
	creds := c.creds()
	if strings.TrimSpace(creds.APIKey) == "" || strings.TrimSpace(creds.BaseURL) == "" {
		return openai.Client{}, ErrMissingCredentials
	}
	return newClient(creds.APIKey, creds.BaseURL, c.cfg.Timeout)
}

// newClient builds an SDK client for baseURL. A base URL in forced mode is
// used verbatim for every request.
func newClient(apiKey, baseURL string, timeout time.Duration) (openai.Client, error) {
	endpoint, forced := ParseBaseURL(baseURL)

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(endpoint),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}

	if forced {
		u, err := url.Parse(endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return openai.Client{}, fmt.Errorf("invalid forced endpoint %q", endpoint)
		}
		opts = append(opts, option.WithMiddleware(forceEndpoint(u)))
	}

	return openai.NewClient(opts...), nil
}

func forceEndpoint(endpoint *url.URL) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		u := *endpoint
		req.URL = &u
		req.Host = u.Host
		return next(req)
	}
}

type modelsEnvelope struct {
	Data []ModelInfo `json:"data"`
}

// fetchModels lists models and insists on a JSON body with a data array.
func fetchModels(ctx context.Context, client openai.Client) ([]ModelInfo, error) {
	var raw *http.Response
	if err := client.Get(ctx, "models", nil, &raw); err != nil {
		return nil, transportError(err)
	}
	defer raw.Body.Close()

	body, err := io.ReadAll(raw.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading models response: %w", ErrTransport, err)
	}

	var env modelsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON response from models API: %w", err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("invalid response format from models API")
	}
	return env.Data, nil
}

func isChatModel(id string) bool {
	lower := strings.ToLower(id)
	for _, kw := range excludedModelKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	return true
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			result = append(result, openai.SystemMessage(msg.PlainText()))
		case "assistant":
			result = append(result, openai.AssistantMessage(msg.PlainText()))
		default:
			if !msg.IsMultipart() {
				result = append(result, openai.UserMessage(msg.Text))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Parts))
			for _, p := range msg.Parts {
				switch p.Type {
				case PartText:
					parts = append(parts, openai.TextContentPart(p.Text))
				case PartImageURL:
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: p.ImageURL,
					}))
				}
			}
			result = append(result, openai.UserMessage(parts))
		}
	}

	return result
}

// transportError tags an SDK error as a transport failure.
func transportError(err error) error {
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// describeError renders err the way probe results report it.
func describeError(err error) string {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return fmt.Sprintf("HTTP %d: %s", apiErr.StatusCode, msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timeout"
	}
	return err.Error()
}
