package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/arqady01/chatllm/common/logger"
)

// ForcedMarker in a base URL means "use this endpoint verbatim".
const ForcedMarker = "#"

const DefaultProbeTimeout = 10 * time.Second

var ErrInvalidURL = errors.New("invalid URL format, please include the https:// prefix")

// probeSuffixes are tried in order against the user's host.
var probeSuffixes = []string{"/v1", "", "/api/v1", "/openai/v1", "/v1/openai"}

// Resolution is the outcome of probing a user-supplied base URL.
type Resolution struct {
	BaseURL      string
	Valid        bool
	Detected     []string
	ErrorDetails string
	Forced       bool
}

// ConfigValue is the base URL to store in the chat configuration. Forced
// endpoints keep their marker so later requests stay verbatim.
func (r Resolution) ConfigValue() string {
	if r.Forced {
		return r.BaseURL + ForcedMarker
	}
	return r.BaseURL
}

// ParseBaseURL strips the forced marker and trailing slashes.
func ParseBaseURL(raw string) (endpoint string, forced bool) {
	forced = strings.Contains(raw, ForcedMarker)
	endpoint = strings.TrimSpace(strings.ReplaceAll(raw, ForcedMarker, ""))
	return strings.TrimRight(endpoint, "/"), forced
}

type Resolver struct {
	timeout time.Duration
}

func NewResolver(timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Resolver{timeout: timeout}
}

// Resolve finds the API root behind input. In forced mode the endpoint is
// checked with a one-token completion; otherwise each candidate suffix is
// probed with a models listing.
func (r *Resolver) Resolve(ctx context.Context, input, apiKey string) (*Resolution, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API key is required for detection")
	}
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("base URL is required for detection")
	}

	endpoint, forced := ParseBaseURL(input)
	if err := validateURL(endpoint); err != nil {
		return nil, err
	}

	sc := logger.StartSpan(ctx, "llm.resolve_base_url")
	defer sc.End()
	ctx = sc.Context()
	sc.SetAttributes(attribute.Bool("forced", forced))

	var res *Resolution
	if forced {
		res = r.probeForced(ctx, endpoint, apiKey)
	} else {
		res = r.probeCandidates(ctx, endpoint, apiKey)
	}

	sc.SetAttributes(attribute.Bool("valid", res.Valid), attribute.Int("detected", len(res.Detected)))
	return res, nil
}

func (r *Resolver) probeCandidates(ctx context.Context, endpoint, apiKey string) *Resolution {
	res := &Resolution{Detected: []string{}}
	var lastErr string

	for _, suffix := range probeSuffixes {
		candidate := endpoint + suffix

		client, err := newClient(apiKey, candidate, r.timeout)
		if err != nil {
			lastErr = err.Error()
			continue
		}

		if _, err := fetchModels(ctx, client); err != nil {
			lastErr = describeError(err)
			slog.DebugContext(ctx, "base url candidate rejected", "candidate", candidate, "error", lastErr)
			continue
		}

		slog.DebugContext(ctx, "base url candidate accepted", "candidate", candidate)
		res.Detected = append(res.Detected, candidate)
	}

	res.Valid = len(res.Detected) > 0
	if res.Valid {
		res.BaseURL = res.Detected[0]
	} else {
		res.BaseURL = endpoint
		res.ErrorDetails = lastErr
	}
	return res
}

// probeForced posts a minimal completion to the verbatim endpoint. Any
// answer other than 404, 405 or 501 means something is listening there;
// auth failures still count.
func (r *Resolver) probeForced(ctx context.Context, endpoint, apiKey string) *Resolution {
	res := &Resolution{BaseURL: endpoint, Forced: true, Detected: []string{}}

	client, err := newClient(apiKey, endpoint+ForcedMarker, r.timeout)
	if err != nil {
		res.ErrorDetails = err.Error()
		return res
	}

	params := openai.ChatCompletionNewParams{
		Model:     DefaultProbeModel,
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage("test")},
		MaxTokens: openai.Int(1),
	}

	var raw *http.Response
	err = client.Post(ctx, "chat/completions", params, &raw)
	if err == nil {
		raw.Body.Close()
		res.Valid = true
		res.Detected = append(res.Detected, endpoint)
		return res
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) && !endpointMissing(apiErr.StatusCode) {
		res.Valid = true
		res.Detected = append(res.Detected, endpoint)
		return res
	}

	res.ErrorDetails = describeError(err)
	slog.DebugContext(ctx, "forced endpoint rejected", "endpoint", endpoint, "error", res.ErrorDetails)
	return res
}

// DefaultProbeModel is named in the forced-mode probe request.
const DefaultProbeModel = "gpt-3.5-turbo"

func endpointMissing(status int) bool {
	return status == http.StatusNotFound ||
		status == http.StatusMethodNotAllowed ||
		status == http.StatusNotImplemented
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}
