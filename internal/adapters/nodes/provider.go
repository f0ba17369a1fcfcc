package nodes

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/eleven-am/weft/internal/adapters/egress"
	"github.com/eleven-am/weft/internal/adapters/rate_limiter"
	"github.com/eleven-am/weft/internal/domain"
	"github.com/eleven-am/weft/internal/ports"
	"github.com/eleven-am/weft/internal/xjson"
)

const (
	chatCompletionsPath = "/v1/chat/completions"
	embeddingsPath      = "/v1/embeddings"
	imagesPath          = "/v1/images/generations"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatCompletionRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    *float64            `json:"temperature,omitempty"`
	MaxTokens      *int                `json:"max_tokens,omitempty"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
	User           string              `json:"user,omitempty"`
}

type embeddingsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type imageRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
	N      int    `json:"n"`
}

// ChatSettings configures llm.chat. BaseURL overrides the provider's
// configured endpoint and is only honored with a caller-supplied key.
type ChatSettings struct {
	Provider       string   `json:"provider"`
	Model          string   `json:"model"`
	System         string   `json:"system,omitempty"`
	Prompt         string   `json:"prompt"`
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      *int     `json:"maxTokens,omitempty"`
	ResponseFormat string   `json:"responseFormat"`
	BaseURL        string   `json:"baseUrl,omitempty"`
}

func (s *ChatSettings) Validate() error {
	if s.Provider == "" {
		return settingsError(domain.SpecLLMChat, "provider is required")
	}
	if s.Model == "" {
		return settingsError(domain.SpecLLMChat, "model is required")
	}
	if s.Prompt == "" {
		return settingsError(domain.SpecLLMChat, "prompt is required")
	}
	if s.ResponseFormat != FormatText && s.ResponseFormat != FormatJSON {
		return settingsError(domain.SpecLLMChat, fmt.Sprintf("unknown responseFormat %q", s.ResponseFormat))
	}
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 2) {
		return settingsError(domain.SpecLLMChat, "temperature must be between 0 and 2")
	}
	if s.MaxTokens != nil && *s.MaxTokens <= 0 {
		return settingsError(domain.SpecLLMChat, "maxTokens must be positive")
	}
	return nil
}

type EmbeddingsSettings struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Input    string `json:"input,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
}

func (s *EmbeddingsSettings) Validate() error {
	if s.Provider == "" {
		return settingsError(domain.SpecLLMEmbeddings, "provider is required")
	}
	if s.Model == "" {
		return settingsError(domain.SpecLLMEmbeddings, "model is required")
	}
	return nil
}

type ImageSettings struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Prompt   string `json:"prompt"`
	Size     string `json:"size,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
}

func (s *ImageSettings) Validate() error {
	if s.Provider == "" {
		return settingsError(domain.SpecImageGenerate, "provider is required")
	}
	if s.Prompt == "" {
		return settingsError(domain.SpecImageGenerate, "prompt is required")
	}
	return nil
}

func (b *builtins) runChat(ctx context.Context, req *ports.NodeRequest, s *ChatSettings) (interface{}, error) {
	payload := chatCompletionRequest{
		Model:       s.Model,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		User:        req.UserID,
	}
	if system := Render(s.System, req.Inputs); system != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: system})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: Render(s.Prompt, req.Inputs)})
	if s.ResponseFormat == FormatJSON {
		payload.ResponseFormat = &chatResponseFormat{Type: "json_object"}
	}

	result, err := b.callProvider(ctx, req, s.Provider, s.BaseURL, chatCompletionsPath, payload)
	if err != nil {
		return nil, err
	}

	content, ok := Lookup(result, "choices.0.message.content")
	if !ok {
		return nil, nodeError(req, "provider response has no message content", domain.ErrInvalidInput)
	}
	text := Stringify(content)
	if s.ResponseFormat == FormatText {
		return text, nil
	}
	return decodeModelJSON(req, text)
}

// decodeModelJSON accepts the loosely formed JSON models tend to produce:
// code fences, trailing commas, unquoted keys.
func decodeModelJSON(req *ports.NodeRequest, content string) (interface{}, error) {
	data := []byte(strings.TrimSpace(content))
	if !xjson.Valid(data) {
		repaired, err := jsonrepair.JSONRepair(content)
		if err != nil {
			return nil, nodeError(req, "model returned invalid json", err)
		}
		data = []byte(repaired)
	}
	return egress.DecodeJSON(data, req.Egress)
}

func (b *builtins) runEmbeddings(ctx context.Context, req *ports.NodeRequest, s *EmbeddingsSettings) (interface{}, error) {
	input := Render(s.Input, req.Inputs)
	if s.Input == "" {
		value, _ := primary(req.Inputs, req.InputOrder, "")
		input = Stringify(value)
	}
	if input == "" {
		return nil, nodeError(req, "embeddings input is empty", domain.ErrInvalidInput)
	}

	result, err := b.callProvider(ctx, req, s.Provider, s.BaseURL, embeddingsPath, embeddingsRequest{Model: s.Model, Input: input})
	if err != nil {
		return nil, err
	}

	embedding, ok := Lookup(result, "data.0.embedding")
	if !ok {
		return nil, nodeError(req, "provider response has no embedding", domain.ErrInvalidInput)
	}
	return embedding, nil
}

func (b *builtins) runImage(ctx context.Context, req *ports.NodeRequest, s *ImageSettings) (interface{}, error) {
	payload := imageRequest{
		Model:  s.Model,
		Prompt: Render(s.Prompt, req.Inputs),
		Size:   s.Size,
		N:      1,
	}

	result, err := b.callProvider(ctx, req, s.Provider, s.BaseURL, imagesPath, payload)
	if err != nil {
		return nil, err
	}

	image, ok := Lookup(result, "data.0")
	if !ok {
		return nil, nodeError(req, "provider response has no image", domain.ErrInvalidInput)
	}
	return image, nil
}

// callProvider performs one budgeted, egress-guarded POST against an
// OpenAI-compatible provider and decodes the JSON reply.
func (b *builtins) callProvider(ctx context.Context, req *ports.NodeRequest, provider, baseURL, path string, payload interface{}) (interface{}, error) {
	logger := req.Logger
	if logger == nil {
		logger = b.logger
	}

	byok := req.Credentials[provider]
	config, known := b.providers[provider]

	apiKey := byok
	if apiKey == "" {
		apiKey = config.APIKey
	}

	endpoint := config.BaseURL
	if baseURL != "" {
		if byok == "" {
			return nil, domain.NewSecurityError(
				fmt.Sprintf("custom baseUrl for %s requires a caller-supplied key", provider), domain.ErrEgressDenied,
				domain.WithNodeID(req.NodeID),
				domain.WithComponent("nodes"),
			)
		}
		endpoint = baseURL
	} else if !known {
		return nil, domain.NewConfigurationError(fmt.Sprintf("unknown provider %q", provider), nil,
			domain.WithNodeID(req.NodeID),
			domain.WithComponent("nodes"),
		)
	}
	if apiKey == "" {
		return nil, domain.NewConfigurationError(fmt.Sprintf("no api key configured for %s", provider), nil,
			domain.WithNodeID(req.NodeID),
			domain.WithComponent("nodes"),
		)
	}

	identity := rate_limiter.Identity(byok, req.UserID)
	if b.limiter != nil {
		decision := b.limiter.Allow(provider, identity)
		if !decision.Allowed {
			logger.Warn("provider budget exhausted", "provider", provider, "retry_after", decision.RetryAfter)
			return nil, domain.NewSecurityError(
				fmt.Sprintf("%s rate limit exceeded, retry in %s", provider, decision.RetryAfter), domain.ErrRateLimited,
				domain.WithNodeID(req.NodeID),
				domain.WithComponent("nodes"),
				domain.WithDetail("retry_after", decision.RetryAfter.String()),
			)
		}
	}

	data, err := xjson.Marshal(payload)
	if err != nil {
		return nil, nodeError(req, "encode provider request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(endpoint, "/")+path, bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewConfigurationError(fmt.Sprintf("invalid base url for %s", provider), err,
			domain.WithNodeID(req.NodeID),
			domain.WithComponent("nodes"),
		)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := b.guard.Do(ctx, httpReq, req.Egress)
	if err != nil {
		return nil, err
	}

	retryAfter := resp.Header.Get("Retry-After")
	if resp.StatusCode == http.StatusTooManyRequests && b.limiter != nil {
		cooldown := b.limiter.RecordThrottle(provider, identity)
		retryAfter = throttleRetryAfter(retryAfter, cooldown, time.Now())
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.NewStatusError(resp.URL, resp.StatusCode, retryAfter, string(resp.Body))
	}

	return egress.DecodeJSON(resp.Body, req.Egress)
}

// throttleRetryAfter is the Retry-After a throttled call reports upstream:
// the provider's own hint or the limiter cooldown, whichever is longer, in
// whole seconds. A retry sooner than the cooldown would be denied locally.
func throttleRetryAfter(header string, cooldown time.Duration, now time.Time) string {
	wait := cooldown
	header = strings.TrimSpace(header)
	if seconds, err := strconv.ParseFloat(header, 64); err == nil && seconds > 0 {
		if d := time.Duration(seconds * float64(time.Second)); d > wait {
			wait = d
		}
	} else if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > wait {
			wait = d
		}
	}
	if wait <= 0 {
		return header
	}
	return strconv.FormatInt(int64(math.Ceil(wait.Seconds())), 10)
}
