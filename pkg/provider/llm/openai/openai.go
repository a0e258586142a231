// Package openai implements llm.Provider on the OpenAI chat completions API.
// BaseURL overrides make it usable with any OpenAI-compatible server.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/geova/livementor/pkg/provider/llm"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-4.1-2025-04-14"

// Provider sends mentor turns to the chat completions endpoint.
type Provider struct {
	client oai.Client
	model  string
	user   string
}

// Option configures a [Provider].
type Option func(*settings)

type settings struct {
	request []option.RequestOption
	user    string
}

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.request = append(s.request, option.WithBaseURL(url)) }
}

// WithOrganization bills requests to an OpenAI organization.
func WithOrganization(org string) Option {
	return func(s *settings) { s.request = append(s.request, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request, retries included.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.request = append(s.request, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// WithMaxRetries sets how often the SDK retries 429 and 5xx answers. The
// SDK default is 2; turns already run under the router's deadline.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.request = append(s.request, option.WithMaxRetries(n)) }
}

// WithUser tags requests with an end-user identifier for abuse monitoring.
func WithUser(user string) Option {
	return func(s *settings) { s.user = user }
}

// New builds a provider for model, or [DefaultModel] when model is empty.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	var s settings
	for _, o := range opts {
		o(&s)
	}
	client := oai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, s.request...)...)
	return &Provider{client: client, model: model, user: s.user}, nil
}

// Model returns the configured chat model.
func (p *Provider) Model() string { return p.model }

// Complete sends one non-streaming chat completion.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai: chat completion: status %d: %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]
	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	conv, err := req.Conversation()
	if err != nil {
		return oai.ChatCompletionNewParams{}, err
	}
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(conv))
	for _, m := range conv {
		msg, err := toParam(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, msg)
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if p.user != "" {
		params.User = param.NewOpt(p.user)
	}
	return params, nil
}

func toParam(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown message role %q", m.Role)
}

var _ llm.Provider = (*Provider)(nil)
