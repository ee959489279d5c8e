package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int64         `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float64       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`
}

// Client talks to an OpenRouter-compatible chat completion endpoint.
// It satisfies contract.CompletionService.
type Client struct {
	sdk         *openaisdk.Client
	model       string
	maxTokens   int64
	temperature float64
	timeout     time.Duration
}

var _ contractx.CompletionService = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openrouter api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("openrouter model is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if trimmed := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	// OpenRouter attribution headers
	if cfg.SiteURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.SiteURL))
	}
	if cfg.SiteName != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.SiteName))
	}

	sdk := openaisdk.NewClient(opts...)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		sdk:         &sdk,
		model:       model,
		maxTokens:   cfg.MaxCompletionToken,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// WithModel returns a copy of the client bound to a different model.
// Used to give each agent its own completion model without a second
// transport.
func (c *Client) WithModel(model string, temperature float64) *Client {
	model = strings.TrimSpace(model)
	clone := *c
	if model != "" {
		clone.model = model
	}
	if temperature >= 0 {
		clone.temperature = temperature
	}
	return &clone
}

func (c *Client) Complete(ctx context.Context, req contractx.CompletionRequest) (contractx.Completion, error) {
	if strings.TrimSpace(req.UserMessage) == "" {
		return contractx.Completion{}, fmt.Errorf("%w: user message is required", contractx.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if sys := strings.TrimSpace(req.SystemPrompt); sys != "" {
		messages = append(messages, openaisdk.SystemMessage(sys))
	}
	for _, turn := range req.History {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(turn.Role)) {
		case "assistant":
			messages = append(messages, openaisdk.AssistantMessage(content))
		default:
			messages = append(messages, openaisdk.UserMessage(content))
		}
	}
	messages = append(messages, openaisdk.UserMessage(req.UserMessage))

	params := openaisdk.ChatCompletionNewParams{
		Model:       openaisdk.ChatModel(c.model),
		Messages:    messages,
		Temperature: openaisdk.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openaisdk.Int(c.maxTokens)
	}
	if len(req.Tools) > 0 {
		params.Tools = toSDKTools(req.Tools)
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return contractx.Completion{}, fmt.Errorf("%w: completion call: %v", contractx.ErrUpstreamTimeout, err)
		}
		return contractx.Completion{}, fmt.Errorf("%w: %v", contractx.ErrCompletionInvoke, err)
	}
	if len(resp.Choices) == 0 {
		return contractx.Completion{}, fmt.Errorf("%w: completion returned no choices", contractx.ErrSchemaViolation)
	}

	msg := resp.Choices[0].Message
	invocations, err := toInvocations(msg.ToolCalls)
	if err != nil {
		return contractx.Completion{}, err
	}

	return contractx.Completion{
		Text:            strings.TrimSpace(msg.Content),
		ToolInvocations: invocations,
	}, nil
}

func toSDKTools(specs []contractx.ToolSpec) []openaisdk.ChatCompletionToolParam {
	tools := make([]openaisdk.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		properties := map[string]any{}
		required := []string{}
		for name, p := range spec.Parameters {
			properties[name] = map[string]any{
				"type":        p.Type,
				"description": p.Description,
			}
			if p.Required {
				required = append(required, name)
			}
		}
		tools = append(tools, openaisdk.ChatCompletionToolParam{
			Function: openaisdk.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openaisdk.String(spec.Description),
				Parameters: openaisdk.FunctionParameters{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		})
	}
	return tools
}

func toInvocations(calls []openaisdk.ChatCompletionMessageToolCall) ([]contractx.ToolInvocation, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	invocations := make([]contractx.ToolInvocation, 0, len(calls))
	for _, call := range calls {
		tool := strings.TrimSpace(call.Function.Name)
		if tool == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}
		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, tool, err)
			}
		}
		invocations = append(invocations, contractx.ToolInvocation{Tool: tool, Args: args})
	}
	return invocations, nil
}
