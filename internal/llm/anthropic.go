package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/soyeahso/courier/internal/config"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	name   string
	client *anthropic.Client
	models modelTable
}

// NewAnthropicClient builds a client for the provider entry.
func NewAnthropicClient(name string, entry config.ModelProviderEntry) *AnthropicClient {
	var opts []option.RequestOption
	if key := strings.TrimSpace(entry.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if base := strings.TrimRight(entry.BaseURL, "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base+"/"))
	}
	for k, v := range entry.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	client := anthropic.NewClient(opts...)
	return &AnthropicClient{
		name:   name,
		client: &client,
		models: newModelTable(name, entry, defaultAnthropicModel),
	}
}

func (c *AnthropicClient) Name() string { return c.name }

func (c *AnthropicClient) params(req CompletionRequest) anthropic.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	var system []anthropic.TextBlockParam
	if req.System != "" {
		system = append(system, anthropic.TextBlockParam{Text: req.System})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.models.resolve(req.Model)),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

// Complete sends a non-streaming message request.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := c.client.Messages.New(ctx, c.params(req))
	if err != nil {
		return nil, c.wrapErr(err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.AsText().Text)
		}
	}
	return &CompletionResponse{
		Content:    content.String(),
		StopReason: string(resp.StopReason),
		Model:      string(resp.Model),
		Duration:   time.Since(start),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// Stream opens a streaming message request and forwards text deltas.
func (c *AnthropicClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	params := c.params(req)
	stream := c.client.Messages.NewStreaming(ctx, params)

	eventChan := make(chan StreamEvent)
	go func() {
		defer close(eventChan)
		defer stream.Close()

		start := time.Now()
		message := anthropic.Message{}
		var content strings.Builder
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				send(ctx, eventChan, StreamEvent{Type: EventError, Error: c.wrapErr(err).Error()})
				return
			}
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text == "" {
						continue
					}
					content.WriteString(delta.Text)
					if !send(ctx, eventChan, StreamEvent{Type: EventDelta, Content: delta.Text}) {
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, eventChan, StreamEvent{Type: EventError, Error: c.wrapErr(err).Error()})
			return
		}

		send(ctx, eventChan, StreamEvent{
			Type: EventDone,
			Response: &CompletionResponse{
				Content:    content.String(),
				StopReason: string(message.StopReason),
				Model:      string(params.Model),
				Duration:   time.Since(start),
				Usage: Usage{
					InputTokens:  int(message.Usage.InputTokens),
					OutputTokens: int(message.Usage.OutputTokens),
				},
			},
		})
	}()
	return eventChan, nil
}

func (c *AnthropicClient) wrapErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: c.name, Code: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return fmt.Errorf("%s: %w", c.name, err)
}
