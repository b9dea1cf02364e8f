package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/soyeahso/courier/internal/config"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	name   string
	client *openai.Client
	models modelTable
}

// NewOpenAIClient builds a client for the provider entry.
func NewOpenAIClient(name string, entry config.ModelProviderEntry) *OpenAIClient {
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

	client := openai.NewClient(opts...)
	return &OpenAIClient{
		name:   name,
		client: &client,
		models: newModelTable(name, entry, defaultOpenAIModel),
	}
}

func (c *OpenAIClient) Name() string { return c.name }

func (c *OpenAIClient) params(req CompletionRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    c.models.resolve(req.Model),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	return params
}

// Complete sends a non-streaming chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	params := c.params(req)

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, c.wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: c.name, Message: "empty choices in response"}
	}

	return &CompletionResponse{
		Content:    resp.Choices[0].Message.Content,
		StopReason: resp.Choices[0].FinishReason,
		Model:      resp.Model,
		Duration:   time.Since(start),
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// Stream opens a streaming chat completion. Deltas are forwarded as they
// arrive; the final event carries the accumulated content.
func (c *OpenAIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	params := c.params(req)
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)

	eventChan := make(chan StreamEvent)
	go func() {
		defer close(eventChan)
		defer stream.Close()

		start := time.Now()
		var content strings.Builder
		var stopReason string
		for stream.Next() {
			ck := stream.Current()
			for _, ch := range ck.Choices {
				if ch.Delta.Content != "" {
					content.WriteString(ch.Delta.Content)
					if !send(ctx, eventChan, StreamEvent{Type: EventDelta, Content: ch.Delta.Content}) {
						return
					}
				}
				if ch.FinishReason != "" {
					stopReason = ch.FinishReason
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
				StopReason: stopReason,
				Model:      params.Model,
				Duration:   time.Since(start),
			},
		})
	}()
	return eventChan, nil
}

func (c *OpenAIClient) wrapErr(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: c.name, Code: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return fmt.Errorf("%s: %w", c.name, err)
}
