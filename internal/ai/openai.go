package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/yifei-he/WebSTAR/internal/transcript"
)

// OpenAIProvider implements the Provider interface using the OpenAI chat API
// or any server that speaks it.
type OpenAIProvider struct {
	client *openai.Client
	opts   Options
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(opts Options) (*OpenAIProvider, error) {
	key := apiKey(opts.APIKey, "WEBSTAR_OPENAI_KEY", "OPENAI_API_KEY")
	if key == "" {
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("WEBSTAR_OPENAI_KEY or OPENAI_API_KEY environment variable required")
		}
		// Self-hosted servers accept any token.
		key = "EMPTY"
	}

	cfg := openai.DefaultConfig(key)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	if opts.Model == "" {
		opts.Model = openai.GPT4o
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete sends the system prompt and transcript as one chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	creq := openai.ChatCompletionRequest{
		Model:       p.opts.Model,
		Messages:    openAIMessages(req.System, req.Turns),
		MaxTokens:   p.opts.MaxTokens,
		Temperature: float32(p.opts.Temperature),
	}
	if p.opts.Seed != 0 {
		seed := p.opts.Seed
		creq.Seed = &seed
	}

	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, NewServiceError(p.Name(), openAIStatus(err), err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &ServiceError{Provider: p.Name(), Err: errors.New("no content in reply"), kind: ErrEmptyResponse}
	}

	return &Response{
		ID:   resp.ID,
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func openAIRole(r transcript.Role) string {
	switch r {
	case transcript.RoleSystem:
		return openai.ChatMessageRoleSystem
	case transcript.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

// openAIMessages converts turns to chat messages. Text-only turns use plain
// content; turns with images use multi-part content with data URLs.
func openAIMessages(system string, turns []transcript.Turn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, t := range turns {
		msg := openai.ChatCompletionMessage{Role: openAIRole(t.Role)}
		if t.Images() == 0 {
			msg.Content = t.TextContent()
			msgs = append(msgs, msg)
			continue
		}
		for _, b := range t.Blocks {
			switch b.Kind {
			case transcript.TextBlock:
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: b.Text,
				})
			case transcript.ImageBlock:
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    b.DataURL(),
						Detail: openai.ImageURLDetailAuto,
					},
				})
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
