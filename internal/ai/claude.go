package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/yifei-he/WebSTAR/internal/transcript"
)

// ClaudeProvider implements the Provider interface using Anthropic's Claude
type ClaudeProvider struct {
	client *anthropic.Client
	opts   Options
}

// NewClaudeProvider creates a new Claude provider
func NewClaudeProvider(opts Options) (*ClaudeProvider, error) {
	key := apiKey(opts.APIKey, "WEBSTAR_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("WEBSTAR_ANTHROPIC_KEY or ANTHROPIC_API_KEY environment variable required")
	}

	// Retries belong to the agent's policy, not the SDK.
	clientOpts := []option.RequestOption{option.WithAPIKey(key), option.WithMaxRetries(0)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := anthropic.NewClient(clientOpts...)

	if opts.Model == "" {
		opts.Model = string(anthropic.ModelClaudeSonnet4_20250514)
	}

	return &ClaudeProvider{
		client: &client,
		opts:   opts,
	}, nil
}

func (p *ClaudeProvider) Name() string { return "claude" }

// Complete sends the transcript as a Messages API call.
func (p *ClaudeProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	system, msgs := claudeMessages(req.System, req.Turns)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.opts.Model),
		MaxTokens:   int64(p.opts.MaxTokens),
		Messages:    msgs,
		Temperature: anthropic.Float(p.opts.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		code := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			code = apiErr.StatusCode
		}
		return nil, NewServiceError(p.Name(), code, err)
	}

	// Extract text content
	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return nil, &ServiceError{Provider: p.Name(), Err: errors.New("no text in reply"), kind: ErrEmptyResponse}
	}

	return &Response{
		ID:   resp.ID,
		Text: strings.Join(parts, "\n"),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// claudeMessages moves system turns into the system prompt and merges
// consecutive turns of the same role, which the Messages API rejects.
func claudeMessages(system string, turns []transcript.Turn) (string, []anthropic.MessageParam) {
	sys := []string{}
	if system != "" {
		sys = append(sys, system)
	}

	type group struct {
		role   transcript.Role
		blocks []anthropic.ContentBlockParamUnion
	}
	var groups []group

	for _, t := range turns {
		if t.Role == transcript.RoleSystem {
			if s := t.TextContent(); s != "" {
				sys = append(sys, s)
			}
			continue
		}
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range t.Blocks {
			switch b.Kind {
			case transcript.TextBlock:
				if b.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case transcript.ImageBlock:
				blocks = append(blocks, anthropic.NewImageBlockBase64(b.MediaType, b.Base64()))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if n := len(groups); n > 0 && groups[n-1].role == t.Role {
			groups[n-1].blocks = append(groups[n-1].blocks, blocks...)
			continue
		}
		groups = append(groups, group{role: t.Role, blocks: blocks})
	}

	msgs := make([]anthropic.MessageParam, 0, len(groups))
	for _, g := range groups {
		if g.role == transcript.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(g.blocks...))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(g.blocks...))
		}
	}
	return strings.Join(sys, "\n\n"), msgs
}
