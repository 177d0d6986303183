package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"github.com/yifei-he/WebSTAR/internal/transcript"
)

// ComputerUseProvider drives OpenAI's computer-use model through the
// Responses API. The conversation is kept server-side: once a reply exists
// only the newest turn is sent, chained by PreviousResponseID, and every
// pending computer call is answered with the newest screenshot.
//
// Replies are rewritten as record-dialect text, so the agent must run with
// the record dialect and pixel coordinates.
type ComputerUseProvider struct {
	client openai.Client
	opts   Options
}

// NewComputerUseProvider creates a computer-use provider. DisplayWidth and
// DisplayHeight must match the browser viewport.
func NewComputerUseProvider(opts Options) (*ComputerUseProvider, error) {
	key := apiKey(opts.APIKey, "WEBSTAR_OPENAI_KEY", "OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("WEBSTAR_OPENAI_KEY or OPENAI_API_KEY environment variable required")
	}
	if opts.DisplayWidth <= 0 || opts.DisplayHeight <= 0 {
		return nil, fmt.Errorf("computer use needs the display size, got %dx%d", opts.DisplayWidth, opts.DisplayHeight)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(key), option.WithMaxRetries(0)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	if opts.Model == "" {
		opts.Model = string(shared.ResponsesModelComputerUsePreview)
	}

	return &ComputerUseProvider{
		client: openai.NewClient(clientOpts...),
		opts:   opts,
	}, nil
}

func (p *ComputerUseProvider) Name() string { return "computer-use" }

// Complete sends one Responses API call with the computer tool attached.
func (p *ComputerUseProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	input, err := computerUseInput(req)
	if err != nil {
		return nil, &ServiceError{Provider: p.Name(), Err: err, kind: ErrBadRequest}
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(p.opts.Model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: input},
		Tools: []responses.ToolUnionParam{{
			OfComputerUsePreview: &responses.ComputerUsePreviewToolParam{
				DisplayWidth:  int64(p.opts.DisplayWidth),
				DisplayHeight: int64(p.opts.DisplayHeight),
				Environment:   responses.ComputerUsePreviewToolEnvironmentBrowser,
			},
		}},
		Reasoning:       shared.ReasoningParam{Summary: shared.ReasoningSummaryConcise},
		Truncation:      responses.ResponseNewParamsTruncationAuto,
		Temperature:     openai.Float(p.opts.Temperature),
		MaxOutputTokens: openai.Int(int64(p.opts.MaxTokens)),
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}
	if req.PreviousResponseID != "" {
		params.PreviousResponseID = openai.String(req.PreviousResponseID)
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		code := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			code = apiErr.StatusCode
		}
		return nil, NewServiceError(p.Name(), code, err)
	}

	out, err := computerUseReply(resp)
	if err != nil {
		return nil, &ServiceError{Provider: p.Name(), Err: err, kind: ErrEmptyResponse}
	}
	out.ID = resp.ID
	out.Usage = Usage{InputTokens: int(resp.Usage.InputTokens), OutputTokens: int(resp.Usage.OutputTokens)}
	return out, nil
}

// computerUseInput builds the input items. Without a previous response the
// whole transcript is sent; otherwise only the newest turn, with its
// screenshot answering each pending call.
func computerUseInput(req *Request) (responses.ResponseInputParam, error) {
	if req.PreviousResponseID == "" {
		items := make(responses.ResponseInputParam, 0, len(req.Turns))
		for _, t := range req.Turns {
			items = append(items, computerUseMessage(t))
		}
		if len(items) == 0 {
			return nil, errors.New("empty transcript")
		}
		return items, nil
	}

	if len(req.Turns) == 0 {
		return nil, errors.New("no turn to continue with")
	}
	turn := req.Turns[len(req.Turns)-1]
	if len(req.Calls) == 0 {
		return responses.ResponseInputParam{computerUseMessage(turn)}, nil
	}

	shot := lastImage(turn)
	if shot == "" {
		return nil, fmt.Errorf("computer call %s has no screenshot to answer with", req.Calls[0].ID)
	}
	items := make(responses.ResponseInputParam, 0, len(req.Calls)+1)
	for _, c := range req.Calls {
		item := responses.ResponseInputItemParamOfComputerCallOutput(c.ID,
			responses.ResponseComputerToolCallOutputScreenshotParam{ImageURL: openai.String(shot)})
		for _, sc := range c.SafetyChecks {
			ack := responses.ResponseInputItemComputerCallOutputAcknowledgedSafetyCheckParam{ID: sc.ID}
			if sc.Code != "" {
				ack.Code = openai.String(sc.Code)
			}
			if sc.Message != "" {
				ack.Message = openai.String(sc.Message)
			}
			item.OfComputerCallOutput.AcknowledgedSafetyChecks = append(item.OfComputerCallOutput.AcknowledgedSafetyChecks, ack)
		}
		items = append(items, item)
	}
	if text := strings.TrimSpace(turn.TextContent()); text != "" {
		items = append(items, responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleUser))
	}
	return items, nil
}

func computerUseMessage(t transcript.Turn) responses.ResponseInputItemUnionParam {
	if t.Role == transcript.RoleAssistant {
		return responses.ResponseInputItemParamOfMessage(t.TextContent(), responses.EasyInputMessageRoleAssistant)
	}
	content := make(responses.ResponseInputMessageContentListParam, 0, len(t.Blocks))
	for _, b := range t.Blocks {
		switch b.Kind {
		case transcript.TextBlock:
			content = append(content, responses.ResponseInputContentParamOfInputText(b.Text))
		case transcript.ImageBlock:
			content = append(content, responses.ResponseInputContentUnionParam{
				OfInputImage: &responses.ResponseInputImageParam{
					Detail:   responses.ResponseInputImageDetailAuto,
					ImageURL: openai.String(b.DataURL()),
				},
			})
		}
	}
	role := "user"
	if t.Role == transcript.RoleSystem {
		role = "system"
	}
	return responses.ResponseInputItemParamOfInputMessage(content, role)
}

func lastImage(t transcript.Turn) string {
	for i := len(t.Blocks) - 1; i >= 0; i-- {
		if t.Blocks[i].Kind == transcript.ImageBlock {
			return t.Blocks[i].DataURL()
		}
	}
	return ""
}

// computerUseReply rewrites the output items as "Thought: ...\nAction: ..."
// with record-dialect JSON. Computer calls become their action objects; a
// reply with only a message becomes a message record, which ends the task.
func computerUseReply(resp *responses.Response) (*Response, error) {
	var (
		thoughts []string
		messages []string
		actions  []string
		calls    []ComputerCall
	)
	for _, item := range resp.Output {
		switch item.Type {
		case "reasoning":
			for _, s := range item.Summary {
				if s.Text != "" {
					thoughts = append(thoughts, s.Text)
				}
			}
		case "message":
			for _, c := range item.Content {
				if c.Text != "" {
					messages = append(messages, c.Text)
				}
			}
		case "computer_call":
			call := item.AsComputerCall()
			cc := ComputerCall{ID: call.CallID}
			for _, sc := range call.PendingSafetyChecks {
				cc.SafetyChecks = append(cc.SafetyChecks, SafetyCheck{ID: sc.ID, Code: sc.Code, Message: sc.Message})
			}
			calls = append(calls, cc)
			if raw := call.Action.RawJSON(); raw != "" {
				actions = append(actions, raw)
			}
			for _, a := range call.Actions {
				actions = append(actions, a.RawJSON())
			}
		}
	}

	var act string
	switch {
	case len(actions) == 1:
		act = actions[0]
	case len(actions) > 1:
		act = "[" + strings.Join(actions, ",") + "]"
	case len(messages) > 0:
		data, err := json.Marshal(map[string]string{"type": "message", "content": strings.Join(messages, "\n")})
		if err != nil {
			return nil, err
		}
		act = string(data)
		messages = nil
	default:
		return nil, errors.New("no computer call or message in reply")
	}

	text := "Action: " + act
	if thought := strings.Join(append(thoughts, messages...), "\n"); thought != "" {
		text = "Thought: " + thought + "\n" + text
	}
	return &Response{Text: text, Calls: calls}, nil
}
