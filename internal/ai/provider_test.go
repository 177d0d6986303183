package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yifei-he/WebSTAR/internal/coords"
	"github.com/yifei-he/WebSTAR/internal/retry"
	"github.com/yifei-he/WebSTAR/internal/transcript"
)

func sampleTurns() []transcript.Turn {
	tr := transcript.New()
	tr.Append(transcript.RoleUser, transcript.Text("Now given a task: find docs"), transcript.PNG([]byte{0x89, 'P', 'N', 'G'}))
	tr.Append(transcript.RoleAssistant, transcript.Text("Thought: open it\nAction: click(point='<point>1 2</point>')"))
	tr.Append(transcript.RoleUser, transcript.Text("Observation: please analyze the attached screenshot"))
	return tr.Turns()
}

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{0, ErrNetwork},
		{429, ErrRateLimited},
		{500, ErrServer},
		{502, ErrServer},
		{503, ErrServer},
		{408, ErrServer},
		{400, ErrBadRequest},
		{401, ErrBadRequest},
		{403, ErrBadRequest},
		{404, ErrBadRequest},
		{422, ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			err := NewServiceError("test", tt.code, errors.New("boom"))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, retry.Transient, Classify(NewServiceError("x", 429, errors.New("slow"))))
	assert.Equal(t, retry.Transient, Classify(NewServiceError("x", 503, errors.New("down"))))
	assert.Equal(t, retry.Transient, Classify(NewServiceError("x", 0, errors.New("reset"))))
	assert.Equal(t, retry.Transient, Classify(&ServiceError{Provider: "x", Err: errors.New("no text"), kind: ErrEmptyResponse}))
	assert.Equal(t, retry.Fatal, Classify(NewServiceError("x", 401, errors.New("bad key"))))
	assert.Equal(t, retry.Fatal, Classify(fmt.Errorf("call: %w", context.Canceled)))
	assert.Equal(t, retry.Transient, Classify(errors.New("something else")))
}

func TestServiceError_Retryable(t *testing.T) {
	assert.True(t, NewServiceError("x", 500, errors.New("e")).Retryable())
	assert.False(t, NewServiceError("x", 422, errors.New("e")).Retryable())
	assert.Contains(t, NewServiceError("openai", 422, errors.New("e")).Error(), "status 422")
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider("gemini", Options{})
	assert.Error(t, err)

	p, err := NewProvider("vllm", Options{BaseURL: "http://localhost:8000/v1"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = NewProvider("claude", Options{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "claude", p.Name())
}

func TestOpenAIMessages(t *testing.T) {
	msgs := openAIMessages("be brief", sampleTurns())
	require.Len(t, msgs, 4)

	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "be brief", msgs[0].Content)

	assert.Equal(t, "user", msgs[1].Role)
	assert.Empty(t, msgs[1].Content)
	require.Len(t, msgs[1].MultiContent, 2)
	assert.Equal(t, "Now given a task: find docs", msgs[1].MultiContent[0].Text)
	require.NotNil(t, msgs[1].MultiContent[1].ImageURL)
	assert.True(t, strings.HasPrefix(msgs[1].MultiContent[1].ImageURL.URL, "data:image/png;base64,"))

	assert.Equal(t, "assistant", msgs[2].Role)
	assert.Contains(t, msgs[2].Content, "Action: click")
	assert.Nil(t, msgs[2].MultiContent)
}

func TestClaudeMessages(t *testing.T) {
	turns := []transcript.Turn{
		{Role: transcript.RoleSystem, Blocks: []transcript.Block{transcript.Text("extra rules")}},
	}
	turns = append(turns, sampleTurns()...)
	// A second user turn in a row is merged into the previous one.
	turns = append(turns, transcript.Turn{Role: transcript.RoleUser, Blocks: []transcript.Block{transcript.Text("again")}})

	system, msgs := claudeMessages("be brief", turns)
	assert.Equal(t, "be brief\n\nextra rules", system)
	require.Len(t, msgs, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Len(t, msgs[0].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	assert.Len(t, msgs[2].Content, 2)
}

func TestOpenAIProvider_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer EMPTY", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-7","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Thought: done\nAction: finished(content='42')"},"finish_reason":"stop"}],"usage":{"prompt_tokens":120,"completion_tokens":9,"total_tokens":129}}`)
	}))
	defer srv.Close()

	t.Setenv("WEBSTAR_OPENAI_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	p, err := NewOpenAIProvider(Options{BaseURL: srv.URL + "/v1", Model: "ui-tars", MaxTokens: 1000, Seed: 7})
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), &Request{System: "sys", Turns: sampleTurns()})
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-7", resp.ID)
	assert.Contains(t, resp.Text, "finished(content='42')")
	assert.Equal(t, Usage{InputTokens: 120, OutputTokens: 9}, resp.Usage)

	assert.Equal(t, "ui-tars", got["model"])
	assert.EqualValues(t, 7, got["seed"])
	assert.Len(t, got["messages"], 4)
}

func TestOpenAIProvider_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", 429, `{"error":{"message":"slow down","type":"rate_limit_error"}}`, ErrRateLimited},
		{"server", 503, `{"error":{"message":"overloaded","type":"server_error"}}`, ErrServer},
		{"bad request", 400, `{"error":{"message":"bad image","type":"invalid_request_error"}}`, ErrBadRequest},
		{"empty", 200, `{"id":"x","choices":[]}`, ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			p, err := NewOpenAIProvider(Options{BaseURL: srv.URL, APIKey: "k", MaxTokens: 10})
			require.NoError(t, err)

			_, err = p.Complete(context.Background(), &Request{Turns: sampleTurns()})
			var se *ServiceError
			require.ErrorAs(t, err, &se)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, "openai", se.Provider)
		})
	}
}

func TestClaudeProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		assert.Equal(t, "sk-test", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_01","type":"message","role":"assistant","model":"claude-sonnet-4-20250514","content":[{"type":"text","text":"Action: wait()"}],"stop_reason":"end_turn","usage":{"input_tokens":50,"output_tokens":4}}`)
	}))
	defer srv.Close()

	p, err := NewClaudeProvider(Options{APIKey: "sk-test", BaseURL: srv.URL, MaxTokens: 100})
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), &Request{System: "sys", Turns: sampleTurns()})
	require.NoError(t, err)
	assert.Equal(t, "msg_01", resp.ID)
	assert.Equal(t, "Action: wait()", resp.Text)
	assert.Equal(t, Usage{InputTokens: 50, OutputTokens: 4}, resp.Usage)
}

func TestClaudeProvider_BadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"image too large"}}`)
	}))
	defer srv.Close()

	p, err := NewClaudeProvider(Options{APIKey: "sk-test", BaseURL: srv.URL, MaxTokens: 100})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), &Request{Turns: sampleTurns()})
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, retry.Fatal, Classify(err))
}

func TestSystemPrompt(t *testing.T) {
	vp := coords.Viewport{Width: 1024, Height: 768}

	p, err := SystemPrompt("dsl", vp, coords.Pixel)
	require.NoError(t, err)
	assert.Contains(t, p, "(1023, 767)")
	assert.Contains(t, p, "left_double(point='<point>x1 y1</point>')")
	assert.Contains(t, p, "Action: ...")

	p, err = SystemPrompt("dsl", vp, coords.Permille)
	require.NoError(t, err)
	assert.Contains(t, p, "between 0 and 1000")

	p, err = SystemPrompt("record", vp, coords.Pixel)
	require.NoError(t, err)
	assert.Contains(t, p, `"type": "keypress"`)

	p, err = SystemPrompt("legacy", vp, coords.Pixel)
	require.NoError(t, err)
	assert.Contains(t, p, "fractions between 0 and 1")
	assert.Contains(t, p, "pyautogui.click")

	_, err = SystemPrompt("morse", vp, coords.Pixel)
	assert.Error(t, err)
}

func TestObservationText(t *testing.T) {
	assert.Equal(t,
		"Observation: please analyze the attached screenshot and give the Thought and Action. ",
		ObservationText("", ""))
	assert.Equal(t,
		"Observation: "+RevisePrompt+" please analyze the attached screenshot and give the Thought and Action. ",
		ObservationText(RevisePrompt, ""))

	withTree := ObservationText("", "[RootWebArea] Home")
	assert.True(t, strings.HasSuffix(withTree, "\n[RootWebArea] Home"))

	assert.Equal(t, "Now given a task: Find a recipe  Please interact with https://allrecipes.com and get the answer. \n",
		TaskInstruction("Find a recipe", "https://allrecipes.com"))
}
