package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yifei-he/WebSTAR/internal/action"
	"github.com/yifei-he/WebSTAR/internal/coords"
	"github.com/yifei-he/WebSTAR/internal/retry"
	"github.com/yifei-he/WebSTAR/internal/transcript"
)

const computerCallReply = `{"id":"resp_1","object":"response","created_at":1,"model":"computer-use-preview","status":"completed",
"output":[
 {"type":"reasoning","id":"rs_1","summary":[{"type":"summary_text","text":"Clicking search"}]},
 {"type":"computer_call","id":"cu_1","call_id":"call_1","status":"completed","action":{"type":"click","button":"left","x":10,"y":20},
  "pending_safety_checks":[{"id":"sc_1","code":"irrelevant_domain","message":"Check the domain"}]}
],
"usage":{"input_tokens":100,"output_tokens":7,"total_tokens":107}}`

const messageReply = `{"id":"resp_2","object":"response","created_at":2,"model":"computer-use-preview","status":"completed",
"output":[{"type":"message","id":"msg_1","role":"assistant","status":"completed","content":[{"type":"output_text","text":"The price is $5","annotations":[]}]}],
"usage":{"input_tokens":20,"output_tokens":5,"total_tokens":25}}`

// responsesServer answers every call with reply and keeps the last body.
func responsesServer(t *testing.T, status int, reply string) (*httptest.Server, *map[string]any) {
	t.Helper()
	got := new(map[string]any)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func newTestComputerUse(t *testing.T, baseURL string) *ComputerUseProvider {
	t.Helper()
	p, err := NewComputerUseProvider(Options{
		APIKey:        "sk-test",
		BaseURL:       baseURL + "/v1",
		MaxTokens:     1000,
		Temperature:   1,
		DisplayWidth:  1280,
		DisplayHeight: 720,
	})
	require.NoError(t, err)
	return p
}

func TestComputerUse_FirstCallSendsTranscript(t *testing.T) {
	srv, got := responsesServer(t, http.StatusOK, computerCallReply)
	p := newTestComputerUse(t, srv.URL)

	resp, err := p.Complete(context.Background(), &Request{System: "sys", Turns: sampleTurns()})
	require.NoError(t, err)

	body := *got
	assert.Equal(t, "computer-use-preview", body["model"])
	assert.Equal(t, "auto", body["truncation"])
	assert.Equal(t, "sys", body["instructions"])
	assert.NotContains(t, body, "previous_response_id")
	assert.Equal(t, map[string]any{"summary": "concise"}, body["reasoning"])

	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, "computer_use_preview", tool["type"])
	assert.EqualValues(t, 1280, tool["display_width"])
	assert.EqualValues(t, 720, tool["display_height"])
	assert.Equal(t, "browser", tool["environment"])

	input := body["input"].([]any)
	require.Len(t, input, 3)
	first := input[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	content := first["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "input_text", content[0].(map[string]any)["type"])
	image := content[1].(map[string]any)
	assert.Equal(t, "input_image", image["type"])
	assert.True(t, strings.HasPrefix(image["image_url"].(string), "data:image/png;base64,"))
	assert.Equal(t, "assistant", input[1].(map[string]any)["role"])

	assert.Equal(t, "resp_1", resp.ID)
	assert.Equal(t, Usage{InputTokens: 100, OutputTokens: 7}, resp.Usage)
	assert.Equal(t, []ComputerCall{{
		ID:           "call_1",
		SafetyChecks: []SafetyCheck{{ID: "sc_1", Code: "irrelevant_domain", Message: "Check the domain"}},
	}}, resp.Calls)

	reply := action.SplitReply(resp.Text)
	assert.Equal(t, "Clicking search", reply.Thought)
	acts, err := action.NewRecord(coords.Pixel).Parse(reply.Action)
	require.NoError(t, err)
	assert.Equal(t, []action.Action{action.Click(10, 20)}, acts)
}

func TestComputerUse_ContinuationAnswersCall(t *testing.T) {
	srv, got := responsesServer(t, http.StatusOK, messageReply)
	p := newTestComputerUse(t, srv.URL)

	turns := sampleTurns()
	turns[len(turns)-1].Blocks = append(turns[len(turns)-1].Blocks, transcript.PNG([]byte{0x89, 'P', 'N', 'G', 2}))
	resp, err := p.Complete(context.Background(), &Request{
		Turns:              turns,
		PreviousResponseID: "resp_1",
		Calls: []ComputerCall{{
			ID:           "call_1",
			SafetyChecks: []SafetyCheck{{ID: "sc_1", Code: "irrelevant_domain", Message: "Check the domain"}},
		}},
	})
	require.NoError(t, err)

	body := *got
	assert.Equal(t, "resp_1", body["previous_response_id"])
	input := body["input"].([]any)
	require.Len(t, input, 2, "only the newest turn is sent")

	out := input[0].(map[string]any)
	assert.Equal(t, "computer_call_output", out["type"])
	assert.Equal(t, "call_1", out["call_id"])
	shot := out["output"].(map[string]any)
	assert.Equal(t, "computer_screenshot", shot["type"])
	assert.Equal(t, transcript.PNG([]byte{0x89, 'P', 'N', 'G', 2}).DataURL(), shot["image_url"])
	assert.Equal(t, []any{map[string]any{"id": "sc_1", "code": "irrelevant_domain", "message": "Check the domain"}},
		out["acknowledged_safety_checks"])

	msg := input[1].(map[string]any)
	assert.Equal(t, "user", msg["role"])
	assert.Equal(t, "Observation: please analyze the attached screenshot", msg["content"])

	assert.Empty(t, resp.Calls)
	acts, err := action.NewRecord(coords.Pixel).Parse(action.SplitReply(resp.Text).Action)
	require.NoError(t, err)
	assert.Equal(t, []action.Action{action.Finished("The price is $5")}, acts)
}

func TestComputerUse_PendingCallWithoutScreenshot(t *testing.T) {
	var hit atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hit.Store(true) }))
	defer srv.Close()
	p := newTestComputerUse(t, srv.URL)

	_, err := p.Complete(context.Background(), &Request{
		Turns:              sampleTurns(),
		PreviousResponseID: "resp_1",
		Calls:              []ComputerCall{{ID: "call_1"}},
	})
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, retry.Fatal, Classify(err))
	assert.False(t, hit.Load())
}

func TestComputerUse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", 429, `{"error":{"message":"slow down","type":"rate_limit_error"}}`, ErrRateLimited},
		{"bad request", 400, `{"error":{"message":"bad image","type":"invalid_request_error"}}`, ErrBadRequest},
		{"no output", 200, `{"id":"resp_3","output":[]}`, ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := responsesServer(t, tt.status, tt.body)
			p := newTestComputerUse(t, srv.URL)

			_, err := p.Complete(context.Background(), &Request{Turns: sampleTurns()})
			var se *ServiceError
			require.ErrorAs(t, err, &se)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, "computer-use", se.Provider)
		})
	}
}

func TestNewProvider_ComputerUse(t *testing.T) {
	_, err := NewProvider("computer-use", Options{APIKey: "sk-test"})
	assert.Error(t, err, "display size is required")

	p, err := NewProvider("operator", Options{APIKey: "sk-test", DisplayWidth: 1280, DisplayHeight: 720})
	require.NoError(t, err)
	assert.Equal(t, "computer-use", p.Name())
}
