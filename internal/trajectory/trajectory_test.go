package trajectory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yifei-he/WebSTAR/internal/agent"
	"github.com/yifei-he/WebSTAR/internal/executor"
)

var _ agent.Recorder = (*Writer)(nil)

func TestWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "task1-0")
	w, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, w.Screenshot(0, []byte("png0")))
	require.NoError(t, w.Screenshot(1, []byte("png1")))
	w.ModelOutput("Thought: go\nAction: click(point='<point>1 2</point>')")
	w.Message("assistant", agent.MessageThought, "go")
	w.Message("assistant", agent.MessageAction, "click(point='<point>1 2</point>')")
	w.Step(agent.Step{Iteration: 0, Index: 0, Action: "click(point='<point>1 2</point>')", Cursor: &executor.CursorPosition{X: 1, Y: 2, Click: true}, Screenshot: 1})

	res := &agent.Result{TaskID: "1", Status: agent.StatusTimedOut, Reason: agent.ReasonTimeout, Iterations: 1}
	require.NoError(t, w.Finish(res))

	data, err := os.ReadFile(filepath.Join(dir, "screenshot1.png"))
	require.NoError(t, err)
	assert.Equal(t, "png1", string(data))

	var outputs []string
	readJSON(t, filepath.Join(dir, OutputFile), &outputs)
	assert.Len(t, outputs, 1)

	var messages []map[string]any
	readJSON(t, filepath.Join(dir, MessagesFile), &messages)
	require.Len(t, messages, 2)
	assert.Equal(t, "assistant", messages[1]["author"])
	assert.Equal(t, "action", messages[1]["message_type"])
	assert.Equal(t, map[string]any{"content_type": "text", "parts": []any{"click(point='<point>1 2</point>')"}}, messages[1]["content"])

	steps, err := LoadSteps(dir)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 1, steps[0].Cursor.X)
	assert.True(t, steps[0].Cursor.Click)

	got, err := LoadResult(dir)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusTimedOut, got.Status)
	assert.Equal(t, agent.ReasonTimeout, got.Reason)
}

func TestWriter_EmptyTaskWritesArrays(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, w.Finish(&agent.Result{TaskID: "2", Status: agent.StatusAborted, Reason: agent.ReasonFatalRequest}))

	for _, name := range []string{OutputFile, MessagesFile, StepsFile} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, "[]", string(data), name)
	}
}

func TestLoadSteps_Missing(t *testing.T) {
	_, err := LoadSteps(t.TempDir())
	assert.Error(t, err)
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}
