package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/yifei-he/WebSTAR/internal/action"
	"github.com/yifei-he/WebSTAR/internal/agent"
	"github.com/yifei-he/WebSTAR/internal/ai"
	"github.com/yifei-he/WebSTAR/internal/coords"
	"github.com/yifei-he/WebSTAR/internal/executor"
	"github.com/yifei-he/WebSTAR/internal/retry"
	"github.com/yifei-he/WebSTAR/internal/trajectory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// answerProvider finishes immediately, except for questions containing
// "loop", which it never finishes.
type answerProvider struct{}

func (answerProvider) Name() string { return "answer" }

func (answerProvider) Complete(_ context.Context, req *ai.Request) (*ai.Response, error) {
	first := req.Turns[0].TextContent()
	if strings.Contains(first, "loop") {
		return &ai.Response{ID: "r", Text: "Action: wait()"}, nil
	}
	return &ai.Response{ID: "r", Text: "Thought: easy\nAction: finished(content='42')"}, nil
}

type stubEnv struct {
	panicOn action.Kind
}

func (e *stubEnv) Observe(context.Context) (*executor.Observation, error) {
	return &executor.Observation{Screenshot: []byte("png")}, nil
}

func (e *stubEnv) Execute(_ context.Context, a action.Action) (*executor.Observation, error) {
	if a.Kind == e.panicOn {
		panic("renderer crashed")
	}
	return &executor.Observation{Screenshot: []byte("png")}, nil
}

func agentConfig() agent.Config {
	return agent.Config{
		MaxIterations: 3,
		MaxImages:     1,
		Dialect:       "dsl",
		Viewport:      coords.Viewport{Width: 1024, Height: 768},
		Retry:         retry.Policy{MaxAttempts: 1, Sleep: func(context.Context, time.Duration) error { return nil }},
	}
}

type openRecorder struct {
	mu        sync.Mutex
	closed    int
	downloads []string
	active    atomic.Int32
	maxActive atomic.Int32
}

func (o *openRecorder) open(panicFor string, failFor string) OpenFunc {
	return func(_ context.Context, task agent.Task, downloadDir string, _ *zap.Logger) (*Workspace, error) {
		if task.ID == failFor {
			return nil, errors.New("chrome not found")
		}
		o.mu.Lock()
		o.downloads = append(o.downloads, downloadDir)
		o.mu.Unlock()

		n := o.active.Add(1)
		for {
			m := o.maxActive.Load()
			if n <= m || o.maxActive.CompareAndSwap(m, n) {
				break
			}
		}

		env := &stubEnv{}
		if task.ID == panicFor {
			env.panicOn = action.KindFinished
		}
		return &Workspace{
			Env: env,
			Close: func() {
				o.active.Add(-1)
				o.mu.Lock()
				o.closed++
				o.mu.Unlock()
			},
		}, nil
	}
}

func tasks() []agent.Task {
	return []agent.Task{
		{ID: "a", Web: "https://a.example", Question: "q a"},
		{ID: "b", Web: "https://b.example", Question: "please loop forever"},
		{ID: "c", Web: "https://c.example", Question: "q c"},
		{ID: "d", Web: "https://d.example", Question: "q d"},
	}
}

func TestRunner_IsolatesFailures(t *testing.T) {
	out := t.TempDir()
	downloads := t.TempDir()
	o := &openRecorder{}

	// A stale file from an earlier run must be gone before the task starts.
	stale := filepath.Join(downloads, "taska-0")
	require.NoError(t, os.MkdirAll(stale, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "old.pdf"), []byte("x"), 0644))

	r := New(Options{OutputDir: out, DownloadDir: downloads, Workers: 2, Trials: 1, Agent: agentConfig()},
		answerProvider{}, o.open("c", "d"), nil)

	results := r.Run(context.Background(), tasks())
	require.Len(t, results, 4)

	byID := map[string]Result{}
	for _, res := range results {
		byID[res.Job.Task.ID] = res
	}

	assert.NoError(t, byID["a"].Err)
	assert.Equal(t, agent.StatusDone, byID["a"].Outcome.Status)
	assert.Equal(t, "42", byID["a"].Outcome.Answer)

	assert.NoError(t, byID["b"].Err)
	assert.Equal(t, agent.StatusTimedOut, byID["b"].Outcome.Status)
	assert.Equal(t, agent.ReasonTimeout, byID["b"].Outcome.Reason)

	require.Error(t, byID["c"].Err)
	assert.Contains(t, byID["c"].Err.Error(), "panic: renderer crashed")

	require.Error(t, byID["d"].Err)
	assert.Contains(t, byID["d"].Err.Error(), "chrome not found")

	assert.Equal(t, Summary{Total: 4, Done: 1, TimedOut: 1, Failed: 2}, Summarize(results))

	// Every opened browser was closed, and the pool bound held.
	assert.Equal(t, 3, o.closed)
	assert.LessOrEqual(t, o.maxActive.Load(), int32(2))

	_, err := os.Stat(filepath.Join(stale, "old.pdf"))
	assert.True(t, os.IsNotExist(err))

	// Each job leaves its artifacts, including failed ones.
	for _, id := range []string{"a", "b", "c", "d"} {
		dir := filepath.Join(out, "task"+id+"-0")
		res, err := trajectory.LoadResult(dir)
		require.NoError(t, err, id)
		assert.Equal(t, id, res.TaskID)
		_, err = os.Stat(filepath.Join(dir, "agent.log"))
		assert.NoError(t, err, id)
	}
	_, err = os.Stat(filepath.Join(out, "taska-0", trajectory.ScreenshotFile(0)))
	assert.NoError(t, err)

	steps, err := trajectory.LoadSteps(filepath.Join(out, "taskb-0"))
	require.NoError(t, err)
	assert.Len(t, steps, 3)

	c, err := trajectory.LoadResult(filepath.Join(out, "taskc-0"))
	require.NoError(t, err)
	assert.Contains(t, c.Error, "renderer crashed")
}

func TestRunner_Trials(t *testing.T) {
	r := New(Options{OutputDir: t.TempDir(), DownloadDir: t.TempDir(), Workers: 3, Trials: 2, Agent: agentConfig()},
		answerProvider{}, (&openRecorder{}).open("", ""), nil)

	jobs := r.Jobs(tasks()[:2])
	require.Len(t, jobs, 4)
	assert.Equal(t, "taska-0", jobs[0].Name())
	assert.Equal(t, "taskb-0", jobs[1].Name())
	assert.Equal(t, "taska-1", jobs[2].Name())

	results := r.Run(context.Background(), tasks()[:1])
	require.Len(t, results, 2)
	for _, res := range results {
		assert.NoError(t, res.Err)
		assert.Equal(t, agent.StatusDone, res.Outcome.Status)
	}
}

func TestRunner_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := &openRecorder{}
	r := New(Options{OutputDir: t.TempDir(), DownloadDir: t.TempDir(), Workers: 2, Agent: agentConfig()},
		answerProvider{}, o.open("", ""), nil)

	results := r.Run(ctx, tasks())
	for _, res := range results {
		assert.ErrorIs(t, res.Err, ErrSkipped)
	}
	assert.Equal(t, Summary{Total: 4, Skipped: 4}, Summarize(results))
	assert.Empty(t, o.downloads)
}

func TestLoadTasks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"web_name": "Allrecipes", "id": "Allrecipes--0", "ques": "Provide a recipe for vegetarian lasagna.", "web": "https://www.allrecipes.com/"}

{"web_name": "Amazon", "id": "Amazon--1", "ques": "Find a kids' tablet.", "web": "https://www.amazon.com/"}
`), 0644))

	got, err := LoadTasks(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, agent.Task{ID: "Allrecipes--0", WebName: "Allrecipes", Web: "https://www.allrecipes.com/", Question: "Provide a recipe for vegetarian lasagna."}, got[0])
	assert.Equal(t, "Amazon--1", got[1].ID)
}

func TestLoadTasks_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
		return p
	}

	_, err := LoadTasks(filepath.Join(dir, "missing.jsonl"))
	assert.Error(t, err)

	_, err = LoadTasks(write("bad.jsonl", "{not json}\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = LoadTasks(write("incomplete.jsonl", `{"id": "x"}`+"\n"))
	assert.ErrorContains(t, err, "needs id")

	_, err = LoadTasks(write("dup.jsonl", `{"id": "x", "web": "w", "ques": "q"}`+"\n"+`{"id": "x", "web": "w", "ques": "q"}`+"\n"))
	assert.ErrorContains(t, err, "duplicate")
}
