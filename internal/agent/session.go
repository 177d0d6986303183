package agent

import (
	"time"

	"github.com/yifei-he/WebSTAR/internal/ai"
	"github.com/yifei-he/WebSTAR/internal/executor"
	"github.com/yifei-he/WebSTAR/internal/transcript"
)

// State is a position in the task loop.
type State string

const (
	StateInit       State = "init"
	StateAwaitModel State = "await_model"
	StateExecuting  State = "executing"
	StateObserving  State = "observing"
	StateDone       State = "done"
	StateAborted    State = "aborted"
)

// Status is the outcome of a task.
type Status string

const (
	StatusPending  Status = "pending"
	StatusDone     Status = "done"
	StatusAborted  Status = "aborted"
	StatusTimedOut Status = "timed-out"
)

// Reason explains an aborted task.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonRetryExhausted Reason = "retry-exhausted"
	ReasonFatalRequest   Reason = "fatal-request"
	ReasonTimeout        Reason = "timeout"
	ReasonCancelled      Reason = "cancelled"
	ReasonBrowser        Reason = "browser-failure"
)

// MessageType labels an entry of the interaction log.
type MessageType string

const (
	MessageThought     MessageType = "thought"
	MessageAction      MessageType = "action"
	MessageFinalAnswer MessageType = "final_answer"
)

// Task is one question to answer on one site.
type Task struct {
	ID       string `json:"id"`
	WebName  string `json:"web_name"`
	Web      string `json:"web"`
	Question string `json:"ques"`
}

// Step is one entry of the executed-action log.
type Step struct {
	Iteration  int                      `json:"iteration"`
	Index      int                      `json:"index"`
	Action     string                   `json:"action"`
	Thought    string                   `json:"thought,omitempty"`
	Error      string                   `json:"error,omitempty"`
	URL        string                   `json:"url,omitempty"`
	Cursor     *executor.CursorPosition `json:"cursor,omitempty"`
	Screenshot int                      `json:"screenshot"`
}

// Result summarises a finished task.
type Result struct {
	TaskID     string        `json:"task_id"`
	Trial      int           `json:"trial"`
	Status     Status        `json:"status"`
	Reason     Reason        `json:"reason,omitempty"`
	Iterations int           `json:"iterations"`
	Retries    int           `json:"retries"`
	Answer     string        `json:"answer,omitempty"`
	Usage      ai.Usage      `json:"usage"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// Session is the mutable state of one task run. It is owned by a single
// goroutine.
type Session struct {
	Task           Task
	Trial          int
	State          State
	Status         Status
	Reason         Reason
	Iteration      int
	Retries        int
	LastResponseID string
	PendingCalls   []ai.ComputerCall
	Answer         string
	Usage          ai.Usage
	Transcript     *transcript.Transcript
	Steps          []Step
}

func newSession(task Task, trial int) *Session {
	return &Session{
		Task:       task,
		Trial:      trial,
		State:      StateInit,
		Status:     StatusPending,
		Transcript: transcript.New(),
	}
}

// Result snapshots the session outcome.
func (s *Session) Result() *Result {
	return &Result{
		TaskID:     s.Task.ID,
		Trial:      s.Trial,
		Status:     s.Status,
		Reason:     s.Reason,
		Iterations: s.Iteration,
		Retries:    s.Retries,
		Answer:     s.Answer,
		Usage:      s.Usage,
	}
}
