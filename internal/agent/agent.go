// Package agent runs the observe, ask, act loop for a single task.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yifei-he/WebSTAR/internal/action"
	"github.com/yifei-he/WebSTAR/internal/ai"
	"github.com/yifei-he/WebSTAR/internal/coords"
	"github.com/yifei-he/WebSTAR/internal/executor"
	"github.com/yifei-he/WebSTAR/internal/retry"
	"github.com/yifei-he/WebSTAR/internal/transcript"
)

// Environment is the page the agent acts on. *executor.Executor
// implements it.
type Environment interface {
	Observe(ctx context.Context) (*executor.Observation, error)
	Execute(ctx context.Context, a action.Action) (*executor.Observation, error)
}

// Describer returns a text description of the current page.
type Describer func(ctx context.Context) (string, error)

// Recorder receives artifacts as the task progresses.
type Recorder interface {
	Screenshot(index int, png []byte) error
	ModelOutput(text string)
	Message(author string, kind MessageType, text string)
	Step(s Step)
}

// Config holds the per-run settings of the loop.
type Config struct {
	MaxIterations int
	MaxImages     int
	Dialect       string
	Scale         coords.Scale
	Viewport      coords.Viewport
	Retry         retry.Policy
	Describe      Describer // Optional page text sensor
}

// Agent drives one task to completion.
type Agent struct {
	cfg        Config
	provider   ai.Provider
	env        Environment
	rec        Recorder
	normalizer *action.Normalizer
	mapper     coords.Mapper
	system     string
	logger     *zap.Logger
}

// New creates an agent for one task. rec may be nil.
func New(cfg Config, provider ai.Provider, env Environment, rec Recorder, logger *zap.Logger) (*Agent, error) {
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", cfg.MaxIterations)
	}
	if !cfg.Viewport.Valid() {
		return nil, fmt.Errorf("invalid viewport %dx%d", cfg.Viewport.Width, cfg.Viewport.Height)
	}
	if cfg.Dialect == "" {
		cfg.Dialect = "dsl"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = nopRecorder{}
	}

	system, err := ai.SystemPrompt(cfg.Dialect, cfg.Viewport, cfg.Scale)
	if err != nil {
		return nil, err
	}

	registry := action.DefaultRegistry(cfg.Scale)
	if _, err := registry.Get(cfg.Dialect); err != nil {
		return nil, err
	}

	return &Agent{
		cfg:        cfg,
		provider:   provider,
		env:        env,
		rec:        rec,
		normalizer: action.NewNormalizer(registry, cfg.Dialect, logger),
		mapper:     coords.NewMapper(cfg.Viewport),
		system:     system,
		logger:     logger.With(zap.String("component", "agent")),
	}, nil
}

func (a *Agent) transition(s *Session, to State) {
	a.logger.Debug("State transition", zap.String("from", string(s.State)), zap.String("to", string(to)), zap.Int("iteration", s.Iteration))
	s.State = to
}

// Run executes the task until a terminal action, the iteration ceiling or
// an unrecoverable model failure. Aborts and timeouts are reported in the
// returned session, not as errors; the error is non-nil only when the page
// could not be observed at all.
func (a *Agent) Run(ctx context.Context, task Task, trial int) (*Session, error) {
	s := newSession(task, trial)
	log := a.logger.With(zap.String("task", task.ID), zap.Int("trial", trial))
	log.Info("Starting task", zap.String("web", task.Web), zap.String("question", task.Question))

	policy := a.cfg.Retry
	if policy.Classify == nil {
		policy.Classify = ai.Classify
	}
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.Retries++
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}
	retrier := retry.New(policy, log)

	// INIT
	obs, err := a.env.Observe(ctx)
	if err != nil {
		a.abort(s, ReasonBrowser)
		return s, fmt.Errorf("failed to capture initial screenshot: %w", err)
	}
	if err := a.rec.Screenshot(0, obs.Screenshot); err != nil {
		log.Warn("Failed to save screenshot", zap.Int("index", 0), zap.Error(err))
	}
	s.Transcript.Append(transcript.RoleUser,
		transcript.Text(ai.TaskInstruction(task.Question, task.Web)+a.observationText(ctx, "")),
		transcript.PNG(obs.Screenshot),
	)
	a.transition(s, StateAwaitModel)

	for {
		// AWAIT_MODEL
		s.Transcript.Clip(a.cfg.MaxImages)
		req := &ai.Request{
			System:             a.system,
			Turns:              s.Transcript.Turns(),
			PreviousResponseID: s.LastResponseID,
			Calls:              s.PendingCalls,
		}
		resp, err := retry.Do(ctx, retrier, func(ctx context.Context) (*ai.Response, error) {
			return a.provider.Complete(ctx, req)
		})
		if err != nil {
			var fatal *retry.FatalError
			var exhausted *retry.ExhaustedError
			switch {
			case errors.As(err, &fatal):
				a.abort(s, ReasonFatalRequest)
			case errors.As(err, &exhausted):
				a.abort(s, ReasonRetryExhausted)
			default:
				a.abort(s, ReasonCancelled)
			}
			log.Error("Model request failed", zap.String("reason", string(s.Reason)), zap.Error(err))
			return s, nil
		}
		s.LastResponseID = resp.ID
		s.PendingCalls = resp.Calls
		for _, c := range resp.Calls {
			for _, sc := range c.SafetyChecks {
				log.Warn("Acknowledging safety check", zap.String("call", c.ID), zap.String("code", sc.Code), zap.String("message", sc.Message))
			}
		}
		s.Usage.Add(resp.Usage)
		a.rec.ModelOutput(resp.Text)
		s.Transcript.Append(transcript.RoleAssistant, transcript.Text(resp.Text))
		a.transition(s, StateExecuting)

		// EXECUTING
		obs, warning, terminal := a.execute(ctx, s, resp.Text)
		a.transition(s, StateObserving)

		// OBSERVING
		s.Iteration++
		if obs == nil {
			if obs, err = a.env.Observe(ctx); err != nil {
				log.Warn("Failed to capture observation", zap.Error(err))
				warning = ai.RevisePrompt
			}
		}
		if obs != nil {
			if err := a.rec.Screenshot(s.Iteration, obs.Screenshot); err != nil {
				log.Warn("Failed to save screenshot", zap.Int("index", s.Iteration), zap.Error(err))
			}
		}

		if terminal {
			s.Status = StatusDone
			a.transition(s, StateDone)
			log.Info("Task finished", zap.Int("iterations", s.Iteration), zap.String("answer", s.Answer))
			return s, nil
		}
		if s.Iteration >= a.cfg.MaxIterations {
			a.abort(s, ReasonTimeout)
			log.Warn("Iteration limit reached", zap.Int("iterations", s.Iteration))
			return s, nil
		}

		blocks := []transcript.Block{transcript.Text(a.observationText(ctx, warning))}
		if obs != nil {
			blocks = append(blocks, transcript.PNG(obs.Screenshot))
		}
		s.Transcript.Append(transcript.RoleUser, blocks...)
		s.Transcript.Clip(a.cfg.MaxImages)
		a.transition(s, StateAwaitModel)
	}
}

// execute normalizes reply and applies its actions in order. It returns the
// last observation, a corrective warning for the next turn when something
// failed, and whether a terminal action was reached.
func (a *Agent) execute(ctx context.Context, s *Session, reply string) (*executor.Observation, string, bool) {
	parsed, err := a.normalizer.Parse(reply)
	if err != nil {
		a.logger.Warn("Failed to parse model reply", zap.Int("iteration", s.Iteration), zap.Error(err))
		a.step(s, Step{Action: action.SplitReply(reply).Action, Thought: parsed.Thought, Error: err.Error()})
		return nil, ai.FormatErrorPrompt, false
	}

	if parsed.Thought != "" {
		a.rec.Message("assistant", MessageThought, parsed.Thought)
	}

	var obs *executor.Observation
	for _, act := range parsed.Actions {
		resolved := action.Resolve(act, a.mapper)
		encoded := resolved.String()

		if resolved.Kind == action.KindFinished {
			s.Answer = resolved.Text
			a.rec.Message("assistant", MessageFinalAnswer, resolved.Text)
		} else {
			a.rec.Message("assistant", MessageAction, encoded)
		}

		next, err := a.env.Execute(ctx, resolved)
		if err != nil {
			a.logger.Warn("Action failed", zap.String("action", encoded), zap.Error(err))
			a.step(s, Step{Action: encoded, Thought: parsed.Thought, Error: err.Error()})
			return nil, ai.RevisePrompt, false
		}
		obs = next
		cursor := obs.Cursor
		a.step(s, Step{Action: encoded, Thought: parsed.Thought, URL: obs.URL, Cursor: &cursor})

		if resolved.Terminal() {
			return obs, "", true
		}
	}
	return obs, "", false
}

func (a *Agent) step(s *Session, st Step) {
	st.Iteration = s.Iteration
	st.Index = len(s.Steps)
	st.Screenshot = s.Iteration + 1
	s.Steps = append(s.Steps, st)
	a.rec.Step(st)
}

func (a *Agent) abort(s *Session, reason Reason) {
	s.Reason = reason
	if reason == ReasonTimeout {
		s.Status = StatusTimedOut
	} else {
		s.Status = StatusAborted
	}
	a.transition(s, StateAborted)
}

func (a *Agent) observationText(ctx context.Context, warning string) string {
	if a.cfg.Describe == nil {
		return ai.ObservationText(warning, "")
	}
	text, err := a.cfg.Describe(ctx)
	if err != nil {
		a.logger.Warn("Failed to describe page", zap.Error(err))
	}
	return ai.ObservationText(warning, text)
}

type nopRecorder struct{}

func (nopRecorder) Screenshot(int, []byte) error        { return nil }
func (nopRecorder) ModelOutput(string)                  {}
func (nopRecorder) Message(string, MessageType, string) {}
func (nopRecorder) Step(Step)                           {}
