// Package runner executes task×trial jobs on a bounded worker pool, each
// with its own browser, transcript, log file and artifact directory.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yifei-he/WebSTAR/internal/agent"
	"github.com/yifei-he/WebSTAR/internal/ai"
	"github.com/yifei-he/WebSTAR/internal/browser"
	"github.com/yifei-he/WebSTAR/internal/executor"
	"github.com/yifei-he/WebSTAR/internal/logging"
	"github.com/yifei-he/WebSTAR/internal/trajectory"
)

// ErrSkipped marks jobs that never started because the run was cancelled.
var ErrSkipped = errors.New("skipped: run cancelled")

// Job is one attempt at one task.
type Job struct {
	Task  agent.Task
	Trial int
}

// Name is the job's directory name.
func (j Job) Name() string {
	return fmt.Sprintf("task%s-%d", j.Task.ID, j.Trial)
}

// Result is the outcome of one job.
type Result struct {
	Job     Job
	Dir     string
	Outcome *agent.Result // nil when the job failed before the agent ran
	Err     error
}

// Workspace is the browser side of a job.
type Workspace struct {
	Env      agent.Environment
	Describe agent.Describer
	Close    func()
}

// OpenFunc prepares a workspace for task, with downloads going to
// downloadDir.
type OpenFunc func(ctx context.Context, task agent.Task, downloadDir string, logger *zap.Logger) (*Workspace, error)

// Options configures a run.
type Options struct {
	OutputDir   string
	DownloadDir string
	Workers     int
	Trials      int
	Agent       agent.Config
}

// Runner runs jobs.
type Runner struct {
	opts     Options
	provider ai.Provider
	open     OpenFunc
	logger   *zap.Logger
}

// New creates a runner. provider is shared by all workers.
func New(opts Options, provider ai.Provider, open OpenFunc, logger *zap.Logger) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Trials <= 0 {
		opts.Trials = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{opts: opts, provider: provider, open: open, logger: logger.With(zap.String("component", "runner"))}
}

// Jobs expands tasks into task×trial jobs, trials outermost.
func (r *Runner) Jobs(tasks []agent.Task) []Job {
	jobs := make([]Job, 0, len(tasks)*r.opts.Trials)
	for trial := 0; trial < r.opts.Trials; trial++ {
		for _, t := range tasks {
			jobs = append(jobs, Job{Task: t, Trial: trial})
		}
	}
	return jobs
}

// Run executes every job and returns results in job order. Cancelling ctx
// stops new jobs from starting; jobs already running finish their current
// task.
func (r *Runner) Run(ctx context.Context, tasks []agent.Task) []Result {
	jobs := r.Jobs(tasks)
	results := make([]Result, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for i, job := range jobs {
		if gctx.Err() != nil {
			results[i] = Result{Job: job, Dir: r.jobDir(job), Err: ErrSkipped}
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = Result{Job: job, Dir: r.jobDir(job), Err: ErrSkipped}
				return nil
			}
			results[i] = r.runJob(context.WithoutCancel(gctx), job)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (r *Runner) jobDir(job Job) string {
	return filepath.Join(r.opts.OutputDir, job.Name())
}

// runJob never panics and never returns an error to the pool.
func (r *Runner) runJob(ctx context.Context, job Job) (res Result) {
	res = Result{Job: job, Dir: r.jobDir(job)}
	start := time.Now()
	log := r.logger.With(zap.String("job", job.Name()))

	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("panic: %v", p)
			log.Error("Job panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
		}
	}()

	rec, err := trajectory.New(res.Dir)
	if err != nil {
		res.Err = err
		return res
	}

	taskLog, err := logging.NewTaskLogger(filepath.Join(res.Dir, "agent.log"), log)
	if err != nil {
		res.Err = err
		return res
	}
	defer taskLog.Close()

	var sess *agent.Session
	// Whatever happened, leave a result behind.
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("panic: %v", p)
			log.Error("Job panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
		}
		var outcome *agent.Result
		if sess != nil {
			outcome = sess.Result()
		} else {
			outcome = &agent.Result{TaskID: job.Task.ID, Trial: job.Trial, Status: agent.StatusAborted}
		}
		outcome.Duration = time.Since(start)
		if res.Err != nil {
			outcome.Error = res.Err.Error()
		}
		if err := rec.Finish(outcome); err != nil {
			log.Error("Failed to write trajectory", zap.Error(err))
		}
		res.Outcome = outcome
	}()

	downloads := filepath.Join(r.opts.DownloadDir, job.Name())
	if err := resetDir(downloads); err != nil {
		res.Err = err
		return res
	}

	ws, err := r.open(ctx, job.Task, downloads, taskLog.Logger)
	if err != nil {
		res.Err = fmt.Errorf("failed to open browser: %w", err)
		taskLog.Error("Failed to open browser", zap.Error(err))
		return res
	}
	if ws.Close != nil {
		defer ws.Close()
	}

	cfg := r.opts.Agent
	if ws.Describe != nil {
		cfg.Describe = ws.Describe
	}
	a, err := agent.New(cfg, r.provider, ws.Env, rec, taskLog.Logger)
	if err != nil {
		res.Err = err
		return res
	}

	sess, err = a.Run(ctx, job.Task, job.Trial)
	if err != nil {
		res.Err = err
	}
	log.Info("Job finished",
		zap.String("status", string(sess.Status)),
		zap.String("reason", string(sess.Reason)),
		zap.Int("iterations", sess.Iteration),
		zap.Duration("duration", time.Since(start)),
	)
	return res
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

// BrowserOpener returns an OpenFunc launching a real browser per job.
func BrowserOpener(bopts browser.Options, eopts executor.Options, sensor browser.TextSensor) OpenFunc {
	return func(ctx context.Context, task agent.Task, downloadDir string, logger *zap.Logger) (*Workspace, error) {
		opts := bopts
		opts.DownloadDir = downloadDir
		b, err := browser.Launch(ctx, task.Web, opts, logger)
		if err != nil {
			return nil, err
		}
		ws := &Workspace{
			Env:   executor.New(b, eopts, logger),
			Close: b.Close,
		}
		if sensor != browser.SensorNone {
			ws.Describe = func(ctx context.Context) (string, error) {
				return b.Describe(ctx, sensor)
			}
		}
		return ws, nil
	}
}

// Summary counts outcomes.
type Summary struct {
	Total    int `json:"total"`
	Done     int `json:"done"`
	Aborted  int `json:"aborted"`
	TimedOut int `json:"timed_out"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// Summarize tallies results.
func Summarize(results []Result) Summary {
	var s Summary
	s.Total = len(results)
	for _, r := range results {
		switch {
		case errors.Is(r.Err, ErrSkipped):
			s.Skipped++
		case r.Err != nil:
			s.Failed++
		case r.Outcome == nil:
			s.Failed++
		case r.Outcome.Status == agent.StatusDone:
			s.Done++
		case r.Outcome.Status == agent.StatusTimedOut:
			s.TimedOut++
		default:
			s.Aborted++
		}
	}
	return s
}
