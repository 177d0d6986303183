package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yifei-he/WebSTAR/internal/agent"
	"github.com/yifei-he/WebSTAR/internal/ai"
	"github.com/yifei-he/WebSTAR/internal/browser"
	"github.com/yifei-he/WebSTAR/internal/config"
	"github.com/yifei-he/WebSTAR/internal/executor"
	"github.com/yifei-he/WebSTAR/internal/gifgen"
	"github.com/yifei-he/WebSTAR/internal/logging"
	"github.com/yifei-he/WebSTAR/internal/overlay"
	"github.com/yifei-he/WebSTAR/internal/router"
	"github.com/yifei-he/WebSTAR/internal/runner"
)

var cfgFile string

// flag name -> config key
var runFlags = map[string]string{
	"test-file":      "run.test_file",
	"output-dir":     "run.output_dir",
	"workers":        "run.workers",
	"trials":         "run.trials",
	"max-iter":       "agent.max_iterations",
	"max-images":     "agent.max_attached_images",
	"text-sensor":    "agent.text_sensor",
	"provider":       "model.provider",
	"model":          "model.name",
	"base-url":       "model.base_url",
	"temperature":    "model.temperature",
	"seed":           "model.seed",
	"dialect":        "model.dialect",
	"scale":          "model.coordinate_scale",
	"headless":       "browser.headless",
	"window-width":   "browser.width",
	"window-height":  "browser.height",
	"download-dir":   "browser.download_dir",
	"profile":        "browser.profile_dir",
	"max-attempts":   "agent.retry.max_attempts",
	"log-level":      "logger.level",
	"chrome-binary":  "browser.bin",
	"initial-settle": "browser.initial_settle",
}

var routerFlags = map[string]string{
	"listen":     "router.listen",
	"backend":    "router.backends",
	"rate-limit": "router.rate_limit",
	"burst":      "router.burst",
	"log-level":  "logger.level",
}

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "webstar",
		Short: "Run browser tasks with a vision-language model",
		Long: `webstar drives a headless browser through web tasks, asking a
vision-language model for one action per screenshot and recording the
whole trajectory.

Example:
  webstar run --test-file data/test.jsonl --provider vllm --base-url http://localhost:8000/v1`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./webstar.yaml)")

	rootCmd.AddCommand(newRunCmd(), newReplayCmd(), newRouterCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every task of a JSONL task file",
		Args:  cobra.NoArgs,
		RunE:  runTasks,
	}
	f := cmd.Flags()
	f.String("test-file", "", "JSONL task file")
	f.String("output-dir", "", "Directory for run results")
	f.Int("workers", 0, "Tasks run in parallel")
	f.Int("trials", 0, "Attempts per task")
	f.Int("max-iter", 0, "Model turns per task")
	f.Int("max-images", 0, "Screenshots kept in the model context")
	f.String("text-sensor", "", "Page text sent with screenshots: none, axtree, outline")
	f.String("provider", "", "Model provider: openai, vllm, claude, computer-use")
	f.String("model", "", "Model name")
	f.String("base-url", "", "OpenAI-compatible endpoint")
	f.Float64("temperature", 0, "Sampling temperature")
	f.Int("seed", 0, "Sampling seed (0 leaves it unset)")
	f.String("dialect", "", "Action syntax the model is prompted with: dsl, record, legacy")
	f.String("scale", "", "Coordinate scale the model uses: pixel, permille, fraction")
	f.Bool("headless", true, "Run Chromium headless")
	f.Int("window-width", 0, "Viewport width")
	f.Int("window-height", 0, "Viewport height")
	f.String("download-dir", "", "Parent directory for per-task downloads")
	f.String("profile", "", "Chrome/Chromium profile directory for authenticated sessions (close browser first; needs --workers 1)")
	f.Int("max-attempts", 0, "Model call attempts per turn")
	f.String("log-level", "", "Log level")
	f.String("chrome-binary", "", "Chrome/Chromium binary")
	f.Duration("initial-settle", 0, "Pause after the first page load")
	return cmd
}

func newReplayCmd() *cobra.Command {
	var (
		output   string
		maxWidth uint
		tween    int
	)
	cmd := &cobra.Command{
		Use:   "replay <task-dir>",
		Short: "Render a recorded task as an animated GIF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if output == "" {
				output = filepath.Join(dir, "replay.gif")
			}

			opts := overlay.DefaultReplayOptions()
			opts.Tween = tween
			fmt.Printf("→ Rendering %s... ", dir)
			frames, err := overlay.Replay(dir, opts)
			if err != nil {
				fmt.Println("failed")
				return fmt.Errorf("replay failed: %w", err)
			}
			fmt.Printf("done (%d frames)\n", len(frames))

			fmt.Printf("→ Encoding GIF... ")
			size, err := gifgen.WriteFile(output, frames, gifgen.Options{MaxWidth: maxWidth})
			if err != nil {
				fmt.Println("failed")
				return fmt.Errorf("GIF generation failed: %w", err)
			}
			fmt.Println("done")
			fmt.Printf("✓ Saved to %s (%.1f MB)\n", output, float64(size)/(1024*1024))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output filename (default <task-dir>/replay.gif)")
	cmd.Flags().UintVar(&maxWidth, "max-width", 800, "Maximum GIF width")
	cmd.Flags().IntVar(&tween, "tween", 6, "Pointer frames between steps")
	return cmd
}

func newRouterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "router",
		Short: "Load-balance OpenAI-compatible requests across model replicas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, routerFlags)
			if err != nil {
				return err
			}
			logging.InitializeLogger(cfg.Logger)
			defer logging.Sync()
			logger := logging.GetLogger()

			r, err := router.New(router.Options{
				Backends:  cfg.Router.Backends,
				RateLimit: cfg.Router.RateLimit,
				Burst:     cfg.Router.Burst,
				Debug:     cfg.Logger.Level == "debug",
			}, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return r.ListenAndServe(ctx, cfg.Router.Listen)
		},
	}
	f := cmd.Flags()
	f.String("listen", "", "Listen address")
	f.StringSlice("backend", nil, "Backend base URL (repeatable)")
	f.Float64("rate-limit", 0, "Requests per second (0 disables)")
	f.Int("burst", 0, "Rate limiter burst")
	f.String("log-level", "", "Log level")
	return cmd
}

// loadConfig reads the config file and environment, then applies the flags
// the user actually set.
func loadConfig(cmd *cobra.Command, flags map[string]string) (*config.Config, error) {
	v, err := config.New(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := bindFlags(v, cmd, flags); err != nil {
		return nil, err
	}
	return config.Load(v)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, flags map[string]string) error {
	for name, key := range flags {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

func runTasks(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, runFlags)
	if err != nil {
		return err
	}
	logging.InitializeLogger(cfg.Logger)
	defer logging.Sync()
	logger := logging.GetLogger()

	tasks, err := runner.LoadTasks(cfg.Run.TestFile)
	if err != nil {
		return err
	}

	provider, err := ai.NewProvider(cfg.Model.Provider, ai.Options{
		Model:       cfg.Model.Name,
		BaseURL:     cfg.Model.BaseURL,
		APIKey:      cfg.Model.APIKey,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
		Seed:        cfg.Model.Seed,

		DisplayWidth:  cfg.Browser.Width,
		DisplayHeight: cfg.Browser.Height,
	})
	if err != nil {
		return fmt.Errorf("AI provider init failed: %w", err)
	}

	runID := uuid.NewString()
	outDir := filepath.Join(cfg.Run.OutputDir, runID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	logger.Info("Starting run",
		zap.String("run_id", runID),
		zap.String("output_dir", outDir),
		zap.Int("tasks", len(tasks)),
		zap.Int("trials", cfg.Run.Trials),
		zap.Int("workers", cfg.Run.Workers),
		zap.String("provider", provider.Name()),
		zap.String("model", cfg.Model.Name),
		zap.String("dialect", cfg.Model.Dialect),
	)

	bopts := browser.Options{
		Width:             cfg.Browser.Width,
		Height:            cfg.Browser.Height,
		Headless:          cfg.Browser.Headless,
		Bin:               cfg.Browser.Bin,
		ProfileDir:        cfg.Browser.ProfileDir,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		InitialSettle:     cfg.Browser.InitialSettle,
	}
	eopts := executor.DefaultOptions()
	eopts.ActionSettle = cfg.Agent.Settle.Action
	eopts.KeyInterval = cfg.Agent.Settle.KeyInterval
	eopts.DefaultWait = cfg.Agent.Settle.Wait

	r := runner.New(runner.Options{
		OutputDir:   outDir,
		DownloadDir: cfg.Browser.DownloadDir,
		Workers:     cfg.Run.Workers,
		Trials:      cfg.Run.Trials,
		Agent: agent.Config{
			MaxIterations: cfg.Agent.MaxIterations,
			MaxImages:     cfg.Agent.MaxAttachedImages,
			Dialect:       cfg.Model.Dialect,
			Scale:         cfg.Scale(),
			Viewport:      cfg.Viewport(),
			Retry:         cfg.Agent.Retry.Policy(),
		},
	}, provider, runner.BrowserOpener(bopts, eopts, cfg.Sensor()), logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := r.Run(ctx, tasks)
	summary := runner.Summarize(results)
	if err := writeSummary(filepath.Join(outDir, "summary.json"), summary); err != nil {
		logger.Error("Failed to write summary", zap.Error(err))
	}

	for _, res := range results {
		if res.Err != nil {
			fmt.Printf("  ✗ %s: %v\n", res.Job.Name(), res.Err)
		}
	}
	fmt.Printf("✓ %d/%d done, %d timed out, %d aborted, %d failed, %d skipped → %s\n",
		summary.Done, summary.Total, summary.TimedOut, summary.Aborted, summary.Failed, summary.Skipped, outDir)

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}

func writeSummary(path string, s runner.Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
