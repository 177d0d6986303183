// Package trajectory persists what happened during one task: screenshots,
// raw model outputs, the interaction log, the executed steps and the
// outcome.
package trajectory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/yifei-he/WebSTAR/internal/agent"
)

// File names inside a task directory.
const (
	OutputFile   = "output.json"
	MessagesFile = "interact_messages.json"
	StepsFile    = "steps.json"
	ResultFile   = "result.json"
)

// ScreenshotFile returns the name of the n-th screenshot.
func ScreenshotFile(n int) string {
	return fmt.Sprintf("screenshot%d.png", n)
}

// Content is the body of an interaction log entry.
type Content struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

// Message is one interaction log entry.
type Message struct {
	Author      string            `json:"author"`
	MessageType agent.MessageType `json:"message_type"`
	Content     Content           `json:"content"`
}

// Writer records a task into its directory. It implements agent.Recorder.
type Writer struct {
	dir string

	mu       sync.Mutex
	outputs  []string
	messages []Message
	steps    []agent.Step
}

// New creates dir if needed and returns a writer for it.
func New(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create task directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the task directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Screenshot writes screenshot<index>.png immediately.
func (w *Writer) Screenshot(index int, png []byte) error {
	return os.WriteFile(filepath.Join(w.dir, ScreenshotFile(index)), png, 0644)
}

func (w *Writer) ModelOutput(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outputs = append(w.outputs, text)
}

func (w *Writer) Message(author string, kind agent.MessageType, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, Message{
		Author:      author,
		MessageType: kind,
		Content:     Content{ContentType: "text", Parts: []string{text}},
	})
}

func (w *Writer) Step(s agent.Step) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.steps = append(w.steps, s)
}

// Finish flushes the buffered logs and the result. It is safe to call for
// aborted and timed-out tasks.
func (w *Writer) Finish(res *agent.Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	outputs := w.outputs
	if outputs == nil {
		outputs = []string{}
	}
	messages := w.messages
	if messages == nil {
		messages = []Message{}
	}
	steps := w.steps
	if steps == nil {
		steps = []agent.Step{}
	}

	files := []struct {
		name string
		v    any
	}{
		{OutputFile, outputs},
		{MessagesFile, messages},
		{StepsFile, steps},
		{ResultFile, res},
	}
	for _, f := range files {
		if err := writeJSON(filepath.Join(w.dir, f.name), f.v); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LoadSteps reads steps.json from a task directory.
func LoadSteps(dir string) ([]agent.Step, error) {
	data, err := os.ReadFile(filepath.Join(dir, StepsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read steps: %w", err)
	}
	var steps []agent.Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("failed to parse steps: %w", err)
	}
	return steps, nil
}

// LoadResult reads result.json from a task directory.
func LoadResult(dir string) (*agent.Result, error) {
	data, err := os.ReadFile(filepath.Join(dir, ResultFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	var res agent.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}
	return &res, nil
}
