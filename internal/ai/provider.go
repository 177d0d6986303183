package ai

import (
	"context"
	"fmt"
	"os"

	"github.com/yifei-he/WebSTAR/internal/transcript"
)

// Request is one outbound model call.
type Request struct {
	System string
	Turns  []transcript.Turn
	// PreviousResponseID is the handle of the last reply in this session.
	// Providers that continue conversations server-side use it; the chat
	// providers resend the clipped transcript instead.
	PreviousResponseID string
	// Calls are the computer calls of the last reply still awaiting their
	// screenshot.
	Calls []ComputerCall
}

// ComputerCall is a tool call the model issued and expects an output for.
type ComputerCall struct {
	ID           string
	SafetyChecks []SafetyCheck
}

// SafetyCheck is a warning attached to a computer call. Answering the call
// acknowledges it.
type SafetyCheck struct {
	ID      string
	Code    string
	Message string
}

// Usage counts tokens for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
}

// Response is the model's reply.
type Response struct {
	ID    string
	Text  string
	Usage Usage
	Calls []ComputerCall
}

// Provider defines the interface for model calls
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Options configures a provider.
type Options struct {
	Model       string
	BaseURL     string // OpenAI-compatible servers such as vLLM or the router
	APIKey      string // Falls back to the environment
	MaxTokens   int
	Temperature float64
	Seed        int // Zero leaves the seed unset

	// Screen size reported to computer-use models
	DisplayWidth  int
	DisplayHeight int
}

// NewProvider creates a new model provider based on the provider name
func NewProvider(name string, opts Options) (Provider, error) {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	switch name {
	case "claude", "anthropic":
		return NewClaudeProvider(opts)
	case "openai", "gpt", "vllm":
		return NewOpenAIProvider(opts)
	case "computer-use", "operator":
		return NewComputerUseProvider(opts)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai, computer-use)", name)
	}
}

// apiKey returns explicit, else the first non-empty environment variable.
func apiKey(explicit string, envs ...string) string {
	if explicit != "" {
		return explicit
	}
	for _, e := range envs {
		if v := os.Getenv(e); v != "" {
			return v
		}
	}
	return ""
}
