package llm

import "context"

// Provider is a text-completion backend shared by the simulator and evaluator.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Completion, error)
}

type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Completion is a flattened single-turn completion result.
type Completion struct {
	Text         string
	StopReason   string
	InputTokens  int
	OutputTokens int
}
