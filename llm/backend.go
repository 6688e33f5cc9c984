package llm

import "context"

// Backend is the contract the agent loop consumes. Implementations must be
// safe for concurrent use; sibling subagents share one Backend.
type Backend interface {
	// Generate returns the model's free-text reply to a linear history.
	Generate(ctx context.Context, messages []Message) (string, error)

	// GenerateWithTools offers the declared tools to the model and returns
	// its text together with any tool calls it requested.
	GenerateWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (*Completion, error)
}

// ProviderAdapter is the interface every provider backend must implement.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Complete sends a blocking request and returns the full completion.
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}
