// Package llm defines the provider-agnostic contract for LLM interactions.
// Vendor adapters live in subpackages (anthropic, openai); the core only
// depends on this interface and on the resolver that picks a provider for a
// bot.
package llm

import "context"

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// SendMessage sends a conversation to the LLM and returns its response.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// Request represents a full conversation sent to the LLM.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
}

// Message is a single turn in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response is the LLM's reply.
type Response struct {
	Content    string
	TokensUsed int
	StopReason string
}
