package llm

import (
	"context"

	"github.com/go-go-golems/persona/pkg/conversation"
)

// Engine is the LLM capability: it turns an ordered transcript into a single
// assistant reply.
//
// Implementations report failures as *FetchError values classified as
// ErrUnreachable, ErrTimeout or ErrMalformedResponse.
type Engine interface {
	Complete(ctx context.Context, messages []conversation.Message) (string, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, messages []conversation.Message) (string, error)

func (f EngineFunc) Complete(ctx context.Context, messages []conversation.Message) (string, error) {
	return f(ctx, messages)
}

// WireRole maps a transcript role onto the chat-completion role names shared
// by OpenAI-compatible and Ollama endpoints.
func WireRole(r conversation.Role) string {
	switch r {
	case conversation.RoleSystem:
		return "system"
	case conversation.RoleAssistant:
		return "assistant"
	case conversation.RoleHuman:
		return "user"
	}
	return "user"
}
