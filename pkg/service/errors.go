package service

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by every not-found sentinel in this package.
var ErrNotFound = errors.New("not found")

var (
	ErrPluginNotFound       = fmt.Errorf("plugin %w", ErrNotFound)
	ErrVersionNotFound      = fmt.Errorf("plugin version %w", ErrNotFound)
	ErrChatbotNotFound      = fmt.Errorf("chatbot %w", ErrNotFound)
	ErrConversationNotFound = fmt.Errorf("conversation %w", ErrNotFound)
	ErrChatbotPluginMissing = fmt.Errorf("chatbot plugin %w", ErrNotFound)

	ErrVersionConflict  = errors.New("plugin was modified concurrently, retry the update")
	ErrNoFinalAnswer    = errors.New("agent finished without a final answer")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidInput     = errors.New("invalid input")
	ErrAlreadyAttached  = errors.New("plugin is already attached to this chatbot")
	ErrModelUnavailable = errors.New("model not configured")
)

// AgentError wraps a failure raised by the reasoning agent or one of its
// tool calls during a conversation turn.
type AgentError struct {
	ConversationID string
	Err            error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent failed in conversation %s: %v", e.ConversationID, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
