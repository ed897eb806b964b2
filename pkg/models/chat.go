// API types for conversations and turns
package models

import (
	"github.com/choraleia/plugbot/pkg/db"
)

// ========== Type aliases for database types ==========
// These allow other packages to use models.Message instead of db.Message

type Conversation = db.Conversation
type Message = db.Message

// ========== Conversation API types ==========

// CreateConversationRequest represents a request to create a conversation
type CreateConversationRequest struct {
	ChatbotID string `json:"chatbot_id" binding:"required"`
}

// ConversationListResponse represents the response for listing conversations
type ConversationListResponse struct {
	Conversations []Conversation `json:"conversations"`
}

// TurnRequest carries the user's input for one conversation turn
type TurnRequest struct {
	Input string `json:"input" binding:"required"`
}

// TurnResponse is the agent's final answer plus the two persisted messages
type TurnResponse struct {
	ConversationID string          `json:"conversation_id"`
	Answer         string          `json:"answer"`
	Messages       []Message       `json:"messages"`
	DroppedPlugins []PluginFailure `json:"dropped_plugins,omitempty"`
}

// TitleResponse returns a suggested conversation title
type TitleResponse struct {
	Title string `json:"title"`
}
