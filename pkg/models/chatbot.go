// API types for chatbots
package models

import "github.com/choraleia/plugbot/pkg/db"

type Chatbot = db.Chatbot
type ChatbotPlugin = db.ChatbotPlugin

// CreateChatbotRequest represents a request to create a chatbot
type CreateChatbotRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// UpdateChatbotRequest updates chatbot fields; nil fields are unchanged
type UpdateChatbotRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
}

// AddChatbotPluginRequest attaches a plugin to a chatbot
type AddChatbotPluginRequest struct {
	PluginID string `json:"plugin_id" binding:"required"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

// ToggleChatbotPluginRequest enables or disables an attached plugin
type ToggleChatbotPluginRequest struct {
	Enabled bool `json:"enabled"`
}
