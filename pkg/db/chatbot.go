// Database models for chatbots and their plugin associations
package db

import "time"

// Chatbot binds a user to a set of plugins.
type Chatbot struct {
	ID          string          `json:"id" gorm:"primaryKey;size:36"`
	UserID      string          `json:"user_id" gorm:"index;size:64;not null"`
	Name        string          `json:"name" gorm:"size:200;not null"`
	Description string          `json:"description,omitempty" gorm:"type:text"`
	Avatar      string          `json:"avatar,omitempty" gorm:"size:500"`
	Plugins     []ChatbotPlugin `json:"plugins,omitempty" gorm:"foreignKey:ChatbotID"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (Chatbot) TableName() string {
	return "chatbots"
}

// ChatbotPlugin associates a plugin with a chatbot. The composite primary
// key keeps at most one association per pair. Enabled only affects this chatbot.
// Enabled must not carry a gorm default: gorm substitutes it for an explicit false.
type ChatbotPlugin struct {
	ChatbotID string    `json:"chatbot_id" gorm:"primaryKey;size:36"`
	PluginID  string    `json:"plugin_id" gorm:"primaryKey;size:36;index"`
	Enabled   bool      `json:"enabled" gorm:"not null"`
	Plugin    Plugin    `json:"plugin" gorm:"foreignKey:PluginID"`
	CreatedAt time.Time `json:"created_at"`
}

func (ChatbotPlugin) TableName() string {
	return "chatbot_plugins"
}

// Default chatbot created for users without any chatbot.
const (
	DefaultChatbotName        = "Assistant"
	DefaultChatbotDescription = "Your default AI assistant"
	DefaultChatbotAvatar      = "/default-avatar.png"
)
