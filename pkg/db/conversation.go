// Database models for chat conversations
package db

import "time"

// Conversation is an append-only chat between a user and one chatbot.
// Title stays empty until it is assigned after the first exchange.
type Conversation struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	UserID    string    `json:"user_id" gorm:"index;size:64;not null"`
	ChatbotID string    `json:"chatbot_id" gorm:"index;size:36;not null"`
	Title     string    `json:"title,omitempty" gorm:"size:200"`
	Messages  []Message `json:"messages,omitempty" gorm:"foreignKey:ConversationID"`
	Chatbot   *Chatbot  `json:"chatbot,omitempty" gorm:"foreignKey:ChatbotID"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}
