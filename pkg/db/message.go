// Database models for chat messages
package db

import "time"

// Message is one persisted side of a conversation turn. Rows are never
// edited or removed. History order is created_at ASC, then Seq ASC; Seq
// disambiguates the two rows written by the same turn.
type Message struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string    `json:"conversation_id" gorm:"index;size:36;not null"`
	Seq            int       `json:"seq" gorm:"not null"`
	Role           string    `json:"role" gorm:"size:20;not null"` // user, assistant
	Content        string    `json:"content" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageOrder is the canonical history ordering clause.
const MessageOrder = "created_at ASC, seq ASC"
