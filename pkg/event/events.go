package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	PluginCreated            = "plugin.created"
	PluginUpdated            = "plugin.updated"
	PluginCompileFailed      = "plugin.compileFailed"
	ChatbotChanged           = "chatbot.changed"
	ConversationCreated      = "conversation.created"
	ConversationMessageAdded = "conversation.messagesAdded"
	ConversationTitleChanged = "conversation.titleChanged"
)

// ============================================================================
// Plugin Events
// ============================================================================

// PluginCreatedEvent is emitted when a developer saves a new plugin.
type PluginCreatedEvent struct {
	PluginID string `json:"pluginId"`
	UserID   string `json:"-"`
}

func (e PluginCreatedEvent) EventName() string { return PluginCreated }
func (e PluginCreatedEvent) OwnerID() string   { return e.UserID }

// PluginUpdatedEvent is emitted when a plugin gets a new live version,
// including restores.
type PluginUpdatedEvent struct {
	PluginID string `json:"pluginId"`
	Version  int    `json:"version"`
	UserID   string `json:"-"`
}

func (e PluginUpdatedEvent) EventName() string { return PluginUpdated }
func (e PluginUpdatedEvent) OwnerID() string   { return e.UserID }

// PluginCompileFailedEvent is emitted when an enabled plugin is dropped
// from a chatbot's tool set. It is delivered to every subscriber so the
// plugin's developer can see failures in other users' chatbots.
type PluginCompileFailedEvent struct {
	ChatbotID string `json:"chatbotId"`
	PluginID  string `json:"pluginId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e PluginCompileFailedEvent) EventName() string { return PluginCompileFailed }

// ============================================================================
// Chatbot Events
// ============================================================================

// ChatbotChangedEvent is emitted when a chatbot or its plugin set changes.
type ChatbotChangedEvent struct {
	ChatbotID string `json:"chatbotId"`
	UserID    string `json:"-"`
}

func (e ChatbotChangedEvent) EventName() string { return ChatbotChanged }
func (e ChatbotChangedEvent) OwnerID() string   { return e.UserID }

// ============================================================================
// Conversation Events
// ============================================================================

// ConversationCreatedEvent is emitted when a conversation is started.
type ConversationCreatedEvent struct {
	ConversationID string `json:"conversationId"`
	ChatbotID      string `json:"chatbotId"`
	UserID         string `json:"-"`
}

func (e ConversationCreatedEvent) EventName() string { return ConversationCreated }
func (e ConversationCreatedEvent) OwnerID() string   { return e.UserID }

// ConversationMessagesAddedEvent is emitted after a turn is persisted.
type ConversationMessagesAddedEvent struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	UserID         string   `json:"-"`
}

func (e ConversationMessagesAddedEvent) EventName() string { return ConversationMessageAdded }
func (e ConversationMessagesAddedEvent) OwnerID() string   { return e.UserID }

// ConversationTitleChangedEvent is emitted when a title is assigned.
type ConversationTitleChangedEvent struct {
	ConversationID string `json:"conversationId"`
	Title          string `json:"title"`
	UserID         string `json:"-"`
}

func (e ConversationTitleChangedEvent) EventName() string { return ConversationTitleChanged }
func (e ConversationTitleChangedEvent) OwnerID() string   { return e.UserID }
