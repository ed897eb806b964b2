// Chat Service - conversations and the tool-calling turn loop
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/choraleia/plugbot/pkg/config"
	"github.com/choraleia/plugbot/pkg/db"
	"github.com/choraleia/plugbot/pkg/event"
	"github.com/choraleia/plugbot/pkg/lock"
	"github.com/choraleia/plugbot/pkg/models"
	"github.com/choraleia/plugbot/pkg/tools"
	"github.com/choraleia/plugbot/pkg/utils"
	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ToolLoader interface for loading tools (implemented by tools package)
type ToolLoader interface {
	LoadChatbotTools(ctx context.Context, chatbot *db.Chatbot) ([]tool.InvokableTool, *tools.LoadReport, error)
}

// ChatOptions configures the turn loop.
type ChatOptions struct {
	Model         *config.ModelConfig
	Instruction   string
	MaxIterations int
	AgentTimeout  time.Duration
	AutoTitle     bool
}

// ChatService handles conversations and runs conversation turns
type ChatService struct {
	db         *gorm.DB
	models     ModelFactory
	toolLoader ToolLoader
	locker     lock.Locker
	emitter    *event.Emitter
	opts       ChatOptions
	logger     *slog.Logger
}

// NewChatService creates a new chat service. A nil locker serializes turns
// in-process only.
func NewChatService(gdb *gorm.DB, modelFactory ModelFactory, loader ToolLoader, locker lock.Locker, emitter *event.Emitter, opts ChatOptions) *ChatService {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if emitter == nil {
		emitter = event.Global()
	}
	if opts.Instruction == "" {
		opts.Instruction = config.DefaultInstruction
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = config.DefaultMaxIterations
	}
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = config.DefaultAgentTimeout
	}
	return &ChatService{
		db:         gdb,
		models:     modelFactory,
		toolLoader: loader,
		locker:     locker,
		emitter:    emitter,
		opts:       opts,
		logger:     utils.GetLogger(),
	}
}

// CreateConversation starts an empty conversation with one of the user's chatbots.
func (s *ChatService) CreateConversation(ctx context.Context, userID, chatbotID string) (*db.Conversation, error) {
	var bot db.Chatbot
	if err := s.db.WithContext(ctx).First(&bot, "id = ?", chatbotID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatbotNotFound
		}
		return nil, err
	}
	if bot.UserID != userID {
		return nil, ErrChatbotNotFound
	}

	conv := &db.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		ChatbotID: chatbotID,
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.emitter.Emit(event.ConversationCreatedEvent{ConversationID: conv.ID, ChatbotID: chatbotID, UserID: userID})
	return conv, nil
}

// GetConversation loads a conversation with its ordered messages. Another
// user's conversation is reported as not found.
func (s *ChatService) GetConversation(ctx context.Context, userID, conversationID string) (*db.Conversation, error) {
	return loadConversation(s.db.WithContext(ctx), userID, conversationID)
}

func loadConversation(tx *gorm.DB, userID, conversationID string) (*db.Conversation, error) {
	var conv db.Conversation
	err := tx.Preload("Messages", func(q *gorm.DB) *gorm.DB {
		return q.Order(db.MessageOrder)
	}).First(&conv, "id = ?", conversationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ErrConversationNotFound
	}
	return &conv, nil
}

// ListUserConversations lists the user's conversations, most recent first.
func (s *ChatService) ListUserConversations(ctx context.Context, userID string) ([]db.Conversation, error) {
	var convs []db.Conversation
	err := s.db.WithContext(ctx).
		Preload("Chatbot").
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&convs).Error
	return convs, err
}

// ListChatbotConversations lists the user's conversations with one chatbot.
func (s *ChatService) ListChatbotConversations(ctx context.Context, userID, chatbotID string) ([]db.Conversation, error) {
	var convs []db.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND chatbot_id = ?", userID, chatbotID).
		Order("updated_at DESC").
		Find(&convs).Error
	return convs, err
}

// TakeTurn runs one conversation turn: the chatbot's enabled plugins are
// compiled into tools, the agent answers over the full history plus input,
// and both sides of the exchange are persisted together. Nothing is
// written if any step fails. Turns on one conversation never overlap.
func (s *ChatService) TakeTurn(ctx context.Context, userID, conversationID, input string) (*models.TurnResponse, error) {
	if strings.TrimSpace(input) == "" {
		return nil, invalidInput("input must not be empty")
	}

	unlock, err := s.locker.Lock(ctx, "conversation:"+conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire conversation lock: %w", err)
	}
	defer unlock()

	conv, err := s.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	bot, err := loadChatbot(s.db.WithContext(ctx), conv.ChatbotID)
	if err != nil {
		return nil, err
	}

	turnTools, report, err := s.toolLoader.LoadChatbotTools(ctx, bot)
	if err != nil {
		return nil, fmt.Errorf("failed to load tools: %w", err)
	}

	prompt := buildPrompt(conv.Messages, input)

	s.logger.Info("Running conversation turn",
		"conversationID", conv.ID,
		"chatbotID", bot.ID,
		"history", len(conv.Messages),
		"tools", len(turnTools))

	answer, err := s.runAgent(ctx, conv.ID, turnTools, prompt)
	if err != nil {
		s.logger.Warn("Conversation turn failed", "conversationID", conv.ID, "error", err)
		return nil, err
	}

	persisted, err := s.persistTurn(ctx, conv.ID, input, answer)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(persisted))
	for i, m := range persisted {
		ids[i] = m.ID
	}
	s.emitter.Emit(event.ConversationMessagesAddedEvent{ConversationID: conv.ID, MessageIDs: ids, UserID: userID})

	if s.opts.AutoTitle && conv.Title == "" && len(conv.Messages) == 0 {
		go s.autoTitle(userID, conv.ID)
	}

	resp := &models.TurnResponse{
		ConversationID: conv.ID,
		Answer:         answer,
		Messages:       persisted,
	}
	if report != nil {
		resp.DroppedPlugins = report.Failures
	}
	return resp, nil
}

// buildPrompt returns the persisted history in order followed by input.
// The system instruction is supplied to the agent separately.
func buildPrompt(history []db.Message, input string) []*schema.Message {
	prompt := make([]*schema.Message, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case db.RoleUser:
			prompt = append(prompt, schema.UserMessage(m.Content))
		case db.RoleAssistant:
			prompt = append(prompt, schema.AssistantMessage(m.Content, nil))
		}
	}
	return append(prompt, schema.UserMessage(input))
}

func (s *ChatService) runAgent(ctx context.Context, conversationID string, turnTools []tool.InvokableTool, prompt []*schema.Message) (string, error) {
	if s.models == nil {
		return "", ErrModelUnavailable
	}
	chatModel, err := s.models.CreateChatModel(ctx, s.opts.Model)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	// Convert []tool.InvokableTool to []tool.BaseTool
	baseTools := make([]tool.BaseTool, len(turnTools))
	for i, t := range turnTools {
		baseTools[i] = t
	}

	agentCfg := &adk.ChatModelAgentConfig{
		Name:          "plugbot",
		Description:   "A chatbot assistant that can call developer-provided plugin tools",
		Instruction:   s.opts.Instruction,
		Model:         chatModel,
		MaxIterations: s.opts.MaxIterations,
	}
	if len(baseTools) > 0 {
		agentCfg.ToolsConfig = adk.ToolsConfig{ToolsNodeConfig: compose.ToolsNodeConfig{Tools: baseTools}}
	}
	agent, err := adk.NewChatModelAgent(ctx, agentCfg)
	if err != nil {
		return "", &AgentError{ConversationID: conversationID, Err: fmt.Errorf("failed to create agent: %w", err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.AgentTimeout)
	defer cancel()

	iter := agent.Run(runCtx, &adk.AgentInput{Messages: prompt, EnableStreaming: false})

	var last *schema.Message
	for {
		part, ok := iter.Next()
		if !ok {
			break
		}
		if part.Err != nil {
			return "", &AgentError{ConversationID: conversationID, Err: part.Err}
		}
		if part.Output == nil || part.Output.MessageOutput == nil {
			continue
		}
		msg, err := part.Output.MessageOutput.GetMessage()
		if err != nil {
			return "", &AgentError{ConversationID: conversationID, Err: err}
		}
		if msg.Role == schema.Tool {
			s.logger.Debug("Tool call finished", "conversationID", conversationID, "tool", msg.ToolName)
		}
		last = msg
	}
	if err := runCtx.Err(); err != nil {
		return "", &AgentError{ConversationID: conversationID, Err: err}
	}

	return finalAnswer(last)
}

// finalAnswer extracts the agent's answer from its last message, which must
// be an assistant message with no pending tool calls.
func finalAnswer(last *schema.Message) (string, error) {
	if last == nil || last.Role != schema.Assistant || len(last.ToolCalls) > 0 {
		return "", ErrNoFinalAnswer
	}
	return last.Content, nil
}

// persistTurn appends the user and assistant messages and bumps the
// conversation in one transaction.
func (s *ChatService) persistTurn(ctx context.Context, conversationID, input, answer string) ([]db.Message, error) {
	var persisted []db.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&db.Message{}).
			Where("conversation_id = ?", conversationID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}

		now := time.Now()
		persisted = []db.Message{
			{
				ID:             uuid.New().String(),
				ConversationID: conversationID,
				Seq:            maxSeq + 1,
				Role:           db.RoleUser,
				Content:        input,
				CreatedAt:      now,
			},
			{
				ID:             uuid.New().String(),
				ConversationID: conversationID,
				Seq:            maxSeq + 2,
				Role:           db.RoleAssistant,
				Content:        answer,
				CreatedAt:      now,
			},
		}
		if err := tx.Create(&persisted).Error; err != nil {
			return err
		}
		return tx.Model(&db.Conversation{}).
			Where("id = ?", conversationID).
			Update("updated_at", now).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save turn: %w", err)
	}
	return persisted, nil
}
