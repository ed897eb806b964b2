package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/choraleia/plugbot/pkg/db"
	"github.com/choraleia/plugbot/pkg/event"
	"github.com/choraleia/plugbot/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatbotService manages chatbots and their plugin associations.
type ChatbotService struct {
	db      *gorm.DB
	emitter *event.Emitter
	logger  *slog.Logger
}

func NewChatbotService(gdb *gorm.DB, emitter *event.Emitter) *ChatbotService {
	if emitter == nil {
		emitter = event.Global()
	}
	return &ChatbotService{
		db:      gdb,
		emitter: emitter,
		logger:  utils.GetLogger(),
	}
}

// CreateChatbot creates a chatbot owned by userID with no plugins.
func (s *ChatbotService) CreateChatbot(ctx context.Context, userID, name, description, avatar string) (*db.Chatbot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidInput("chatbot name is required")
	}
	bot := &db.Chatbot{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        name,
		Description: description,
		Avatar:      avatar,
	}
	if err := s.db.WithContext(ctx).Create(bot).Error; err != nil {
		return nil, fmt.Errorf("failed to create chatbot: %w", err)
	}
	s.emitter.Emit(event.ChatbotChangedEvent{ChatbotID: bot.ID, UserID: userID})
	return bot, nil
}

// EnsureDefaultChatbot returns the user's first chatbot, creating the
// default assistant when the user has none.
func (s *ChatbotService) EnsureDefaultChatbot(ctx context.Context, userID string) (*db.Chatbot, error) {
	var bot db.Chatbot
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		First(&bot).Error
	if err == nil {
		return &bot, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	s.logger.Info("Creating default chatbot", "userID", userID)
	return s.CreateChatbot(ctx, userID, db.DefaultChatbotName, db.DefaultChatbotDescription, db.DefaultChatbotAvatar)
}

// GetChatbot loads a chatbot with its plugin associations and plugins.
func (s *ChatbotService) GetChatbot(ctx context.Context, chatbotID string) (*db.Chatbot, error) {
	return loadChatbot(s.db.WithContext(ctx), chatbotID)
}

func loadChatbot(tx *gorm.DB, chatbotID string) (*db.Chatbot, error) {
	var bot db.Chatbot
	err := tx.Preload("Plugins", func(q *gorm.DB) *gorm.DB {
		return q.Order("chatbot_plugins.created_at ASC")
	}).Preload("Plugins.Plugin").First(&bot, "id = ?", chatbotID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatbotNotFound
		}
		return nil, err
	}
	return &bot, nil
}

// GetOwnedChatbot is GetChatbot restricted to chatbots owned by userID.
// Other users' chatbots are reported as not found.
func (s *ChatbotService) GetOwnedChatbot(ctx context.Context, userID, chatbotID string) (*db.Chatbot, error) {
	bot, err := s.GetChatbot(ctx, chatbotID)
	if err != nil {
		return nil, err
	}
	if bot.UserID != userID {
		return nil, ErrChatbotNotFound
	}
	return bot, nil
}

// ListUserChatbots returns userID's chatbots, oldest first.
func (s *ChatbotService) ListUserChatbots(ctx context.Context, userID string) ([]db.Chatbot, error) {
	var bots []db.Chatbot
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&bots).Error
	return bots, err
}

// UpdateChatbot changes the given fields; nil fields are left unchanged.
func (s *ChatbotService) UpdateChatbot(ctx context.Context, userID, chatbotID string, name, description, avatar *string) (*db.Chatbot, error) {
	bot, err := s.GetOwnedChatbot(ctx, userID, chatbotID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if name != nil {
		if strings.TrimSpace(*name) == "" {
			return nil, invalidInput("chatbot name must not be empty")
		}
		updates["name"] = strings.TrimSpace(*name)
	}
	if description != nil {
		updates["description"] = *description
	}
	if avatar != nil {
		updates["avatar"] = *avatar
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(bot).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update chatbot: %w", err)
		}
		s.emitter.Emit(event.ChatbotChangedEvent{ChatbotID: chatbotID, UserID: userID})
	}
	return s.GetChatbot(ctx, chatbotID)
}

// AddPlugin attaches pluginID to a chatbot owned by userID.
func (s *ChatbotService) AddPlugin(ctx context.Context, userID, chatbotID, pluginID string, enabled bool) (*db.ChatbotPlugin, error) {
	if _, err := s.GetOwnedChatbot(ctx, userID, chatbotID); err != nil {
		return nil, err
	}
	var plugin db.Plugin
	if err := s.db.WithContext(ctx).First(&plugin, "id = ?", pluginID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPluginNotFound
		}
		return nil, err
	}

	assoc := &db.ChatbotPlugin{ChatbotID: chatbotID, PluginID: pluginID, Enabled: enabled}
	if err := s.db.WithContext(ctx).Create(assoc).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrAlreadyAttached
		}
		return nil, fmt.Errorf("failed to attach plugin: %w", err)
	}
	assoc.Plugin = plugin

	s.logger.Info("Plugin attached", "chatbotID", chatbotID, "pluginID", pluginID, "enabled", enabled)
	s.emitter.Emit(event.ChatbotChangedEvent{ChatbotID: chatbotID, UserID: userID})
	return assoc, nil
}

// RemovePlugin detaches pluginID from a chatbot owned by userID.
func (s *ChatbotService) RemovePlugin(ctx context.Context, userID, chatbotID, pluginID string) error {
	if _, err := s.GetOwnedChatbot(ctx, userID, chatbotID); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Where("chatbot_id = ? AND plugin_id = ?", chatbotID, pluginID).
		Delete(&db.ChatbotPlugin{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrChatbotPluginMissing
	}
	s.emitter.Emit(event.ChatbotChangedEvent{ChatbotID: chatbotID, UserID: userID})
	return nil
}

// TogglePlugin enables or disables an attached plugin for this chatbot only.
func (s *ChatbotService) TogglePlugin(ctx context.Context, userID, chatbotID, pluginID string, enabled bool) error {
	if _, err := s.GetOwnedChatbot(ctx, userID, chatbotID); err != nil {
		return err
	}
	// MySQL reports zero affected rows when the value is unchanged, so
	// existence is checked separately.
	var count int64
	q := s.db.WithContext(ctx).
		Model(&db.ChatbotPlugin{}).
		Where("chatbot_id = ? AND plugin_id = ?", chatbotID, pluginID)
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrChatbotPluginMissing
	}
	if err := s.db.WithContext(ctx).
		Model(&db.ChatbotPlugin{}).
		Where("chatbot_id = ? AND plugin_id = ?", chatbotID, pluginID).
		Update("enabled", enabled).Error; err != nil {
		return err
	}
	s.emitter.Emit(event.ChatbotChangedEvent{ChatbotID: chatbotID, UserID: userID})
	return nil
}
