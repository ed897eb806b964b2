package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/choraleia/plugbot/pkg/db"
	"github.com/choraleia/plugbot/pkg/event"
	"github.com/cloudwego/eino/schema"
)

const (
	titleInstruction = "You purpose it to suggest a suitable title for a conversation. " +
		"title should be relevant to the chat history and concise."
	titleRequest   = "Suggest a title for a conversation"
	maxTitleRunes  = 200
	autoTitleLimit = 30 * time.Second
)

// SuggestTitle asks the model for a title based on the conversation so far
// and stores it.
func (s *ChatService) SuggestTitle(ctx context.Context, userID, conversationID string) (string, error) {
	conv, err := s.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return "", err
	}
	if s.models == nil {
		return "", ErrModelUnavailable
	}
	chatModel, err := s.models.CreateChatModel(ctx, s.opts.Model)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	msgs := []*schema.Message{schema.SystemMessage(titleInstruction)}
	for _, m := range conv.Messages {
		switch m.Role {
		case db.RoleUser:
			msgs = append(msgs, schema.UserMessage(m.Content))
		case db.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		}
	}
	msgs = append(msgs, schema.UserMessage(titleRequest))

	resp, err := chatModel.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}
	title := cleanTitle(resp.Content)
	if title == "" {
		return "", ErrNoFinalAnswer
	}

	if err := s.db.WithContext(ctx).
		Model(&db.Conversation{}).
		Where("id = ?", conv.ID).
		Update("title", title).Error; err != nil {
		return "", fmt.Errorf("failed to save title: %w", err)
	}
	s.emitter.Emit(event.ConversationTitleChangedEvent{ConversationID: conv.ID, Title: title, UserID: userID})
	return title, nil
}

func (s *ChatService) autoTitle(userID, conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), autoTitleLimit)
	defer cancel()
	if _, err := s.SuggestTitle(ctx, userID, conversationID); err != nil {
		s.logger.Warn("Failed to generate conversation title", "conversationID", conversationID, "error", err)
	}
}

func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.TrimPrefix(title, "Title:")
	title = strings.TrimSpace(strings.Trim(title, "\"'`*# "))
	if r := []rune(title); len(r) > maxTitleRunes {
		title = string(r[:maxTitleRunes])
	}
	return title
}
