package handler

import (
	"log/slog"
	"net/http"

	"github.com/choraleia/plugbot/pkg/models"
	"github.com/choraleia/plugbot/pkg/service"
	"github.com/gin-gonic/gin"
)

// ConversationHandler serves conversations and runs turns.
type ConversationHandler struct {
	chat   *service.ChatService
	logger *slog.Logger
}

func NewConversationHandler(chat *service.ChatService, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{chat: chat, logger: logger}
}

// RegisterRoutes registers conversation routes
func (h *ConversationHandler) RegisterRoutes(r *gin.RouterGroup) {
	conversations := r.Group("/conversations")
	{
		conversations.GET("", h.List)
		conversations.POST("", h.Create)
		conversations.GET("/:id", h.Get)
		conversations.POST("/:id/turns", h.TakeTurn)
		conversations.POST("/:id/title", h.SuggestTitle)
	}
}

// GET /api/conversations
func (h *ConversationHandler) List(c *gin.Context) {
	convs, err := h.chat.ListUserConversations(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, models.ConversationListResponse{Conversations: convs})
}

// POST /api/conversations
func (h *ConversationHandler) Create(c *gin.Context) {
	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conv, err := h.chat.CreateConversation(c.Request.Context(), currentUser(c), req.ChatbotID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// GET /api/conversations/:id
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.chat.GetConversation(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// TakeTurn sends the user's input and waits for the agent's final answer.
// POST /api/conversations/:id/turns
func (h *ConversationHandler) TakeTurn(c *gin.Context) {
	var req models.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := h.chat.TakeTurn(c.Request.Context(), currentUser(c), c.Param("id"), req.Input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// POST /api/conversations/:id/title
func (h *ConversationHandler) SuggestTitle(c *gin.Context) {
	title, err := h.chat.SuggestTitle(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, models.TitleResponse{Title: title})
}
