package handler

import (
	"log/slog"
	"net/http"

	"github.com/choraleia/plugbot/pkg/models"
	"github.com/choraleia/plugbot/pkg/service"
	"github.com/gin-gonic/gin"
)

// ChatbotHandler serves chatbots and their plugin attachments.
type ChatbotHandler struct {
	chatbots *service.ChatbotService
	chat     *service.ChatService
	logger   *slog.Logger
}

func NewChatbotHandler(chatbots *service.ChatbotService, chat *service.ChatService, logger *slog.Logger) *ChatbotHandler {
	return &ChatbotHandler{chatbots: chatbots, chat: chat, logger: logger}
}

// RegisterRoutes registers chatbot routes
func (h *ChatbotHandler) RegisterRoutes(r *gin.RouterGroup) {
	chatbots := r.Group("/chatbots")
	{
		chatbots.GET("", h.List)
		chatbots.POST("", h.Create)
		chatbots.GET("/default", h.Default)
		chatbots.GET("/:id", h.Get)
		chatbots.PUT("/:id", h.Update)
		chatbots.GET("/:id/conversations", h.ListConversations)

		// Plugin attachments
		chatbots.POST("/:id/plugins", h.AddPlugin)
		chatbots.PUT("/:id/plugins/:pluginId", h.TogglePlugin)
		chatbots.DELETE("/:id/plugins/:pluginId", h.RemovePlugin)
	}
}

// GET /api/chatbots
func (h *ChatbotHandler) List(c *gin.Context) {
	bots, err := h.chatbots.ListUserChatbots(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatbots": bots})
}

// POST /api/chatbots
func (h *ChatbotHandler) Create(c *gin.Context) {
	var req models.CreateChatbotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	bot, err := h.chatbots.CreateChatbot(c.Request.Context(), currentUser(c), req.Name, req.Description, req.Avatar)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, bot)
}

// Default returns the caller's first chatbot, creating one if needed.
// GET /api/chatbots/default
func (h *ChatbotHandler) Default(c *gin.Context) {
	bot, err := h.chatbots.EnsureDefaultChatbot(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, bot)
}

// GET /api/chatbots/:id
func (h *ChatbotHandler) Get(c *gin.Context) {
	bot, err := h.chatbots.GetOwnedChatbot(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, bot)
}

// PUT /api/chatbots/:id
func (h *ChatbotHandler) Update(c *gin.Context) {
	var req models.UpdateChatbotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	bot, err := h.chatbots.UpdateChatbot(c.Request.Context(), currentUser(c), c.Param("id"), req.Name, req.Description, req.Avatar)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, bot)
}

// GET /api/chatbots/:id/conversations
func (h *ChatbotHandler) ListConversations(c *gin.Context) {
	convs, err := h.chat.ListChatbotConversations(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, models.ConversationListResponse{Conversations: convs})
}

// AddPlugin attaches a plugin, enabled unless the request says otherwise.
// POST /api/chatbots/:id/plugins
func (h *ChatbotHandler) AddPlugin(c *gin.Context) {
	var req models.AddChatbotPluginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	assoc, err := h.chatbots.AddPlugin(c.Request.Context(), currentUser(c), c.Param("id"), req.PluginID, enabled)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, assoc)
}

// PUT /api/chatbots/:id/plugins/:pluginId
func (h *ChatbotHandler) TogglePlugin(c *gin.Context) {
	var req models.ToggleChatbotPluginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.chatbots.TogglePlugin(c.Request.Context(), currentUser(c), c.Param("id"), c.Param("pluginId"), req.Enabled); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": req.Enabled})
}

// DELETE /api/chatbots/:id/plugins/:pluginId
func (h *ChatbotHandler) RemovePlugin(c *gin.Context) {
	if err := h.chatbots.RemovePlugin(c.Request.Context(), currentUser(c), c.Param("id"), c.Param("pluginId")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
