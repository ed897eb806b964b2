package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/choraleia/plugbot/pkg/models"
	"github.com/choraleia/plugbot/pkg/service"
	"github.com/gin-gonic/gin"
)

// PluginHandler serves plugin CRUD and version history.
type PluginHandler struct {
	plugins *service.PluginService
	logger  *slog.Logger
}

func NewPluginHandler(plugins *service.PluginService, logger *slog.Logger) *PluginHandler {
	return &PluginHandler{plugins: plugins, logger: logger}
}

// RegisterRoutes registers plugin routes
func (h *PluginHandler) RegisterRoutes(r *gin.RouterGroup) {
	plugins := r.Group("/plugins")
	{
		plugins.GET("", h.List)
		plugins.POST("", h.Create)
		plugins.POST("/validate", h.Validate)
		plugins.GET("/:id", h.Get)
		plugins.PUT("/:id", h.Update)
		plugins.GET("/:id/chatbots", h.ListChatbots)
		plugins.GET("/:id/versions", h.ListVersions)
		plugins.GET("/:id/versions/:version", h.GetVersion)
		plugins.POST("/:id/versions/:version/restore", h.Restore)
	}
}

// List returns all plugins. ?mine=true limits to the caller's own plugins
// and ?q= searches by name and description.
// GET /api/plugins
func (h *PluginHandler) List(c *gin.Context) {
	var (
		plugins []models.Plugin
		err     error
	)
	switch {
	case c.Query("q") != "":
		limit, _ := strconv.Atoi(c.Query("limit"))
		plugins, err = h.plugins.SearchPlugins(c.Request.Context(), c.Query("q"), limit)
	case c.Query("mine") == "true":
		plugins, err = h.plugins.ListDeveloperPlugins(c.Request.Context(), currentUser(c))
	default:
		plugins, err = h.plugins.ListAvailablePlugins(c.Request.Context())
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, models.PluginListResponse{Plugins: plugins})
}

// Create saves a new plugin; code that does not compile is rejected.
// POST /api/plugins
func (h *PluginHandler) Create(c *gin.Context) {
	var req models.CreatePluginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	plugin, err := h.plugins.CreatePlugin(c.Request.Context(), currentUser(c), req.Name, req.Code)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, plugin)
}

// Validate compiles code without saving it.
// POST /api/plugins/validate
func (h *PluginHandler) Validate(c *gin.Context) {
	var req models.ValidatePluginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	summary, err := h.plugins.ValidateCode(c.Request.Context(), req.Code)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GET /api/plugins/:id
func (h *PluginHandler) Get(c *gin.Context) {
	plugin, err := h.plugins.GetPlugin(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, plugin)
}

// Update changes name and/or code. Only the plugin's developer may update it.
// PUT /api/plugins/:id
func (h *PluginHandler) Update(c *gin.Context) {
	var req models.UpdatePluginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.plugins.AuthorizeDeveloper(ctx, currentUser(c), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	plugin, err := h.plugins.Update(ctx, id, req.Name, req.Code)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, plugin)
}

// GET /api/plugins/:id/chatbots
func (h *PluginHandler) ListChatbots(c *gin.Context) {
	chatbots, err := h.plugins.ListPluginChatbots(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatbots": chatbots})
}

// GET /api/plugins/:id/versions
func (h *PluginHandler) ListVersions(c *gin.Context) {
	versions, err := h.plugins.ListVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// GET /api/plugins/:id/versions/:version
func (h *PluginHandler) GetVersion(c *gin.Context) {
	n, ok := versionParam(c)
	if !ok {
		return
	}
	version, err := h.plugins.GetVersion(c.Request.Context(), c.Param("id"), n)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

// Restore makes an archived version live again as a new version.
// POST /api/plugins/:id/versions/:version/restore
func (h *PluginHandler) Restore(c *gin.Context) {
	n, ok := versionParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.plugins.AuthorizeDeveloper(ctx, currentUser(c), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	plugin, err := h.plugins.Restore(ctx, id, n)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, plugin)
}

func versionParam(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("version"))
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version must be a positive integer"})
		return 0, false
	}
	return n, true
}
