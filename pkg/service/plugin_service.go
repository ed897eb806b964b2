package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/choraleia/plugbot/pkg/db"
	"github.com/choraleia/plugbot/pkg/event"
	"github.com/choraleia/plugbot/pkg/models"
	"github.com/choraleia/plugbot/pkg/sandbox"
	"github.com/choraleia/plugbot/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// maxUpdateAttempts bounds optimistic retries when concurrent updates race
// on the same plugin.
const maxUpdateAttempts = 3

// errVersionRace marks a lost compare-and-swap on plugins.version.
var errVersionRace = errors.New("plugin version changed during update")

// PluginCatalog indexes plugins for search. Implementations must tolerate
// re-indexing the same plugin.
type PluginCatalog interface {
	Index(ctx context.Context, plugin *db.Plugin) error
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// PluginService manages plugins and their version history.
type PluginService struct {
	db       *gorm.DB
	compiler *sandbox.Compiler
	emitter  *event.Emitter
	catalog  PluginCatalog
	logger   *slog.Logger
}

func NewPluginService(gdb *gorm.DB, compiler *sandbox.Compiler, emitter *event.Emitter) *PluginService {
	if emitter == nil {
		emitter = event.Global()
	}
	return &PluginService{
		db:       gdb,
		compiler: compiler,
		emitter:  emitter,
		logger:   utils.GetLogger(),
	}
}

// SetCatalog enables semantic search. Without a catalog, search falls back
// to matching names and descriptions.
func (s *PluginService) SetCatalog(catalog PluginCatalog) {
	s.catalog = catalog
}

// ValidateCode compiles code without saving it.
func (s *PluginService) ValidateCode(ctx context.Context, code string) (*sandbox.ToolSummary, error) {
	return s.compiler.Validate(ctx, code)
}

// CreatePlugin saves a new plugin at version 1. The user becomes a developer
// on first creation. Code that does not compile is rejected with its
// *sandbox.CompileError. An empty name defaults to the tool name.
func (s *PluginService) CreatePlugin(ctx context.Context, userID, name, code string) (*db.Plugin, error) {
	if userID == "" {
		return nil, ErrForbidden
	}
	summary, err := s.compiler.Validate(ctx, code)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = summary.Name
	}

	plugin := &db.Plugin{
		ID:          uuid.New().String(),
		Name:        name,
		Description: summary.Description,
		Code:        code,
		Version:     db.InitialPluginVersion,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dev, err := getOrCreateDeveloper(tx, userID)
		if err != nil {
			return err
		}
		plugin.DeveloperID = dev.ID
		return tx.Create(plugin).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin: %w", err)
	}

	s.logger.Info("Plugin created", "pluginID", plugin.ID, "name", plugin.Name, "userID", userID)
	s.emitter.Emit(event.PluginCreatedEvent{PluginID: plugin.ID, UserID: userID})
	s.index(ctx, plugin)
	return plugin, nil
}

func getOrCreateDeveloper(tx *gorm.DB, userID string) (*db.Developer, error) {
	var dev db.Developer
	err := tx.Where(db.Developer{UserID: userID}).
		Attrs(db.Developer{ID: uuid.New().String()}).
		FirstOrCreate(&dev).Error
	if err != nil {
		return nil, fmt.Errorf("failed to resolve developer: %w", err)
	}
	return &dev, nil
}

// GetPlugin returns the live plugin record.
func (s *PluginService) GetPlugin(ctx context.Context, pluginID string) (*db.Plugin, error) {
	var plugin db.Plugin
	if err := s.db.WithContext(ctx).First(&plugin, "id = ?", pluginID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPluginNotFound
		}
		return nil, err
	}
	return &plugin, nil
}

// ListDeveloperPlugins returns the plugins authored by userID.
func (s *PluginService) ListDeveloperPlugins(ctx context.Context, userID string) ([]db.Plugin, error) {
	var plugins []db.Plugin
	err := s.db.WithContext(ctx).
		Joins("JOIN developers ON developers.id = plugins.developer_id").
		Where("developers.user_id = ?", userID).
		Order("plugins.updated_at DESC").
		Find(&plugins).Error
	return plugins, err
}

// ListAvailablePlugins returns every plugin any chatbot may attach.
func (s *PluginService) ListAvailablePlugins(ctx context.Context) ([]db.Plugin, error) {
	var plugins []db.Plugin
	err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&plugins).Error
	return plugins, err
}

// ListPluginChatbots returns the chatbots that have pluginID attached.
func (s *PluginService) ListPluginChatbots(ctx context.Context, pluginID string) ([]db.Chatbot, error) {
	if _, err := s.GetPlugin(ctx, pluginID); err != nil {
		return nil, err
	}
	var chatbots []db.Chatbot
	err := s.db.WithContext(ctx).
		Joins("JOIN chatbot_plugins ON chatbot_plugins.chatbot_id = chatbots.id").
		Where("chatbot_plugins.plugin_id = ?", pluginID).
		Order("chatbots.created_at ASC").
		Find(&chatbots).Error
	return chatbots, err
}

// SearchPlugins finds plugins by name or description.
func (s *PluginService) SearchPlugins(ctx context.Context, query string, limit int) ([]db.Plugin, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.ListAvailablePlugins(ctx)
	}
	if limit <= 0 {
		limit = 20
	}

	if s.catalog != nil {
		ids, err := s.catalog.Search(ctx, query, limit)
		if err == nil {
			return s.loadOrdered(ctx, ids)
		}
		s.logger.Warn("Plugin catalog search failed, using text match", "error", err)
	}

	var plugins []db.Plugin
	pattern := "%" + strings.ToLower(query) + "%"
	err := s.db.WithContext(ctx).
		Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern).
		Order("updated_at DESC").
		Limit(limit).
		Find(&plugins).Error
	return plugins, err
}

func (s *PluginService) loadOrdered(ctx context.Context, ids []string) ([]db.Plugin, error) {
	if len(ids) == 0 {
		return []db.Plugin{}, nil
	}
	var found []db.Plugin
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]db.Plugin, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	out := make([]db.Plugin, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// AuthorizeDeveloper returns ErrForbidden unless userID authored pluginID.
func (s *PluginService) AuthorizeDeveloper(ctx context.Context, userID, pluginID string) error {
	plugin, err := s.GetPlugin(ctx, pluginID)
	if err != nil {
		return err
	}
	var dev db.Developer
	if err := s.db.WithContext(ctx).First(&dev, "id = ?", plugin.DeveloperID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrForbidden
		}
		return err
	}
	if dev.UserID != userID {
		return ErrForbidden
	}
	return nil
}

// Update archives the current state of the plugin and makes name and/or
// code the new live version. New code must compile. Concurrent updates are
// retried a bounded number of times before ErrVersionConflict.
func (s *PluginService) Update(ctx context.Context, pluginID string, name, code *string) (*db.Plugin, error) {
	if name == nil && code == nil {
		return nil, invalidInput("nothing to update")
	}
	if name != nil && strings.TrimSpace(*name) == "" {
		return nil, invalidInput("plugin name must not be empty")
	}
	var description *string
	if code != nil {
		summary, err := s.compiler.Validate(ctx, *code)
		if err != nil {
			return nil, err
		}
		description = &summary.Description
	}
	return s.update(ctx, pluginID, name, code, description)
}

// update applies the change under optimistic concurrency. Plugin code is
// never evaluated here; description is computed by the caller beforehand.
func (s *PluginService) update(ctx context.Context, pluginID string, name, code, description *string) (*db.Plugin, error) {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		updated, err := s.updateOnce(ctx, pluginID, name, code, description)
		if err == nil {
			s.logger.Info("Plugin updated", "pluginID", pluginID, "version", updated.Version)
			s.emitter.Emit(event.PluginUpdatedEvent{PluginID: pluginID, Version: updated.Version, UserID: s.ownerUserID(ctx, updated)})
			s.index(ctx, updated)
			return updated, nil
		}
		if !errors.Is(err, errVersionRace) && !db.IsUniqueViolation(err) {
			return nil, err
		}
		s.logger.Debug("Plugin update raced, retrying", "pluginID", pluginID, "attempt", attempt)
	}
	return nil, ErrVersionConflict
}

func (s *PluginService) updateOnce(ctx context.Context, pluginID string, name, code, description *string) (*db.Plugin, error) {
	var updated db.Plugin
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current db.Plugin
		if err := tx.First(&current, "id = ?", pluginID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPluginNotFound
			}
			return err
		}

		snapshot := db.PluginVersion{
			PluginID:      current.ID,
			VersionNumber: current.Version,
			Name:          current.Name,
			Code:          current.Code,
		}
		if err := tx.Create(&snapshot).Error; err != nil {
			return err
		}

		updated = current
		if name != nil {
			updated.Name = strings.TrimSpace(*name)
		}
		if code != nil {
			updated.Code = *code
		}
		if description != nil {
			updated.Description = *description
		}
		updated.Version = current.Version + 1
		updated.UpdatedAt = time.Now()

		res := tx.Model(&db.Plugin{}).
			Where("id = ? AND version = ?", current.ID, current.Version).
			Updates(map[string]any{
				"name":        updated.Name,
				"code":        updated.Code,
				"description": updated.Description,
				"version":     updated.Version,
				"updated_at":  updated.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errVersionRace
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListVersions returns the history newest first: the live version followed
// by archived versions in descending version order.
func (s *PluginService) ListVersions(ctx context.Context, pluginID string) ([]models.PluginVersionEntry, error) {
	plugin, err := s.GetPlugin(ctx, pluginID)
	if err != nil {
		return nil, err
	}

	var archived []db.PluginVersion
	if err := s.db.WithContext(ctx).
		Where("plugin_id = ?", pluginID).
		Order("version_number DESC").
		Find(&archived).Error; err != nil {
		return nil, err
	}

	entries := make([]models.PluginVersionEntry, 0, len(archived)+1)
	entries = append(entries, currentEntry(plugin))
	for _, v := range archived {
		entries = append(entries, archivedEntry(&v))
	}
	return entries, nil
}

// GetVersion returns version n of a plugin, live or archived.
func (s *PluginService) GetVersion(ctx context.Context, pluginID string, n int) (*models.PluginVersionEntry, error) {
	plugin, err := s.GetPlugin(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	if n == plugin.Version {
		entry := currentEntry(plugin)
		return &entry, nil
	}
	v, err := s.archivedVersion(ctx, pluginID, n)
	if err != nil {
		return nil, err
	}
	entry := archivedEntry(v)
	return &entry, nil
}

// Restore makes archived version n live again by recording it as a new
// version. The version counter never moves backwards.
func (s *PluginService) Restore(ctx context.Context, pluginID string, n int) (*db.Plugin, error) {
	if _, err := s.GetPlugin(ctx, pluginID); err != nil {
		return nil, err
	}
	v, err := s.archivedVersion(ctx, pluginID, n)
	if err != nil {
		return nil, err
	}
	// Archived code is restored even if it no longer compiles; the
	// description is only refreshed when it does.
	var description *string
	if summary, err := s.compiler.Validate(ctx, v.Code); err == nil {
		description = &summary.Description
	}
	s.logger.Info("Restoring plugin version", "pluginID", pluginID, "version", n)
	return s.update(ctx, pluginID, &v.Name, &v.Code, description)
}

func (s *PluginService) archivedVersion(ctx context.Context, pluginID string, n int) (*db.PluginVersion, error) {
	var v db.PluginVersion
	err := s.db.WithContext(ctx).
		Where("plugin_id = ? AND version_number = ?", pluginID, n).
		First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVersionNotFound
		}
		return nil, err
	}
	return &v, nil
}

func currentEntry(p *db.Plugin) models.PluginVersionEntry {
	return models.PluginVersionEntry{
		PluginID:      p.ID,
		VersionNumber: p.Version,
		Name:          p.Name,
		Code:          p.Code,
		CreatedAt:     p.UpdatedAt,
		IsCurrent:     true,
	}
}

func archivedEntry(v *db.PluginVersion) models.PluginVersionEntry {
	return models.PluginVersionEntry{
		PluginID:      v.PluginID,
		VersionNumber: v.VersionNumber,
		Name:          v.Name,
		Code:          v.Code,
		CreatedAt:     v.CreatedAt,
	}
}

func (s *PluginService) ownerUserID(ctx context.Context, p *db.Plugin) string {
	var dev db.Developer
	if err := s.db.WithContext(ctx).First(&dev, "id = ?", p.DeveloperID).Error; err != nil {
		return ""
	}
	return dev.UserID
}

func (s *PluginService) index(ctx context.Context, p *db.Plugin) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.Index(ctx, p); err != nil {
		s.logger.Warn("Failed to index plugin", "pluginID", p.ID, "error", err)
	}
}
