// API types for plugins and plugin versions
package models

import (
	"time"

	"github.com/choraleia/plugbot/pkg/db"
)

type Plugin = db.Plugin

// PluginVersionEntry is one row of a plugin's version history. The live
// version is synthesized from the plugin record with IsCurrent set.
type PluginVersionEntry struct {
	PluginID      string    `json:"plugin_id"`
	VersionNumber int       `json:"version_number"`
	Name          string    `json:"name"`
	Code          string    `json:"code"`
	CreatedAt     time.Time `json:"created_at"`
	IsCurrent     bool      `json:"is_current"`
}

// PluginFailure reports a plugin dropped from a tool set
type PluginFailure struct {
	PluginID string `json:"plugin_id"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

// CreatePluginRequest represents a request to create a plugin
type CreatePluginRequest struct {
	Name string `json:"name"`
	Code string `json:"code" binding:"required"`
}

// UpdatePluginRequest updates name and/or code; nil fields are unchanged
type UpdatePluginRequest struct {
	Name *string `json:"name,omitempty"`
	Code *string `json:"code,omitempty"`
}

// ValidatePluginRequest checks plugin code without saving it
type ValidatePluginRequest struct {
	Code string `json:"code" binding:"required"`
}

// PluginListResponse represents the response for listing plugins
type PluginListResponse struct {
	Plugins []Plugin `json:"plugins"`
}
