// Database models for plugins and their version history
package db

import "time"

// Developer is a user that has authored at least one plugin.
type Developer struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	UserID    string    `json:"user_id" gorm:"uniqueIndex;size:64;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (Developer) TableName() string {
	return "developers"
}

// Plugin is the live, mutable record of a developer-authored code snippet.
// Version is bumped on every update; prior states live in PluginVersion.
type Plugin struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	DeveloperID string    `json:"developer_id" gorm:"index;size:36"`
	Name        string    `json:"name" gorm:"size:200;not null"`
	Description string    `json:"description,omitempty" gorm:"type:text"`
	Code        string    `json:"code" gorm:"type:text;not null"`
	Version     int       `json:"version" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Plugin) TableName() string {
	return "plugins"
}

// PluginVersion is an immutable snapshot of a plugin taken right before it was updated.
type PluginVersion struct {
	ID            int64     `json:"id" gorm:"primaryKey;autoIncrement:true"`
	PluginID      string    `json:"plugin_id" gorm:"size:36;not null;uniqueIndex:idx_plugin_version"`
	VersionNumber int       `json:"version_number" gorm:"not null;uniqueIndex:idx_plugin_version"`
	Name          string    `json:"name" gorm:"size:200;not null"`
	Code          string    `json:"code" gorm:"type:text;not null"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (PluginVersion) TableName() string {
	return "plugin_versions"
}

// InitialPluginVersion is the version number of a freshly created plugin.
const InitialPluginVersion = 1
