package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured database. SQLite runs on a single
// connection so that transactions never race each other for the file lock.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch driver {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		sqlDB, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		dialector = mysql.New(mysql.Config{Conn: sqlDB})
	case "postgres":
		sqlDB, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == "" || driver == "sqlite" {
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return gdb, nil
}

// OpenInMemory opens a private in-memory SQLite database with all tables migrated.
func OpenInMemory() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&Developer{},
		&Plugin{},
		&PluginVersion{},
		&Chatbot{},
		&ChatbotPlugin{},
		&Conversation{},
		&Message{},
	)
}

// IsUniqueViolation reports whether err is a unique constraint failure.
// Drivers without error translation are matched on their message text.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
