package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// getDataDir returns the OS-appropriate data directory for the app
// If CMS_DATA_DIR is set, it overrides the default location (useful for testing)
func getDataDir() (string, error) {
	if customDir := os.Getenv("CMS_DATA_DIR"); customDir != "" {
		if err := os.MkdirAll(customDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create custom data directory: %w", err)
		}
		return customDir, nil
	}

	var baseDir string

	switch runtime.GOOS {
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		baseDir = filepath.Join(homeDir, "Library", "Application Support", "go-cms")
	case "windows":
		baseDir = filepath.Join(os.Getenv("APPDATA"), "go-cms")
	default: // Linux and others
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		baseDir = filepath.Join(homeDir, ".config", "go-cms")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return baseDir, nil
}

// initDB opens the SQLite database in dataDir and creates the core tables.
// The plugin tables are migrated by plugin.NewStore through the returned
// gorm handle, which shares the same connection pool.
func initDB(dataDir string, log *zap.SugaredLogger) (*sql.DB, *gorm.DB, error) {
	dbPath := filepath.Join(dataDir, "cms.db")
	log.Infof("Using database at: %s", dbPath)

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warnf("Failed to enable WAL mode: %v", err)
	}

	gdb, err := openGorm(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := createSettingsTable(db); err != nil {
		db.Close()
		return nil, nil, err
	}

	return db, gdb, nil
}

func openGorm(db *sql.DB) (*gorm.DB, error) {
	gdb, err := gorm.Open(&sqlite.Dialector{Conn: db}, &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return gdb, nil
}

func createSettingsTable(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create settings table: %w", err)
	}
	return nil
}

// getSetting returns the stored value for key and whether it was set.
func getSetting(db *sql.DB, key string) (string, bool, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

func setSetting(db *sql.DB, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

func deleteSetting(db *sql.DB, key string) error {
	if _, err := db.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}
