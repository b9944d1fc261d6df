package db

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/code-cortex/codemirror/models"
)

var (
	instance *gorm.DB
	once     sync.Once
	mutex    sync.Mutex
)

// Get returns the singleton database instance, opening it under
// ~/.cache/codemirror on first use.
func Get() (*gorm.DB, error) {
	var err error
	once.Do(func() {
		instance, err = open()
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// Reset closes and clears the singleton. Mainly for tests.
func Reset() {
	mutex.Lock()
	defer mutex.Unlock()

	if instance != nil {
		sqlDB, _ := instance.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
		instance = nil
	}
	once = sync.Once{}
}

func open() (*gorm.DB, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return OpenPath(filepath.Join(homeDir, ".cache", "codemirror"))
}

// OpenPath opens (or creates) the database under the given directory and
// migrates all models.
func OpenPath(dir string) (*gorm.DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return openDSN(filepath.Join(dir, "codemirror.db"))
}

// OpenMemory opens a private in-memory database. Used by tests.
func OpenMemory() (*gorm.DB, error) {
	return openDSN("file::memory:?cache=shared")
}

func openDSN(dsn string) (*gorm.DB, error) {
	config := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dsn), config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// SQLite concurrency settings; WAL keeps readers off the writer's lock.
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate auto-migrates every persisted model, dependencies first.
func Migrate(db *gorm.DB) error {
	toMigrate := []any{
		&models.Job{},
		&models.AnalysisRequest{},
		&models.FileEvent{},
		&models.ToolExecution{},
		&models.GitAnalysisResult{},
		&models.SecurityScanResult{},
		&models.SecurityFinding{},
		&models.StructuralSearchResult{},
		&models.Pattern{},
		&models.Insight{},
		&models.SyncRecord{},
		&models.RepoMapping{},
	}

	for _, model := range toMigrate {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}
	return nil
}
