package kv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Preference is one row of the preferences table.
type Preference struct {
	Key       string `gorm:"column:pref_key;primaryKey"`
	Value     []byte
	UpdatedAt time.Time
}

// SQLiteStore keeps values in a SQLite preferences table.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (and migrates) the database at dsn. A plain file path
// gets its parent directory created.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	if dsn != "" && dsn[0] != ':' && !hasScheme(dsn) {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("kv: open sqlite %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&Preference{}); err != nil {
		return nil, fmt.Errorf("kv: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func hasScheme(dsn string) bool {
	return len(dsn) > 5 && dsn[:5] == "file:"
}

func (s *SQLiteStore) Get(key string) ([]byte, error) {
	var p Preference
	err := s.db.Where("pref_key = ?", key).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p.Value, nil
}

func (s *SQLiteStore) Set(key string, value []byte) error {
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&Preference{Key: key, Value: value}).Error
}

func (s *SQLiteStore) Remove(key string) error {
	return s.db.Where("pref_key = ?", key).Delete(&Preference{}).Error
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
