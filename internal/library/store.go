// Package library manages the track collection: metadata storage and the
// offline fingerprint build.
package library

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Track is a registered library entry. Immutable once created; removed only
// by an explicit Delete, which must also purge its fingerprints.
type Track struct {
	ID              uint32 `gorm:"primaryKey;autoIncrement"`
	Label           string `gorm:"uniqueIndex:idx_track_label"`
	DurationSamples int64
	CreatedAt       time.Time
}

// Store keeps track metadata in sqlite.
type Store struct {
	DB *gorm.DB
	db *sql.DB
}

func OpenStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // sqlite; builds write concurrently

	if err := db.AutoMigrate(&Track{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &Store{DB: db, db: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Register creates a track or, when the label is already present, returns
// the existing id so rebuilds keep ids stable.
func (s *Store) Register(label string, durationSamples int64) (uint32, error) {
	var track Track
	err := s.DB.Where("label = ?", label).First(&track).Error
	if err == nil {
		return track.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("querying existing track: %w", err)
	}

	track = Track{Label: label, DurationSamples: durationSamples}
	if err := s.DB.Create(&track).Error; err != nil {
		return 0, fmt.Errorf("creating track: %w", err)
	}
	return track.ID, nil
}

func (s *Store) Get(id uint32) (*Track, error) {
	var track Track
	if err := s.DB.First(&track, id).Error; err != nil {
		return nil, err
	}
	return &track, nil
}

func (s *Store) List() ([]Track, error) {
	var tracks []Track
	if err := s.DB.Order("id").Find(&tracks).Error; err != nil {
		return nil, err
	}
	return tracks, nil
}

func (s *Store) Delete(id uint32) error {
	return s.DB.Delete(&Track{}, id).Error
}

// Wipe removes every track (force rebuild).
func (s *Store) Wipe() error {
	return s.DB.Where("1 = 1").Delete(&Track{}).Error
}
