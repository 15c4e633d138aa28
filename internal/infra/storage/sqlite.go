package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"market_cache/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RunLog persists refresh outcomes. Cache contents are never written here.
type RunLog struct {
	db *gorm.DB
}

// NewRunLog opens the run log at dsn. In-memory DSNs need no directory.
func NewRunLog(dsn string) (*RunLog, error) {
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	if !strings.Contains(dsn, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(strings.TrimPrefix(dsn, "file:")), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.RefreshRun{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &RunLog{db: db}, nil
}

// Record stores one attempt. A missing ID or start time is filled in.
func (l *RunLog) Record(run *domain.RefreshRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	return l.db.Create(run).Error
}

// Recent returns up to n runs, newest first. An empty dataset means all.
func (l *RunLog) Recent(dataset string, n int) ([]domain.RefreshRun, error) {
	if n <= 0 {
		n = 20
	}
	q := l.db.Order("started_at desc").Limit(n)
	if dataset != "" {
		q = q.Where("dataset = ?", dataset)
	}
	var runs []domain.RefreshRun
	err := q.Find(&runs).Error
	return runs, err
}

// LastSuccess returns the newest successful run of dataset, or nil.
func (l *RunLog) LastSuccess(dataset string) (*domain.RefreshRun, error) {
	var runs []domain.RefreshRun
	err := l.db.
		Where("dataset = ? AND kind IN ?", dataset, []domain.ErrorKind{domain.KindNone, domain.KindPartial}).
		Order("started_at desc").
		Limit(1).
		Find(&runs).Error
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

// Prune deletes runs started before cutoff and returns how many were removed.
func (l *RunLog) Prune(cutoff time.Time) (int64, error) {
	res := l.db.Where("started_at < ?", cutoff).Delete(&domain.RefreshRun{})
	return res.RowsAffected, res.Error
}

// Close releases the underlying connection.
func (l *RunLog) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
