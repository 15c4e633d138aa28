package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"market_cache/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *RunLog {
	dbName := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := db.AutoMigrate(&domain.RefreshRun{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	l := &RunLog{db: db}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := setupTestDB(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// 1. Record
	for i, ds := range []string{"prices", "pools", "prices"} {
		run := &domain.RefreshRun{Dataset: ds, Attempt: 1, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := l.Record(run); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if run.ID == "" {
			t.Fatal("expected ID to be assigned")
		}
	}

	// 2. Recent, filtered
	runs, err := l.Recent("prices", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 price runs, got %d", len(runs))
	}
	if !runs[0].StartedAt.After(runs[1].StartedAt) {
		t.Errorf("expected newest first, got %v then %v", runs[0].StartedAt, runs[1].StartedAt)
	}

	// 3. Recent, all datasets with limit
	runs, err = l.Recent("", 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected limit of 2, got %d", len(runs))
	}
}

func TestLastSuccess(t *testing.T) {
	l := setupTestDB(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	l.Record(&domain.RefreshRun{Dataset: "history_daily", StartedAt: base, Kind: domain.KindNone})
	l.Record(&domain.RefreshRun{Dataset: "history_daily", StartedAt: base.Add(time.Minute), Kind: domain.KindTransient, Error: "timeout"})

	run, err := l.LastSuccess("history_daily")
	if err != nil {
		t.Fatalf("LastSuccess failed: %v", err)
	}
	if run == nil {
		t.Fatal("expected a successful run")
	}
	if !run.StartedAt.Equal(base) {
		t.Errorf("expected run at %v, got %v", base, run.StartedAt)
	}

	none, err := l.LastSuccess("pools")
	if err != nil {
		t.Fatalf("LastSuccess failed: %v", err)
	}
	if none != nil {
		t.Error("expected nil for a dataset with no runs")
	}
}

func TestPrune(t *testing.T) {
	l := setupTestDB(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	l.Record(&domain.RefreshRun{Dataset: "prices", StartedAt: base})
	l.Record(&domain.RefreshRun{Dataset: "prices", StartedAt: base.Add(48 * time.Hour)})

	n, err := l.Prune(base.Add(24 * time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned run, got %d", n)
	}
	runs, _ := l.Recent("", 10)
	if len(runs) != 1 {
		t.Errorf("expected 1 remaining run, got %d", len(runs))
	}
}

func TestRecordFailureKind(t *testing.T) {
	l := setupTestDB(t)
	err := domain.NewContractError("adapools", "dcspark_list", 403, errors.New("forbidden"))

	run := &domain.RefreshRun{Dataset: "pools", Kind: domain.KindOf(err), Error: err.Error()}
	if err := l.Record(run); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	runs, _ := l.Recent("pools", 1)
	if len(runs) != 1 || runs[0].Kind != domain.KindContract {
		t.Fatalf("expected one contract run, got %+v", runs)
	}
	if runs[0].Succeeded() {
		t.Error("contract failure must not count as success")
	}
}
