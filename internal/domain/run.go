package domain

import "time"

// RefreshRun records the outcome of one refresh attempt. It holds no cached
// market data.
type RefreshRun struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	CycleID    string    `gorm:"index;size:36" json:"cycleId"`
	Dataset    string    `gorm:"index;size:32" json:"dataset"`
	Attempt    int       `json:"attempt"`
	StartedAt  time.Time `gorm:"index" json:"startedAt"`
	DurationMS int64     `json:"durationMs"`
	Kind       ErrorKind `gorm:"size:16" json:"kind"`
	Error      string    `json:"error,omitempty"`
}

// Succeeded reports whether the attempt replaced its cache.
func (r RefreshRun) Succeeded() bool {
	return r.Kind == KindNone || r.Kind == KindPartial
}
