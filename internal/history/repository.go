package history

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound is returned by Recorder methods when no matching record
// exists, translated from gorm.ErrRecordNotFound so callers never need to
// import gorm directly.
var ErrNotFound = errors.New("history: record not found")

// Recorder persists and queries RunRecords. The orchestrator appends one
// record per run or transfer invocation; the info command reads the most
// recent ones back.
type Recorder interface {
	Record(ctx context.Context, rec *RunRecord) error
	Recent(ctx context.Context, jobKey string, limit int) ([]RunRecord, error)
}

type gormRecorder struct {
	db *gorm.DB
}

// NewRecorder returns a Recorder backed by the provided *gorm.DB, as
// obtained from Open.
func NewRecorder(db *gorm.DB) Recorder {
	return &gormRecorder{db: db}
}

func (r *gormRecorder) Record(ctx context.Context, rec *RunRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Recent returns up to limit RunRecords for jobKey, most recent first.
func (r *gormRecorder) Recent(ctx context.Context, jobKey string, limit int) ([]RunRecord, error) {
	var records []RunRecord
	q := r.db.WithContext(ctx).
		Where("job_key = ?", jobKey).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return records, nil
}
