package history

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by all history models. ID uses
// UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate sort on CreatedAt.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// RunRecord is one row per run or transfer invocation, queried by the info
// command and kept for operator auditing.
type RunRecord struct {
	base
	JobKey       string `gorm:"not null;index"` // 16-hex-digit digest of the source and destination endpoints and containers
	Command      string `gorm:"not null"`       // run/transfer
	StartedAt    time.Time
	EndedAt      time.Time
	Outcome      string `gorm:"not null"` // success/failed/interrupted
	TransferMode string // full/incremental, or none when the run stopped before choosing a mode
	BytesSent    int64
	Error        string
}
