// Package domain contains persistence models and contracts for CSV ingestion.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// IngestBatch is the audit trail row written once per successful ingestion.
type IngestBatch struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	Source          string            `gorm:"type:varchar(32);not null;index:idx_ingest_batches_source"`
	RecordCount     int64             `gorm:"column:record_count;not null;default:0"`
	ClearedExisting bool              `gorm:"column:cleared_existing;not null;default:false"`
	Metadata        datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_ingest_batches_created_at"`
}

// TableName sets the database table name.
func (IngestBatch) TableName() string { return "ingest_batches" }
