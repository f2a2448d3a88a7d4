// Package domain contains persistence models and contracts for usage analytics.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageRecord stores a single internet usage session.
type UsageRecord struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	Username         string       `gorm:"type:text;not null;index:idx_usage_records_username;index:idx_usage_records_username_start_time,priority:1"`
	MACAddress       string       `gorm:"column:mac_address;type:varchar(17);not null"`
	StartTime        time.Time    `gorm:"column:start_time;not null;index:idx_usage_records_start_time;index:idx_usage_records_username_start_time,priority:2"`
	UsageTimeSeconds int64        `gorm:"column:usage_time_seconds;not null;default:0"`
	UploadKB         float64      `gorm:"column:upload_kb;not null;default:0"`
	DownloadKB       float64      `gorm:"column:download_kb;not null;default:0"`
	// TotalKB is upload + download, denormalized at ingestion so ranking
	// queries never recompute it per row.
	TotalKB   float64   `gorm:"column:total_kb;not null;default:0"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }
