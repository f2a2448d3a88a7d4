package repository

import (
	"context"
	"errors"
	"time"

	usagedomain "github.com/usagelab/netpulse/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB *gorm.DB
}

type repository struct {
	db *gorm.DB
}

func New(p Params) usagedomain.Repository {
	return &repository{db: p.DB}
}

type windowTotalsRow struct {
	Username string `gorm:"column:username"`

	Upload1D   float64 `gorm:"column:upload_1d"`
	Download1D float64 `gorm:"column:download_1d"`
	Total1D    float64 `gorm:"column:total_1d"`
	Sessions1D int64   `gorm:"column:sessions_1d"`

	Upload7D   float64 `gorm:"column:upload_7d"`
	Download7D float64 `gorm:"column:download_7d"`
	Total7D    float64 `gorm:"column:total_7d"`
	Sessions7D int64   `gorm:"column:sessions_7d"`

	Upload30D   float64 `gorm:"column:upload_30d"`
	Download30D float64 `gorm:"column:download_30d"`
	Total30D    float64 `gorm:"column:total_30d"`
	Sessions30D int64   `gorm:"column:sessions_30d"`
}

// windowAggregateColumns computes all three trailing windows from the single
// scan of [ref-30d, ref] that the WHERE clause restricts us to. The 1-day and
// 7-day sums are conditional on the row clearing the tighter lower bound; the
// 30-day sums take every row the scan produced. Windows are nested, so one
// row can contribute to all three.
const windowAggregateColumns = `
	COALESCE(SUM(CASE WHEN start_time >= ? THEN upload_kb ELSE 0 END), 0) AS upload_1d,
	COALESCE(SUM(CASE WHEN start_time >= ? THEN download_kb ELSE 0 END), 0) AS download_1d,
	COALESCE(SUM(CASE WHEN start_time >= ? THEN total_kb ELSE 0 END), 0) AS total_1d,
	COALESCE(SUM(CASE WHEN start_time >= ? THEN 1 ELSE 0 END), 0) AS sessions_1d,
	COALESCE(SUM(CASE WHEN start_time >= ? THEN upload_kb ELSE 0 END), 0) AS upload_7d,
	COALESCE(SUM(CASE WHEN start_time >= ? THEN download_kb ELSE 0 END), 0) AS download_7d,
	COALESCE(SUM(CASE WHEN start_time >= ? THEN total_kb ELSE 0 END), 0) AS total_7d,
	COALESCE(SUM(CASE WHEN start_time >= ? THEN 1 ELSE 0 END), 0) AS sessions_7d,
	COALESCE(SUM(upload_kb), 0) AS upload_30d,
	COALESCE(SUM(download_kb), 0) AS download_30d,
	COALESCE(SUM(total_kb), 0) AS total_30d,
	COUNT(id) AS sessions_30d`

func windowBounds(ref time.Time) (date1d, date7d, date30d time.Time) {
	date1d = ref.Add(-24 * time.Hour)
	date7d = ref.Add(-7 * 24 * time.Hour)
	date30d = ref.Add(-30 * 24 * time.Hour)
	return
}

func windowArgs(date1d, date7d time.Time) []interface{} {
	return []interface{}{
		date1d, date1d, date1d, date1d,
		date7d, date7d, date7d, date7d,
	}
}

func (r *repository) AggregateTopUsers(ctx context.Context, ref time.Time, offset, limit int) ([]usagedomain.WindowTotals, error) {
	date1d, date7d, date30d := windowBounds(ref)

	query := `SELECT username,` + windowAggregateColumns + `
		FROM usage_records
		WHERE start_time >= ? AND start_time <= ?
		GROUP BY username
		ORDER BY total_30d DESC, username ASC
		LIMIT ? OFFSET ?`

	args := windowArgs(date1d, date7d)
	args = append(args, date30d, ref, limit, offset)

	var rows []windowTotalsRow
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	totals := make([]usagedomain.WindowTotals, 0, len(rows))
	for _, row := range rows {
		totals = append(totals, row.toDomain())
	}
	return totals, nil
}

func (r *repository) AggregateUser(ctx context.Context, username string, ref time.Time) (*usagedomain.WindowTotals, error) {
	date1d, date7d, date30d := windowBounds(ref)

	query := `SELECT username,` + windowAggregateColumns + `
		FROM usage_records
		WHERE username = ? AND start_time >= ? AND start_time <= ?
		GROUP BY username`

	args := windowArgs(date1d, date7d)
	args = append(args, username, date30d, ref)

	var rows []windowTotalsRow
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	totals := rows[0].toDomain()
	return &totals, nil
}

func (r *repository) CountActiveUsers(ctx context.Context, ref time.Time) (int64, error) {
	_, _, date30d := windowBounds(ref)

	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(DISTINCT username)
		 FROM usage_records
		 WHERE start_time >= ? AND start_time <= ?`,
		date30d, ref,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) UserExists(ctx context.Context, username string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Where("username = ?", username).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) LatestStartTime(ctx context.Context) (*time.Time, error) {
	var record usagedomain.UsageRecord
	err := r.db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Order("start_time DESC").
		Limit(1).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	latest := record.StartTime
	return &latest, nil
}

func (r *repository) InsertBatch(ctx context.Context, records []usagedomain.UsageRecord, batchSize int) error {
	if len(records) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return r.db.WithContext(ctx).CreateInBatches(records, batchSize).Error
}

func (r *repository) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Exec(`DELETE FROM usage_records`).Error
}

func (row windowTotalsRow) toDomain() usagedomain.WindowTotals {
	return usagedomain.WindowTotals{
		Username: row.Username,

		Upload1D:   row.Upload1D,
		Download1D: row.Download1D,
		Total1D:    row.Total1D,
		Sessions1D: row.Sessions1D,

		Upload7D:   row.Upload7D,
		Download7D: row.Download7D,
		Total7D:    row.Total7D,
		Sessions7D: row.Sessions7D,

		Upload30D:   row.Upload30D,
		Download30D: row.Download30D,
		Total30D:    row.Total30D,
		Sessions30D: row.Sessions30D,
	}
}
