package domain

import (
	"context"
	"time"
)

// WindowTotals carries one user's raw (unrounded) sums and counts for the
// three nested trailing windows anchored at the same reference instant.
type WindowTotals struct {
	Username string

	Upload1D   float64
	Download1D float64
	Total1D    float64
	Sessions1D int64

	Upload7D   float64
	Download7D float64
	Total7D    float64
	Sessions7D int64

	Upload30D   float64
	Download30D float64
	Total30D    float64
	Sessions30D int64
}

// Repository is the record-store contract the aggregation engine requires.
// Aggregation methods must classify records against all three windows in a
// single scan of [ref-30d, ref]; see AggregateTopUsers.
type Repository interface {
	// AggregateTopUsers returns per-user window totals for users with at
	// least one record in the 30-day window ending at ref, ordered by
	// 30-day total descending then username ascending, sliced by
	// offset/limit against that global ordering.
	AggregateTopUsers(ctx context.Context, ref time.Time, offset, limit int) ([]WindowTotals, error)

	// AggregateUser returns the window totals for one exact username, or
	// nil when the user has no record inside the 30-day window.
	AggregateUser(ctx context.Context, username string, ref time.Time) (*WindowTotals, error)

	// CountActiveUsers counts distinct usernames with at least one record
	// in the 30-day window ending at ref.
	CountActiveUsers(ctx context.Context, ref time.Time) (int64, error)

	// UserExists reports whether any record at any time matches username.
	UserExists(ctx context.Context, username string) (bool, error)

	// LatestStartTime returns the maximum start_time across all records,
	// or nil when the store is empty.
	LatestStartTime(ctx context.Context) (*time.Time, error)

	// InsertBatch persists records in batches of batchSize.
	InsertBatch(ctx context.Context, records []UsageRecord, batchSize int) error

	// DeleteAll removes every usage record (bulk clear before re-ingestion).
	DeleteAll(ctx context.Context) error
}
