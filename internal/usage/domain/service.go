package domain

import (
	"context"
	"errors"
	"time"
)

// UsagePeriod aggregates one trailing window: sums of the volume columns
// plus the number of sessions that fell inside the window.
type UsagePeriod struct {
	UploadKB   float64 `json:"upload_kb"`
	DownloadKB float64 `json:"download_kb"`
	TotalKB    float64 `json:"total_kb"`
	Sessions   int64   `json:"sessions"`
}

// TopUserEntry is a single row of the ranked top-users listing. Rank is the
// 1-indexed global position in the 30-day-total ordering, not the position
// within the page.
type TopUserEntry struct {
	Rank        int         `json:"rank"`
	Username    string      `json:"username"`
	Usage1Day   UsagePeriod `json:"usage_1_day"`
	Usage7Days  UsagePeriod `json:"usage_7_days"`
	Usage30Days UsagePeriod `json:"usage_30_days"`
}

// TopUsersRequest asks for one page of the ranked listing. A nil
// ReferenceDate means "latest record in the store".
type TopUsersRequest struct {
	ReferenceDate *time.Time
	Page          int
	PerPage       int
}

type TopUsersResponse struct {
	Page          int            `json:"page"`
	PerPage       int            `json:"per_page"`
	TotalUsers    int64          `json:"total_users"`
	TotalPages    int64          `json:"total_pages"`
	ReferenceDate string         `json:"reference_date"`
	Data          []TopUserEntry `json:"data"`
}

// UserDetailsRequest asks for one user's three-window breakdown anchored at
// Timestamp. Username is matched exactly, case-sensitive.
type UserDetailsRequest struct {
	Username  string
	Timestamp time.Time
}

type UserDetailsResponse struct {
	Username    string      `json:"username"`
	Timestamp   string      `json:"timestamp"`
	Usage1Day   UsagePeriod `json:"usage_1_day"`
	Usage7Days  UsagePeriod `json:"usage_7_days"`
	Usage30Days UsagePeriod `json:"usage_30_days"`
}

type Service interface {
	TopUsers(context.Context, TopUsersRequest) (TopUsersResponse, error)
	UserDetails(context.Context, UserDetailsRequest) (UserDetailsResponse, error)
}

var (
	// ErrUserNotFound means no record anywhere matches the username. A user
	// with records outside the window is found, with all-zero periods.
	ErrUserNotFound = errors.New("user_not_found")
	// ErrNoData means a default reference date was requested from an empty store.
	ErrNoData          = errors.New("no_data")
	ErrInvalidPage     = errors.New("invalid_page")
	ErrInvalidPerPage  = errors.New("invalid_per_page")
	ErrInvalidUsername = errors.New("invalid_username")
)
