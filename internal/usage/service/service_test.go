package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/usagelab/netpulse/internal/cache"
	"github.com/usagelab/netpulse/internal/config"
	"github.com/usagelab/netpulse/internal/observability/metrics"
	usagedomain "github.com/usagelab/netpulse/internal/usage/domain"
	usagerepository "github.com/usagelab/netpulse/internal/usage/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testRef = time.Date(2022, 12, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (usagedomain.Service, usagedomain.Repository) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageRecord{}))

	metricsCfg := metrics.Config{ServiceName: "netpulse-test"}
	provider, err := metrics.NewProvider(nil, metricsCfg, nil)
	require.NoError(t, err)
	m, err := metrics.New(metricsCfg, provider)
	require.NoError(t, err)

	repo := usagerepository.New(usagerepository.Params{DB: db})
	svc := New(Params{
		Log:      zap.NewNop(),
		Cfg:      config.Config{DefaultPageSize: 10, MaxPageSize: 100},
		Repo:     repo,
		RefCache: cache.NewReferenceCache(),
		Metrics:  m,
	})
	return svc, repo
}

var recordSeq int64

func record(username string, start time.Time, upload, download float64) usagedomain.UsageRecord {
	recordSeq++
	return usagedomain.UsageRecord{
		ID:               snowflake.ID(recordSeq),
		Username:         username,
		MACAddress:       "AA:BB:CC:DD:EE:FF",
		StartTime:        start,
		UsageTimeSeconds: 60,
		UploadKB:         upload,
		DownloadKB:       download,
		TotalKB:          upload + download,
	}
}

func seed(t *testing.T, repo usagedomain.Repository, records ...usagedomain.UsageRecord) {
	t.Helper()
	require.NoError(t, repo.InsertBatch(context.Background(), records, 100))
}

func TestWindowNestingAndDecomposition(t *testing.T) {
	svc, repo := newTestService(t)
	seed(t, repo,
		record("heavy", testRef.Add(-time.Hour), 100, 200),
		record("heavy", testRef.Add(-3*24*time.Hour), 50, 50),
		record("heavy", testRef.Add(-20*24*time.Hour), 10, 10),
	)

	resp, err := svc.UserDetails(context.Background(), usagedomain.UserDetailsRequest{
		Username:  "heavy",
		Timestamp: testRef,
	})
	require.NoError(t, err)

	// Each shorter window is contained in the longer one.
	require.LessOrEqual(t, resp.Usage1Day.TotalKB, resp.Usage7Days.TotalKB)
	require.LessOrEqual(t, resp.Usage7Days.TotalKB, resp.Usage30Days.TotalKB)
	require.LessOrEqual(t, resp.Usage1Day.Sessions, resp.Usage7Days.Sessions)
	require.LessOrEqual(t, resp.Usage7Days.Sessions, resp.Usage30Days.Sessions)

	for _, p := range []usagedomain.UsagePeriod{resp.Usage1Day, resp.Usage7Days, resp.Usage30Days} {
		require.Equal(t, p.UploadKB+p.DownloadKB, p.TotalKB)
	}

	require.Equal(t, usagedomain.UsagePeriod{UploadKB: 100, DownloadKB: 200, TotalKB: 300, Sessions: 1}, resp.Usage1Day)
	require.Equal(t, usagedomain.UsagePeriod{UploadKB: 150, DownloadKB: 250, TotalKB: 400, Sessions: 2}, resp.Usage7Days)
	require.Equal(t, usagedomain.UsagePeriod{UploadKB: 160, DownloadKB: 260, TotalKB: 420, Sessions: 3}, resp.Usage30Days)
}

func TestWindowBoundariesInclusive(t *testing.T) {
	svc, repo := newTestService(t)
	seed(t, repo,
		record("edge", testRef, 10, 0),                       // exactly at the reference instant
		record("edge", testRef.Add(-30*24*time.Hour), 20, 0), // exactly at the 30-day lower bound
		record("edge", testRef.Add(time.Second), 40, 0),      // after the reference, excluded
	)

	resp, err := svc.UserDetails(context.Background(), usagedomain.UserDetailsRequest{
		Username:  "edge",
		Timestamp: testRef,
	})
	require.NoError(t, err)
	require.Equal(t, float64(30), resp.Usage30Days.TotalKB)
	require.Equal(t, int64(2), resp.Usage30Days.Sessions)
}

func TestTopUsersRankingAndPagination(t *testing.T) {
	svc, repo := newTestService(t)
	seed(t, repo,
		record("u1", testRef.Add(-time.Hour), 300, 0),
		record("u2", testRef.Add(-time.Hour), 200, 0),
		record("u3", testRef.Add(-time.Hour), 100, 0),
	)

	ctx := context.Background()

	page1, err := svc.TopUsers(ctx, usagedomain.TopUsersRequest{ReferenceDate: &testRef, Page: 1, PerPage: 2})
	require.NoError(t, err)
	require.Equal(t, int64(3), page1.TotalUsers)
	require.Equal(t, int64(2), page1.TotalPages)
	require.Len(t, page1.Data, 2)
	require.Equal(t, 1, page1.Data[0].Rank)
	require.Equal(t, "u1", page1.Data[0].Username)
	require.Equal(t, 2, page1.Data[1].Rank)
	require.Equal(t, "u2", page1.Data[1].Username)

	// Ranks continue across pages; totals never increase down the ordering.
	page2, err := svc.TopUsers(ctx, usagedomain.TopUsersRequest{ReferenceDate: &testRef, Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page2.Data, 1)
	require.Equal(t, 3, page2.Data[0].Rank)
	require.Equal(t, "u3", page2.Data[0].Username)
	require.Greater(t, page1.Data[1].Usage30Days.TotalKB, page2.Data[0].Usage30Days.TotalKB)

	// A page past the end is valid and empty.
	page9, err := svc.TopUsers(ctx, usagedomain.TopUsersRequest{ReferenceDate: &testRef, Page: 9, PerPage: 2})
	require.NoError(t, err)
	require.Equal(t, 9, page9.Page)
	require.Empty(t, page9.Data)
	require.Equal(t, int64(3), page9.TotalUsers)
}

func TestTopUsersTieBreakByUsername(t *testing.T) {
	svc, repo := newTestService(t)
	seed(t, repo,
		record("zed", testRef.Add(-time.Hour), 100, 0),
		record("amy", testRef.Add(-time.Hour), 100, 0),
	)

	resp, err := svc.TopUsers(context.Background(), usagedomain.TopUsersRequest{ReferenceDate: &testRef, Page: 1, PerPage: 10})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)
	require.Equal(t, "amy", resp.Data[0].Username)
	require.Equal(t, "zed", resp.Data[1].Username)
}

func TestTopUsersExcludesIdleUsers(t *testing.T) {
	svc, repo := newTestService(t)
	seed(t, repo,
		record("active", testRef.Add(-time.Hour), 10, 10),
		record("stale", testRef.Add(-40*24*time.Hour), 999, 999),
	)

	resp, err := svc.TopUsers(context.Background(), usagedomain.TopUsersRequest{ReferenceDate: &testRef, Page: 1, PerPage: 10})
	require.NoError(t, err)
	require.Equal(t, int64(1), resp.TotalUsers)
	require.Len(t, resp.Data, 1)
	require.Equal(t, "active", resp.Data[0].Username)
}

func TestTopUsersValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.TopUsers(ctx, usagedomain.TopUsersRequest{ReferenceDate: &testRef, Page: 0, PerPage: 10})
	require.ErrorIs(t, err, usagedomain.ErrInvalidPage)

	_, err = svc.TopUsers(ctx, usagedomain.TopUsersRequest{ReferenceDate: &testRef, Page: 1, PerPage: 0})
	require.ErrorIs(t, err, usagedomain.ErrInvalidPerPage)

	_, err = svc.TopUsers(ctx, usagedomain.TopUsersRequest{ReferenceDate: &testRef, Page: 1, PerPage: 101})
	require.ErrorIs(t, err, usagedomain.ErrInvalidPerPage)
}

func TestTopUsersEmptyStore(t *testing.T) {
	svc, _ := newTestService(t)

	// Without an explicit reference there is nothing to anchor on.
	_, err := svc.TopUsers(context.Background(), usagedomain.TopUsersRequest{Page: 1, PerPage: 10})
	require.ErrorIs(t, err, usagedomain.ErrNoData)

	// With an explicit reference the result is a valid empty listing.
	resp, err := svc.TopUsers(context.Background(), usagedomain.TopUsersRequest{ReferenceDate: &testRef, Page: 1, PerPage: 10})
	require.NoError(t, err)
	require.Equal(t, int64(0), resp.TotalUsers)
	require.Equal(t, int64(0), resp.TotalPages)
	require.Empty(t, resp.Data)
}

func TestUserDetailsNotFoundVersusIdle(t *testing.T) {
	svc, repo := newTestService(t)
	seed(t, repo,
		record("idle", testRef.Add(-60*24*time.Hour), 50, 50),
	)

	ctx := context.Background()

	resp, err := svc.UserDetails(ctx, usagedomain.UserDetailsRequest{Username: "idle", Timestamp: testRef})
	require.NoError(t, err)
	require.Equal(t, usagedomain.UsagePeriod{}, resp.Usage30Days)

	_, err = svc.UserDetails(ctx, usagedomain.UserDetailsRequest{Username: "ghost", Timestamp: testRef})
	require.ErrorIs(t, err, usagedomain.ErrUserNotFound)

	// Username matching is exact and case-sensitive.
	_, err = svc.UserDetails(ctx, usagedomain.UserDetailsRequest{Username: "Idle", Timestamp: testRef})
	require.ErrorIs(t, err, usagedomain.ErrUserNotFound)

	_, err = svc.UserDetails(ctx, usagedomain.UserDetailsRequest{Username: "  ", Timestamp: testRef})
	require.ErrorIs(t, err, usagedomain.ErrInvalidUsername)
}

func TestRoundingAtOutputBoundary(t *testing.T) {
	svc, repo := newTestService(t)
	seed(t, repo,
		record("frac", testRef.Add(-time.Hour), 10.005, 0.001),
		record("frac", testRef.Add(-2*time.Hour), 10.004, 0.002),
	)

	resp, err := svc.UserDetails(context.Background(), usagedomain.UserDetailsRequest{Username: "frac", Timestamp: testRef})
	require.NoError(t, err)

	// Sums are carried at full precision and rounded once at the edge:
	// 10.005 + 10.004 = 20.009 -> 20.01, not 10.01 + 10.0.
	require.Equal(t, 20.01, resp.Usage1Day.UploadKB)
	require.Equal(t, 0.0, resp.Usage1Day.DownloadKB)
	require.Equal(t, 20.01, resp.Usage1Day.TotalKB)
}

func TestIdempotentRequery(t *testing.T) {
	svc, repo := newTestService(t)
	seed(t, repo,
		record("u1", testRef.Add(-time.Hour), 300, 0),
		record("u2", testRef.Add(-time.Hour), 200, 0),
	)

	req := usagedomain.TopUsersRequest{ReferenceDate: &testRef, Page: 1, PerPage: 10}
	first, err := svc.TopUsers(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.TopUsers(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
