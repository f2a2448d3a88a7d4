package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/usagelab/netpulse/internal/cache"
	"github.com/usagelab/netpulse/internal/config"
	"github.com/usagelab/netpulse/internal/observability/metrics"
	usagedomain "github.com/usagelab/netpulse/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// TimestampLayout is the wire format for reference instants, both parsed from
// query parameters and echoed back in responses.
const TimestampLayout = "2006-01-02T15:04:05"

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Repo     usagedomain.Repository
	RefCache cache.ReferenceCache
	Metrics  *metrics.Metrics
}

type service struct {
	log      *zap.Logger
	cfg      config.Config
	repo     usagedomain.Repository
	refCache cache.ReferenceCache
	metrics  *metrics.Metrics
}

func New(p Params) usagedomain.Service {
	return &service{
		log:      p.Log,
		cfg:      p.Cfg,
		repo:     p.Repo,
		refCache: p.RefCache,
		metrics:  p.Metrics,
	}
}

func (s *service) TopUsers(ctx context.Context, req usagedomain.TopUsersRequest) (usagedomain.TopUsersResponse, error) {
	if req.Page < 1 {
		return usagedomain.TopUsersResponse{}, usagedomain.ErrInvalidPage
	}
	if req.PerPage < 1 || req.PerPage > s.cfg.MaxPageSize {
		return usagedomain.TopUsersResponse{}, usagedomain.ErrInvalidPerPage
	}

	ref, err := s.resolveReference(ctx, req.ReferenceDate)
	if err != nil {
		return usagedomain.TopUsersResponse{}, err
	}

	totalUsers, err := s.repo.CountActiveUsers(ctx, ref)
	if err != nil {
		s.log.Error("count active users", zap.Error(err))
		return usagedomain.TopUsersResponse{}, err
	}

	offset := (req.Page - 1) * req.PerPage
	totals, err := s.repo.AggregateTopUsers(ctx, ref, offset, req.PerPage)
	if err != nil {
		s.log.Error("aggregate top users", zap.Error(err))
		return usagedomain.TopUsersResponse{}, err
	}

	entries := make([]usagedomain.TopUserEntry, 0, len(totals))
	for i, t := range totals {
		entries = append(entries, usagedomain.TopUserEntry{
			Rank:        offset + i + 1,
			Username:    t.Username,
			Usage1Day:   period1D(t),
			Usage7Days:  period7D(t),
			Usage30Days: period30D(t),
		})
	}

	s.metrics.RecordUsageQuery(ctx, "top_users")

	return usagedomain.TopUsersResponse{
		Page:          req.Page,
		PerPage:       req.PerPage,
		TotalUsers:    totalUsers,
		TotalPages:    totalPages(totalUsers, req.PerPage),
		ReferenceDate: ref.Format(TimestampLayout),
		Data:          entries,
	}, nil
}

func (s *service) UserDetails(ctx context.Context, req usagedomain.UserDetailsRequest) (usagedomain.UserDetailsResponse, error) {
	if strings.TrimSpace(req.Username) == "" {
		return usagedomain.UserDetailsResponse{}, usagedomain.ErrInvalidUsername
	}

	totals, err := s.repo.AggregateUser(ctx, req.Username, req.Timestamp)
	if err != nil {
		s.log.Error("aggregate user", zap.String("username", req.Username), zap.Error(err))
		return usagedomain.UserDetailsResponse{}, err
	}

	if totals == nil {
		// Nothing in the window. A user who has records elsewhere in the
		// store still gets a response, with all-zero periods.
		exists, err := s.repo.UserExists(ctx, req.Username)
		if err != nil {
			s.log.Error("user exists", zap.String("username", req.Username), zap.Error(err))
			return usagedomain.UserDetailsResponse{}, err
		}
		if !exists {
			return usagedomain.UserDetailsResponse{}, usagedomain.ErrUserNotFound
		}
		totals = &usagedomain.WindowTotals{Username: req.Username}
	}

	s.metrics.RecordUsageQuery(ctx, "user_details")

	return usagedomain.UserDetailsResponse{
		Username:    req.Username,
		Timestamp:   req.Timestamp.Format(TimestampLayout),
		Usage1Day:   period1D(*totals),
		Usage7Days:  period7D(*totals),
		Usage30Days: period30D(*totals),
	}, nil
}

// resolveReference picks the aggregation anchor. When the caller supplied
// none, the latest record's start time anchors the windows, never the wall
// clock, so a static dataset always yields the same answer.
func (s *service) resolveReference(ctx context.Context, explicit *time.Time) (time.Time, error) {
	if explicit != nil {
		return *explicit, nil
	}
	if cached, ok := s.refCache.GetLatestStartTime(); ok {
		return cached, nil
	}
	latest, err := s.repo.LatestStartTime(ctx)
	if err != nil {
		s.log.Error("latest start time", zap.Error(err))
		return time.Time{}, err
	}
	if latest == nil {
		return time.Time{}, usagedomain.ErrNoData
	}
	s.refCache.SetLatestStartTime(*latest)
	return *latest, nil
}

func totalPages(totalUsers int64, perPage int) int64 {
	if totalUsers == 0 {
		return 0
	}
	return (totalUsers + int64(perPage) - 1) / int64(perPage)
}

// round2 rounds to two decimals at the output boundary only; sums are carried
// at full precision until here.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func period1D(t usagedomain.WindowTotals) usagedomain.UsagePeriod {
	return usagedomain.UsagePeriod{
		UploadKB:   round2(t.Upload1D),
		DownloadKB: round2(t.Download1D),
		TotalKB:    round2(t.Total1D),
		Sessions:   t.Sessions1D,
	}
}

func period7D(t usagedomain.WindowTotals) usagedomain.UsagePeriod {
	return usagedomain.UsagePeriod{
		UploadKB:   round2(t.Upload7D),
		DownloadKB: round2(t.Download7D),
		TotalKB:    round2(t.Total7D),
		Sessions:   t.Sessions7D,
	}
}

func period30D(t usagedomain.WindowTotals) usagedomain.UsagePeriod {
	return usagedomain.UsagePeriod{
		UploadKB:   round2(t.Upload30D),
		DownloadKB: round2(t.Download30D),
		TotalKB:    round2(t.Total30D),
		Sessions:   t.Sessions30D,
	}
}
