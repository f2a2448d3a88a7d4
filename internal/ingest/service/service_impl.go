package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/usagelab/netpulse/internal/cache"
	"github.com/usagelab/netpulse/internal/config"
	ingestdomain "github.com/usagelab/netpulse/internal/ingest/domain"
	"github.com/usagelab/netpulse/internal/observability/metrics"
	usagedomain "github.com/usagelab/netpulse/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// requiredColumns are the CSV header names ingestion refuses to run without.
// Matching is case-insensitive and ignores surrounding whitespace.
var requiredColumns = []string{
	"username",
	"mac_address",
	"start_time",
	"usage_time",
	"upload",
	"download",
}

// startTimeLayouts are tried in order when parsing the start_time column.
var startTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// maxRowErrors caps how many offending rows the rejection message names.
const maxRowErrors = 5

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Node     *snowflake.Node
	Limits   *config.IngestLimitsHolder
	Repo     usagedomain.Repository
	RefCache cache.ReferenceCache
	Metrics  *metrics.Metrics
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	node     *snowflake.Node
	limits   *config.IngestLimitsHolder
	repo     usagedomain.Repository
	refCache cache.ReferenceCache
	metrics  *metrics.Metrics
}

func New(p Params) ingestdomain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log,
		node:     p.Node,
		limits:   p.Limits,
		repo:     p.Repo,
		refCache: p.RefCache,
		metrics:  p.Metrics,
	}
}

func (s *service) Ingest(ctx context.Context, req ingestdomain.IngestRequest) (ingestdomain.IngestResult, error) {
	start := time.Now()
	source := req.Source
	if source == "" {
		source = metrics.IngestSourceUpload
	}

	records, err := s.parseCSV(req.Reader)
	if err != nil {
		metrics.Ingest().ObserveFailure(source, metrics.IngestFailureReasonValidation)
		return ingestdomain.IngestResult{}, err
	}
	if len(records) == 0 {
		metrics.Ingest().ObserveFailure(source, metrics.IngestFailureReasonValidation)
		return ingestdomain.IngestResult{}, ingestdomain.ErrNoValidRecords
	}

	batchSize := s.limits.Current().ClampBatchSize(req.BatchSize)

	if req.ClearExisting {
		if err := s.repo.DeleteAll(ctx); err != nil {
			s.log.Error("clear usage records", zap.Error(err))
			metrics.Ingest().ObserveFailure(source, metrics.IngestFailureReasonStorage)
			return ingestdomain.IngestResult{}, err
		}
	}

	if err := s.repo.InsertBatch(ctx, records, batchSize); err != nil {
		s.log.Error("insert usage records", zap.Error(err))
		metrics.Ingest().ObserveFailure(source, metrics.IngestFailureReasonStorage)
		return ingestdomain.IngestResult{}, err
	}

	batch := ingestdomain.IngestBatch{
		ID:              s.node.Generate(),
		Source:          source,
		RecordCount:     int64(len(records)),
		ClearedExisting: req.ClearExisting,
		Metadata: datatypes.JSONMap{
			"filename":   req.Filename,
			"batch_size": batchSize,
		},
	}
	if err := s.db.WithContext(ctx).Create(&batch).Error; err != nil {
		// The records themselves are in; a lost audit row is logged, not fatal.
		s.log.Warn("record ingest batch", zap.Error(err))
	}

	s.refCache.Invalidate()

	elapsed := time.Since(start)
	metrics.Ingest().ObserveBatch(source, len(records), elapsed.Seconds())
	s.metrics.RecordIngestedRecords(ctx, source, int64(len(records)))

	s.log.Info("csv ingested",
		zap.String("source", source),
		zap.String("filename", req.Filename),
		zap.Int("records", len(records)),
		zap.Bool("cleared_existing", req.ClearExisting),
		zap.Duration("duration", elapsed),
	)

	return ingestdomain.IngestResult{
		BatchID:         batch.ID,
		RecordsIngested: int64(len(records)),
		ClearedExisting: req.ClearExisting,
		BatchSize:       batchSize,
	}, nil
}

// parseCSV validates the header and converts data rows to usage records.
// Any malformed data row rejects the whole file; the returned error names
// the offending rows (1-indexed, counting the header as row 1).
func (s *service) parseCSV(r io.Reader) ([]usagedomain.UsageRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ingestdomain.ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ingestdomain.ErrMissingColumns, strings.Join(missing, ", "))
	}

	var (
		records   []usagedomain.UsageRecord
		rowErrors []string
		badRows   int
		line      = 1
	)
	reject := func(line int, err error) {
		badRows++
		if len(rowErrors) < maxRowErrors {
			rowErrors = append(rowErrors, fmt.Sprintf("row %d: %v", line, err))
		}
	}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			reject(line, err)
			continue
		}

		record, err := s.parseRow(row, index)
		if err != nil {
			reject(line, err)
			continue
		}
		records = append(records, record)
	}

	if badRows > 0 {
		detail := strings.Join(rowErrors, "; ")
		if badRows > maxRowErrors {
			detail = fmt.Sprintf("%s; and %d more", detail, badRows-maxRowErrors)
		}
		return nil, fmt.Errorf("%w: %s", ingestdomain.ErrInvalidRows, detail)
	}

	return records, nil
}

func (s *service) parseRow(row []string, index map[string]int) (usagedomain.UsageRecord, error) {
	field := func(name string) (string, bool) {
		i := index[name]
		if i >= len(row) {
			return "", false
		}
		return strings.TrimSpace(row[i]), true
	}

	username, ok := field("username")
	if !ok || username == "" {
		return usagedomain.UsageRecord{}, fmt.Errorf("empty username")
	}
	mac, ok := field("mac_address")
	if !ok || mac == "" {
		return usagedomain.UsageRecord{}, fmt.Errorf("empty mac_address")
	}

	rawStart, _ := field("start_time")
	startTime, err := parseStartTime(rawStart)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	rawUsage, _ := field("usage_time")
	usageSeconds, err := parseUsageTime(rawUsage)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	rawUpload, _ := field("upload")
	upload, err := parseVolume(rawUpload, "upload")
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	rawDownload, _ := field("download")
	download, err := parseVolume(rawDownload, "download")
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	return usagedomain.UsageRecord{
		ID:               s.node.Generate(),
		Username:         username,
		MACAddress:       mac,
		StartTime:        startTime,
		UsageTimeSeconds: usageSeconds,
		UploadKB:         upload,
		DownloadKB:       download,
		TotalKB:          upload + download,
	}, nil
}

func parseStartTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty start_time")
	}
	for _, layout := range startTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable start_time %q", raw)
}

// parseUsageTime converts a H:MM:SS (or HH:MM:SS) duration string to
// seconds. Minutes and seconds must be 0-59; hours are not capped at 24.
func parseUsageTime(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("empty usage_time")
	}

	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("usage_time %q: expected H:MM:SS", raw)
	}

	fields := make([]int64, 3)
	for i, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("usage_time %q: non-numeric component", raw)
		}
		fields[i] = n
	}

	hours, minutes, seconds := fields[0], fields[1], fields[2]
	if hours < 0 || minutes < 0 || minutes > 59 || seconds < 0 || seconds > 59 {
		return 0, fmt.Errorf("usage_time %q: values out of range", raw)
	}
	return hours*3600 + minutes*60 + seconds, nil
}

func parseVolume(raw, name string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("empty %s", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable %s %q", name, raw)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative %s", name)
	}
	return v, nil
}
