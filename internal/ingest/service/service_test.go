package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/usagelab/netpulse/internal/cache"
	"github.com/usagelab/netpulse/internal/config"
	ingestdomain "github.com/usagelab/netpulse/internal/ingest/domain"
	"github.com/usagelab/netpulse/internal/observability/metrics"
	usagedomain "github.com/usagelab/netpulse/internal/usage/domain"
	usagerepository "github.com/usagelab/netpulse/internal/usage/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestIngest(t *testing.T) (ingestdomain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageRecord{}, &ingestdomain.IngestBatch{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	metricsCfg := metrics.Config{ServiceName: "netpulse-test"}
	provider, err := metrics.NewProvider(nil, metricsCfg, nil)
	require.NoError(t, err)
	m, err := metrics.New(metricsCfg, provider)
	require.NoError(t, err)

	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Node:     node,
		Limits:   config.NewStaticIngestLimitsHolder(config.DefaultIngestLimits()),
		Repo:     usagerepository.New(usagerepository.Params{DB: db}),
		RefCache: cache.NewReferenceCache(),
		Metrics:  m,
	})
	return svc, db
}

func ingestString(t *testing.T, svc ingestdomain.Service, csv string, clear bool) (ingestdomain.IngestResult, error) {
	t.Helper()
	return svc.Ingest(context.Background(), ingestdomain.IngestRequest{
		Reader:        strings.NewReader(csv),
		Source:        "cli",
		Filename:      "test.csv",
		ClearExisting: clear,
	})
}

const validCSV = `username,mac_address,start_time,usage_time,upload,download
alice,AA:BB:CC:DD:EE:01,2022-12-01 10:00:00,1:30:00,100.5,200.25
bob,AA:BB:CC:DD:EE:02,2022-12-01T11:00:00,0:05:30,1,2
`

func TestIngestValidCSV(t *testing.T) {
	svc, db := newTestIngest(t)

	result, err := ingestString(t, svc, validCSV, true)
	require.NoError(t, err)
	require.Equal(t, int64(2), result.RecordsIngested)
	require.True(t, result.ClearedExisting)
	require.Equal(t, 5000, result.BatchSize)

	var records []usagedomain.UsageRecord
	require.NoError(t, db.Order("username").Find(&records).Error)
	require.Len(t, records, 2)

	alice := records[0]
	require.Equal(t, "alice", alice.Username)
	require.Equal(t, "AA:BB:CC:DD:EE:01", alice.MACAddress)
	require.Equal(t, int64(5400), alice.UsageTimeSeconds)
	require.Equal(t, 100.5, alice.UploadKB)
	require.Equal(t, 200.25, alice.DownloadKB)
	require.Equal(t, 300.75, alice.TotalKB)
	require.Equal(t, time.Date(2022, 12, 1, 10, 0, 0, 0, time.UTC), alice.StartTime.UTC())

	bob := records[1]
	require.Equal(t, int64(330), bob.UsageTimeSeconds)

	var batches []ingestdomain.IngestBatch
	require.NoError(t, db.Find(&batches).Error)
	require.Len(t, batches, 1)
	require.Equal(t, "cli", batches[0].Source)
	require.Equal(t, int64(2), batches[0].RecordCount)
	require.True(t, batches[0].ClearedExisting)
	require.Equal(t, "test.csv", batches[0].Metadata["filename"])
}

func TestIngestClearVersusAppend(t *testing.T) {
	svc, db := newTestIngest(t)

	_, err := ingestString(t, svc, validCSV, true)
	require.NoError(t, err)

	more := "username,mac_address,start_time,usage_time,upload,download\n" +
		"carol,AA:BB:CC:DD:EE:03,2022-12-02 09:00:00,0:01:00,5,5\n"

	_, err = ingestString(t, svc, more, false)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&usagedomain.UsageRecord{}).Count(&count).Error)
	require.Equal(t, int64(3), count)

	result, err := ingestString(t, svc, more, true)
	require.NoError(t, err)
	require.True(t, result.ClearedExisting)

	require.NoError(t, db.Model(&usagedomain.UsageRecord{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestIngestMissingColumns(t *testing.T) {
	svc, _ := newTestIngest(t)

	_, err := ingestString(t, svc, "username,upload\nalice,100\n", true)
	require.ErrorIs(t, err, ingestdomain.ErrMissingColumns)
	require.Contains(t, err.Error(), "mac_address")
	require.Contains(t, err.Error(), "download")
}

func TestIngestEmptyFile(t *testing.T) {
	svc, _ := newTestIngest(t)

	_, err := ingestString(t, svc, "", true)
	require.ErrorIs(t, err, ingestdomain.ErrEmptyFile)
}

func TestIngestRejectsInvalidRows(t *testing.T) {
	svc, db := newTestIngest(t)

	_, err := ingestString(t, svc, validCSV, true)
	require.NoError(t, err)

	csv := `username,mac_address,start_time,usage_time,upload,download
alice,AA:BB:CC:DD:EE:01,2022-12-01 10:00:00,1:00:00,100,200
,AA:BB:CC:DD:EE:02,2022-12-01 10:00:00,1:00:00,100,200
bob,AA:BB:CC:DD:EE:03,not-a-date,1:00:00,100,200
carol,AA:BB:CC:DD:EE:04,2022-12-01 10:00:00,bad,100,200
dan,AA:BB:CC:DD:EE:05,2022-12-01 10:00:00,1:00:00,-5,200
erin,AA:BB:CC:DD:EE:06,2022-12-01 10:00:00,1:00:00,100,abc
frank,AA:BB:CC:DD:EE:07,2022-12-01 10:00:00,0:30:00,1,1
`
	_, err = ingestString(t, svc, csv, true)
	require.ErrorIs(t, err, ingestdomain.ErrInvalidRows)

	// Row numbers are 1-indexed counting the header, so the first bad data
	// row is row 3. Valid rows around the bad ones do not save the file.
	require.Contains(t, err.Error(), "row 3")
	require.Contains(t, err.Error(), "row 7")
	require.NotContains(t, err.Error(), "row 2")
	require.NotContains(t, err.Error(), "row 8")

	// The rejection happens before clearing, so the earlier load survives.
	var count int64
	require.NoError(t, db.Model(&usagedomain.UsageRecord{}).Count(&count).Error)
	require.Equal(t, int64(2), count)
}

func TestIngestRowErrorPreviewIsCapped(t *testing.T) {
	svc, _ := newTestIngest(t)

	var sb strings.Builder
	sb.WriteString("username,mac_address,start_time,usage_time,upload,download\n")
	for i := 0; i < 8; i++ {
		sb.WriteString(",AA:BB,2022-12-01 10:00:00,1:00:00,100,200\n")
	}

	_, err := ingestString(t, svc, sb.String(), true)
	require.ErrorIs(t, err, ingestdomain.ErrInvalidRows)
	require.Contains(t, err.Error(), "row 6")
	require.NotContains(t, err.Error(), "row 7")
	require.Contains(t, err.Error(), "and 3 more")
}

func TestIngestHeaderOnly(t *testing.T) {
	svc, _ := newTestIngest(t)

	_, err := ingestString(t, svc, "username,mac_address,start_time,usage_time,upload,download\n", true)
	require.ErrorIs(t, err, ingestdomain.ErrNoValidRecords)
}

func TestParseUsageTime(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "1:30:00", want: 5400},
		{in: "0:00:01", want: 1},
		{in: "12:05:09", want: 43509},
		{in: "0:59:59", want: 3599},
		{in: "100:00:00", want: 360000},
		{in: "", wantErr: true},
		{in: "45:00", wantErr: true},
		{in: "90", wantErr: true},
		{in: "1:2:3:4", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1:-2:00", wantErr: true},
		{in: "1:60:00", wantErr: true},
		{in: "1:00:60", wantErr: true},
	}

	for _, tc := range cases {
		got, err := parseUsageTime(tc.in)
		if tc.wantErr {
			require.Errorf(t, err, "input %q", tc.in)
			continue
		}
		require.NoErrorf(t, err, "input %q", tc.in)
		require.Equalf(t, tc.want, got, "input %q", tc.in)
	}
}

func TestParseStartTimeLayouts(t *testing.T) {
	for _, in := range []string{
		"2022-12-01 10:00:00",
		"2022-12-01T10:00:00",
		"2022-12-01T10:00:00Z",
		"2022-12-01",
	} {
		_, err := parseStartTime(in)
		require.NoErrorf(t, err, "input %q", in)
	}

	_, err := parseStartTime("12/01/2022")
	require.Error(t, err)
}

func TestBatchSizeClamping(t *testing.T) {
	limits := config.DefaultIngestLimits()

	require.Equal(t, 5000, limits.ClampBatchSize(0))
	require.Equal(t, 100, limits.ClampBatchSize(1))
	require.Equal(t, 50000, limits.ClampBatchSize(999999))
	require.Equal(t, 2500, limits.ClampBatchSize(2500))
}
