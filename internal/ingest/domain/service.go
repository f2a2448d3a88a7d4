package domain

import (
	"context"
	"errors"
	"io"

	"github.com/bwmarrin/snowflake"
)

// IngestRequest describes one CSV payload to load into the record store.
type IngestRequest struct {
	// Reader yields the raw CSV bytes, header row first.
	Reader io.Reader
	// Source labels where the payload came from, e.g. "upload" or "cli".
	Source string
	// Filename is recorded in the batch audit row; may be empty.
	Filename string
	// ClearExisting wipes all usage records before inserting the new ones.
	ClearExisting bool
	// BatchSize is the requested insert chunk size; 0 means the configured
	// default. Out-of-range values are clamped, not rejected.
	BatchSize int
}

// IngestResult summarizes one completed ingestion.
type IngestResult struct {
	BatchID         snowflake.ID `json:"batch_id"`
	RecordsIngested int64        `json:"records_ingested"`
	ClearedExisting bool         `json:"cleared_existing"`
	BatchSize       int          `json:"batch_size"`
}

type Service interface {
	Ingest(context.Context, IngestRequest) (IngestResult, error)
}

var (
	// ErrMissingColumns means the header row lacks one or more required columns.
	ErrMissingColumns = errors.New("missing_columns")
	// ErrEmptyFile means the payload had no header row at all.
	ErrEmptyFile = errors.New("empty_file")
	// ErrNoValidRecords means the header was valid but no data rows followed.
	ErrNoValidRecords = errors.New("no_valid_records")
	// ErrInvalidRows means one or more data rows failed validation; the whole
	// file is rejected and the wrapped message names the offending rows.
	ErrInvalidRows = errors.New("invalid_rows")
)
