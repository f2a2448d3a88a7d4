package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ingestdomain "github.com/usagelab/netpulse/internal/ingest/domain"
	"go.uber.org/zap"
)

// UploadCSV accepts a multipart CSV upload and hands it to the ingest
// service. Only one upload runs at a time when the Redis lock is enabled;
// the clear-then-insert sequence must not interleave.
func (s *Server) UploadCSV(c *gin.Context) {
	ctx := c.Request.Context()

	if s.uploadLimiter.Enabled() {
		allowed, err := s.uploadLimiter.AllowClient(ctx, c.ClientIP())
		if err != nil {
			s.log.Warn("upload rate limit check", zap.Error(err))
		} else if !allowed {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, newValidationError("file", "missing_file", "a csv file upload is required"))
		return
	}

	limits := s.limits.Current()

	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".csv") {
		AbortWithError(c, newValidationError("file", "invalid_file_type", "only .csv files are accepted"))
		return
	}
	if contentType := fileHeader.Header.Get("Content-Type"); !limits.MIMEAllowed(contentType) {
		AbortWithError(c, newValidationError("file", "invalid_mime_type", "expected a csv content type"))
		return
	}
	if fileHeader.Size == 0 {
		AbortWithError(c, newValidationError("file", "empty_file", "uploaded file is empty"))
		return
	}
	if fileHeader.Size > limits.MaxFileSizeBytes() {
		AbortWithError(c, newValidationError(
			"file",
			"file_too_large",
			fmt.Sprintf("maximum file size is %d MB", limits.MaxFileSizeMB),
		))
		return
	}

	clearExisting := true
	if parsed, err := parseOptionalBool(c.Query("clear_existing")); err != nil {
		AbortWithError(c, newValidationError("clear_existing", "invalid_clear_existing", "expected true or false"))
		return
	} else if parsed != nil {
		clearExisting = *parsed
	}

	batchSize := 0
	if parsed, err := parseOptionalInt(c.Query("batch_size")); err != nil {
		AbortWithError(c, newValidationError("batch_size", "invalid_batch_size", "batch_size must be an integer"))
		return
	} else if parsed != nil {
		batchSize = *parsed
	}

	file, err := fileHeader.Open()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer file.Close()

	token, acquired, err := s.uploadLimiter.TryLockUpload(ctx)
	if err != nil {
		s.log.Warn("upload lock", zap.Error(err))
	} else if !acquired {
		AbortWithError(c, ErrUploadBusy)
		return
	}
	if token != "" {
		defer func() {
			if err := s.uploadLimiter.ReleaseUpload(ctx, token); err != nil {
				s.log.Warn("release upload lock", zap.Error(err))
			}
		}()
	}

	result, err := s.ingestsvc.Ingest(ctx, ingestdomain.IngestRequest{
		Reader:        file,
		Source:        "upload",
		Filename:      fileHeader.Filename,
		ClearExisting: clearExisting,
		BatchSize:     batchSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           "success",
		"message":          fmt.Sprintf("successfully ingested %d records", result.RecordsIngested),
		"batch_id":         result.BatchID.String(),
		"records_ingested": result.RecordsIngested,
		"clear_existing":   result.ClearedExisting,
	})
}
