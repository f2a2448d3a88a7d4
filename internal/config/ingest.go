package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// IngestLimits bounds what the upload endpoint and batch loader accept.
type IngestLimits struct {
	MaxFileSizeMB    int      `mapstructure:"maxFileSizeMB"`
	DefaultBatchSize int      `mapstructure:"defaultBatchSize"`
	MinBatchSize     int      `mapstructure:"minBatchSize"`
	MaxBatchSize     int      `mapstructure:"maxBatchSize"`
	AllowedMIMETypes []string `mapstructure:"allowedMimeTypes"`
}

func DefaultIngestLimits() IngestLimits {
	return IngestLimits{
		MaxFileSizeMB:    50,
		DefaultBatchSize: 5000,
		MinBatchSize:     100,
		MaxBatchSize:     50000,
		AllowedMIMETypes: []string{
			"text/csv",
			"application/csv",
			"application/vnd.ms-excel",
			"text/plain",
			"application/octet-stream",
		},
	}
}

// MaxFileSizeBytes returns the upload size cap in bytes.
func (l IngestLimits) MaxFileSizeBytes() int64 {
	return int64(l.MaxFileSizeMB) * 1024 * 1024
}

// MIMEAllowed reports whether the given content type may be uploaded.
// An empty content type is accepted; browsers do not always send one.
func (l IngestLimits) MIMEAllowed(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "" {
		return true
	}
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	for _, allowed := range l.AllowedMIMETypes {
		if contentType == strings.ToLower(strings.TrimSpace(allowed)) {
			return true
		}
	}
	return false
}

// ClampBatchSize forces a requested batch size into the configured bounds,
// falling back to the default when the request is zero.
func (l IngestLimits) ClampBatchSize(requested int) int {
	if requested == 0 {
		return l.DefaultBatchSize
	}
	if requested < l.MinBatchSize {
		return l.MinBatchSize
	}
	if requested > l.MaxBatchSize {
		return l.MaxBatchSize
	}
	return requested
}

// IngestLimitsHolder serves the current limits and hot-reloads them from
// ingest.yml when the file changes.
type IngestLimitsHolder struct {
	current atomic.Value // holds IngestLimits
}

func NewIngestLimitsHolder() (*IngestLimitsHolder, error) {
	v := viper.New()

	v.SetConfigName("ingest")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/netpulse/config")
	v.AddConfigPath("/etc/netpulse")
	v.AddConfigPath(".")

	v.SetEnvPrefix("NETPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultIngestLimits()
	v.SetDefault("ingest.maxFileSizeMB", defaults.MaxFileSizeMB)
	v.SetDefault("ingest.defaultBatchSize", defaults.DefaultBatchSize)
	v.SetDefault("ingest.minBatchSize", defaults.MinBatchSize)
	v.SetDefault("ingest.maxBatchSize", defaults.MaxBatchSize)
	v.SetDefault("ingest.allowedMimeTypes", defaults.AllowedMIMETypes)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var limits IngestLimits
	if err := v.UnmarshalKey("ingest", &limits); err != nil {
		return nil, err
	}
	if err := validateIngestLimits(limits); err != nil {
		return nil, err
	}

	holder := &IngestLimitsHolder{}
	holder.current.Store(limits)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated IngestLimits
		if err := v.UnmarshalKey("ingest", &updated); err != nil {
			log.Printf("[ingest-config] reload failed: %v", err)
			return
		}
		if err := validateIngestLimits(updated); err != nil {
			log.Printf("[ingest-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[ingest-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticIngestLimitsHolder returns a holder pinned to the given limits
// with no file watching. Intended for tests.
func NewStaticIngestLimitsHolder(limits IngestLimits) *IngestLimitsHolder {
	holder := &IngestLimitsHolder{}
	holder.current.Store(limits)
	return holder
}

func (h *IngestLimitsHolder) Current() IngestLimits {
	return h.current.Load().(IngestLimits)
}

func validateIngestLimits(limits IngestLimits) error {
	if limits.MaxFileSizeMB <= 0 {
		return errors.New("ingest.maxFileSizeMB must be positive")
	}
	if limits.MinBatchSize <= 0 || limits.MaxBatchSize < limits.MinBatchSize {
		return errors.New("ingest batch size bounds are invalid")
	}
	if limits.DefaultBatchSize < limits.MinBatchSize || limits.DefaultBatchSize > limits.MaxBatchSize {
		return errors.New("ingest.defaultBatchSize outside configured bounds")
	}
	return nil
}
