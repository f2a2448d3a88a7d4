package cache

import "time"

const (
	defaultReferenceTTL = 30 * time.Second
	latestStartTimeKey  = "latest_start_time"
)

// ReferenceCache stores the latest record start time, which anchors every
// query that arrives without an explicit reference date. Ingestion
// invalidates it so a fresh dataset is visible immediately.
type ReferenceCache interface {
	GetLatestStartTime() (time.Time, bool)
	SetLatestStartTime(t time.Time)
	Invalidate()
}

type referenceCache struct {
	inner Cache[string, time.Time]
	ttl   time.Duration
}

func NewReferenceCache() ReferenceCache {
	return &referenceCache{
		inner: NewTTLCache[string, time.Time](),
		ttl:   defaultReferenceTTL,
	}
}

func (c *referenceCache) GetLatestStartTime() (time.Time, bool) {
	return c.inner.Get(latestStartTimeKey)
}

func (c *referenceCache) SetLatestStartTime(t time.Time) {
	if t.IsZero() {
		return
	}
	c.inner.Set(latestStartTimeKey, t, c.ttl)
}

func (c *referenceCache) Invalidate() {
	c.inner.Delete(latestStartTimeKey)
}
