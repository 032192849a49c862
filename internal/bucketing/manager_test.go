package bucketing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"wardwatch/internal/bucketing"
	"wardwatch/internal/config"
)

func newManager(buckets int) *bucketing.BucketingManager {
	cfg := &config.Config{}
	cfg.Bucketing.DeviceBuckets = buckets
	return bucketing.NewBucketingManager(cfg)
}

func TestGetDeviceBucket_ConsistentAndBounded(t *testing.T) {
	bm := newManager(4)

	first := bm.GetDeviceBucket("cam-a")
	for i := 0; i < 50; i++ {
		b := bm.GetDeviceBucket("cam-a")
		assert.Equal(t, first, b)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 4)
	}
}

func TestIndexName(t *testing.T) {
	bm := newManager(1)
	at := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)

	assert.Equal(t, "wardwatch-events-0-2026-08", bm.IndexName("wardwatch-events", "cam-a", at))
	assert.Equal(t, "wardwatch-events-*", bm.IndexPattern("wardwatch-events"))
}

func TestZeroBucketsFallsBackToOne(t *testing.T) {
	bm := newManager(0)
	assert.Equal(t, 1, bm.GetDeviceBuckets())
	assert.Equal(t, 0, bm.GetDeviceBucket("anything"))
}
