package bucketing

import (
	"fmt"
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"wardwatch/internal/config"
)

// BucketingManager assigns events to search-index buckets. Indices are
// sharded by device so one noisy camera cannot bloat every index, and
// suffixed by date so retention can drop whole indices.
type BucketingManager struct {
	deviceBuckets int
	hasherPool    sync.Pool
	config        *config.Config
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		deviceBuckets: cfg.Bucketing.DeviceBuckets,
		config:        cfg,
	}
	if bm.deviceBuckets <= 0 {
		bm.deviceBuckets = 1
	}

	// Pool of hash functions to avoid per-call allocation
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

// GetDeviceBucket returns a consistent bucket for a camera id
// (0 to deviceBuckets-1)
func (bm *BucketingManager) GetDeviceBucket(cctvID string) int {
	return int(bm.getHash(cctvID) % uint64(bm.deviceBuckets))
}

// GetDateBucket returns the date suffix for index naming
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// IndexName builds the full index name for an event
func (bm *BucketingManager) IndexName(prefix, cctvID string, occurredAt time.Time) string {
	return fmt.Sprintf("%s-%d-%s", prefix, bm.GetDeviceBucket(cctvID), bm.GetDateBucket(occurredAt))
}

// IndexPattern matches every bucket of the prefix, for searches
func (bm *BucketingManager) IndexPattern(prefix string) string {
	return prefix + "-*"
}

// GetDeviceBuckets returns the configured bucket count
func (bm *BucketingManager) GetDeviceBuckets() int {
	return bm.deviceBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
