package pool

import (
	"strconv"
	"sync/atomic"

	"github.com/spindleworks/spindle/internal/engine"
	"github.com/spindleworks/spindle/internal/profile"
)

// Entry pairs a running pool with its selection state and counters.
type Entry struct {
	name     string
	taskID   string
	pool     engine.Pool
	prof     *profile.Profile
	poolSize int // -1 for a single-instance pool
	index    atomic.Int64
	counters *Counters
}

func newEntry(name, taskID string, p engine.Pool, prof *profile.Profile, poolSize int) *Entry {
	return &Entry{
		name:     name,
		taskID:   taskID,
		pool:     p,
		prof:     prof,
		poolSize: poolSize,
		counters: NewCounters(),
	}
}

// Name returns the application name.
func (e *Entry) Name() string { return e.name }

// Pool returns the underlying worker pool.
func (e *Entry) Pool() engine.Pool { return e.pool }

// Counters returns the entry's dispatch counters.
func (e *Entry) Counters() *Counters { return e.counters }

// Index picks the worker instance for a dispatch. For single-instance pools
// it returns -1. A source key of -1 means the caller did not pin an instance,
// so the round-robin cursor advances; otherwise the key selects the instance
// directly.
func (e *Entry) Index(srcKey int32) int {
	if e.poolSize <= 0 {
		return -1
	}
	if srcKey == -1 {
		return int(e.index.Add(1) % int64(e.poolSize))
	}
	return int(int64(srcKey) % int64(e.poolSize))
}

// InstanceName names the worker instance at index i, matching the naming the
// workers themselves register under.
func (e *Entry) InstanceName(i int) string {
	if i < 0 {
		return ""
	}
	return e.taskID + "-" + e.name + "-" + strconv.Itoa(i)
}
