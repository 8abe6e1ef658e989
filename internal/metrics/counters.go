// Package metrics implements the lock-free counter block the transports
// update after every decision. Each field is an independent atomic
// counter -- values are eventually consistent across goroutines, not a
// point-in-time snapshot across fields.
package metrics

import "sync/atomic"

// Counters holds the five running totals sampled by an external
// reporter.
type Counters struct {
	requests       atomic.Uint64
	forwarded      atomic.Uint64
	cached         atomic.Uint64
	blocked        atomic.Uint64
	responseMicros atomic.Uint64
}

// Snapshot holds the values read by one SnapshotAndReset call (each field
// read on its own, not as one consistent instant), with average response
// time derived from the cumulative total and the request count read.
type Snapshot struct {
	Requests      uint64
	Forwarded     uint64
	Cached        uint64
	Blocked       uint64
	AvgResponseMs float64
}

// New creates a zeroed Counters block.
func New() *Counters {
	return &Counters{}
}

// AddRequest records one incoming query.
func (c *Counters) AddRequest() { c.requests.Add(1) }

// AddForwarded records one forwarded query that received an upstream
// reply, along with its end-to-end latency.
func (c *Counters) AddForwarded(elapsed uint64) {
	c.forwarded.Add(1)
	c.responseMicros.Add(elapsed)
}

// AddCached records one query answered from the cache, along with its
// end-to-end latency.
func (c *Counters) AddCached(elapsed uint64) {
	c.cached.Add(1)
	c.responseMicros.Add(elapsed)
}

// AddBlocked records one query answered with a sinkhole response, along
// with its end-to-end latency.
func (c *Counters) AddBlocked(elapsed uint64) {
	c.blocked.Add(1)
	c.responseMicros.Add(elapsed)
}

// SnapshotAndReset atomically reads and zeroes all five fields. Exact
// cross-field consistency (e.g. requests == forwarded+cached+blocked at
// the instant of the read) is not guaranteed under concurrent updates.
func (c *Counters) SnapshotAndReset() Snapshot {
	requests := c.requests.Swap(0)
	forwarded := c.forwarded.Swap(0)
	cached := c.cached.Swap(0)
	blocked := c.blocked.Swap(0)
	micros := c.responseMicros.Swap(0)

	var avgMs float64
	if requests > 0 {
		avgMs = float64(micros) / float64(requests) / 1000.0
	}

	return Snapshot{
		Requests:      requests,
		Forwarded:     forwarded,
		Cached:        cached,
		Blocked:       blocked,
		AvgResponseMs: avgMs,
	}
}
